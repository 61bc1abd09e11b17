package notification

import (
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// LongPoll implements the long-poll notification mode: a single task
// repeatedly GETs a long-poll URL, feeding each returned payload into
// the shared decode/dispatch path (spec.md §4.3 "Long-poll mode").
type LongPoll struct {
	http     httpclient.Client
	url      string
	apiKey   string
	interval time.Duration
	dedup    Dedup
	sink     Sink
	stopCh   chan struct{}
}

// NewLongPoll builds a LongPoll poller. interval is the delay between
// successive GETs (not mandated by spec.md; defaults to one second).
func NewLongPoll(http httpclient.Client, url, apiKey string, interval time.Duration, sink Sink) *LongPoll {
	if interval <= 0 {
		interval = time.Second
	}
	return &LongPoll{http: http, url: url, apiKey: apiKey, interval: interval, sink: sink, stopCh: make(chan struct{})}
}

// Start runs the poll loop until Stop is called.
func (l *LongPoll) Start() {
	go wait.Until(l.pollOnce, l.interval, l.stopCh)
}

func (l *LongPoll) pollOnce() {
	resp, err := l.http.Get(l.url, l.apiKey)
	if err != nil {
		klog.Warningf("long-poll GET failed: %v", err)
		return
	}
	if resp.Status != 200 || len(resp.Body) == 0 {
		return
	}
	l.dedup.Decode(resp.Body, l.sink)
}

// Stop halts the poll loop.
func (l *LongPoll) Stop() {
	close(l.stopCh)
}
