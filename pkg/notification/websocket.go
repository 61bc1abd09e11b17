package notification

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// WebSocket implements the web-socket notification mode: a one-time
// enable PUT followed by a single listener task with a reconnect
// sequence (disconnect, join, GC, restart) — the shape follows
// kubeedge's edge/pkg/edgehub/edgehub.go reconnect loop (spec.md §4.3
// "Web-socket mode").
type WebSocket struct {
	http    httpclient.Client
	baseURL string
	apiKey  string
	wsURL   string
	dialer  *websocket.Dialer
	sink    Sink

	mu      sync.Mutex
	conn    *websocket.Conn
	dedup   Dedup
	stopped bool
	done    chan struct{}
}

// NewWebSocket builds a WebSocket listener. wsURL is the source
// cloud's websocket endpoint to dial after the enable PUT succeeds.
func NewWebSocket(http httpclient.Client, baseURL, apiKey, wsURL string, sink Sink) *WebSocket {
	return &WebSocket{http: http, baseURL: baseURL, apiKey: apiKey, wsURL: wsURL, dialer: websocket.DefaultDialer, sink: sink}
}

// Start PUTs /notification/websocket once, then connects and runs the
// listener loop in a new goroutine.
func (w *WebSocket) Start() error {
	resp, err := w.http.Put(w.baseURL+"/notification/websocket", nil, "application/json", w.apiKey)
	if err != nil {
		return fmt.Errorf("enable websocket channel: %w", err)
	}
	if resp.Status/100 != 2 {
		return fmt.Errorf("enable websocket channel: unexpected status %d", resp.Status)
	}
	return w.connectAndListen()
}

func (w *WebSocket) connectAndListen() error {
	conn, _, err := w.dialer.Dial(w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.stopped = false
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.listen(conn, w.done)
	return nil
}

func (w *WebSocket) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			stopped := w.stopped
			w.mu.Unlock()
			if !stopped {
				klog.Warningf("websocket read failed, reconnecting: %v", err)
				go w.reconnect()
			}
			return
		}
		w.dedup.Decode(body, w.sink)
	}
}

// reconnect disconnects the current socket, joins the old listener
// task, garbage-collects it, and starts a new one (spec.md §4.3).
func (w *WebSocket) reconnect() {
	w.mu.Lock()
	conn := w.conn
	done := w.done
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	w.mu.Lock()
	w.conn = nil
	w.mu.Unlock()

	if err := w.connectAndListen(); err != nil {
		klog.Errorf("websocket reconnect failed: %v", err)
	}
}

// Stop halts the listener and closes the socket.
func (w *WebSocket) Stop() {
	w.mu.Lock()
	w.stopped = true
	conn := w.conn
	done := w.done
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}
