package notification

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// Channel is the running notification channel, regardless of mode.
type Channel struct {
	mode     config.NotificationType
	webhook  *Webhook
	longPoll *LongPoll
	webSock  *WebSocket
}

// Start selects the channel's mode per config.ResolveNotificationType
// and starts it (spec.md §4.3 "Only one mode runs at a time").
// callbackURL is the bridge's own externally-reachable address for
// webhook mode; wsURL is the source cloud's websocket endpoint that
// websocket mode dials.
func Start(sc config.SourceCloud, http httpclient.Client, callbackURL, authSecret, wsURL string, sink Sink, reset Resetter) (*Channel, error) {
	mode := config.ResolveNotificationType(sc)
	ch := &Channel{mode: mode}
	baseURL := fmt.Sprintf("https://%s:%d", sc.APIEndpointAddress, sc.APIPort)

	switch mode {
	case config.NotificationWebSocket:
		ch.webSock = NewWebSocket(http, baseURL, sc.APIKey, wsURL, sink)
		if err := ch.webSock.Start(); err != nil {
			return nil, err
		}
	case config.NotificationPoll:
		ch.longPoll = NewLongPoll(http, sc.LongPollURI, sc.APIKey, time.Second, sink)
		ch.longPoll.Start()
	default:
		setup := WebhookSetup{HTTP: http, BaseURL: baseURL, APIKey: sc.APIKey}
		ch.webhook = NewWebhook(setup, callbackURL, authSecret, sc.WebhookNumRetries, time.Second, sc.SkipValidationChecks, sink, reset)
		if err := ch.webhook.Establish(); err != nil {
			return nil, err
		}
	}
	klog.Infof("notification channel started in %s mode", mode)
	return ch, nil
}

// Webhook returns the underlying *Webhook, or nil if the channel is
// not running in webhook mode (used by the composition root to mount
// its HTTP route).
func (c *Channel) Webhook() *Webhook { return c.webhook }

// Stop tears the running mode down.
func (c *Channel) Stop() {
	if c.webSock != nil {
		c.webSock.Stop()
	}
	if c.longPoll != nil {
		c.longPoll.Stop()
	}
}
