// Package mqttsession implements the per-device MQTT session
// abstraction (C1), grounded on kubeedge's
// edge/pkg/eventbus/mqtt/client.go paho wiring (OnConnect,
// OnConnectionLost callbacks, subscribe-on-connect).
package mqttsession

import (
	"crypto/tls"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"
)

// Topic pairs an MQTT topic filter with its subscription QoS.
type Topic struct {
	Name string
	QoS  byte
}

// ReceiveFunc is invoked once per inbound message, serially per
// session (spec.md §4.1: "a single dedicated task per session").
type ReceiveFunc func(topic string, payload []byte)

// Session is the per-device MQTT transport handle.
type Session interface {
	Connect(host string, port int, clientID string, cleanSession bool) bool
	Subscribe(topics []Topic) bool
	Unsubscribe(topics []string)
	SendMessage(topic string, body []byte, qos byte) bool
	Disconnect(hard bool)
	IsConnected() bool
	SetOnReceiveListener(cb ReceiveFunc)
}

// Preferences configures TLS and credentials before Connect.
type Preferences struct {
	UseSSL                bool
	NoSelfSignedCertsOrKeys bool
	Username              string
	Password              string
}

// ErrorSink receives session-level errors that would otherwise have no
// caller to return to (spec.md §7: "no exception escapes a worker").
type ErrorSink func(err error)

type session struct {
	prefs   Preferences
	sink    ErrorSink
	cli     MQTT.Client
	onRecv  ReceiveFunc
	options *MQTT.ClientOptions
}

// New constructs an MQTT session with the given error sink and
// preferences. Connect must be called before use.
func New(prefs Preferences, sink ErrorSink) Session {
	if sink == nil {
		sink = func(err error) { klog.Warningf("mqttsession: %v", err) }
	}
	return &session{prefs: prefs, sink: sink}
}

func (s *session) Connect(host string, port int, clientID string, cleanSession bool) bool {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", host, port))
	opts.SetClientID(clientID)
	opts.SetCleanSession(cleanSession)
	opts.SetAutoReconnect(false)
	opts.SetUsername(s.prefs.Username)
	opts.SetPassword(s.prefs.Password)
	if s.prefs.UseSSL {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: s.prefs.NoSelfSignedCertsOrKeys})
	}
	opts.SetOnConnectHandler(func(c MQTT.Client) {
		klog.Infof("mqttsession %s connected", clientID)
	})
	opts.SetConnectionLostHandler(func(c MQTT.Client, err error) {
		s.sink(fmt.Errorf("session %s lost connection: %w", clientID, err))
	})
	opts.SetDefaultPublishHandler(func(c MQTT.Client, m MQTT.Message) {
		if s.onRecv != nil {
			s.onRecv(m.Topic(), m.Payload())
		}
	})
	s.options = opts
	s.cli = MQTT.NewClient(opts)

	token := s.cli.Connect()
	if token.WaitTimeout(30*time.Second) && token.Error() != nil {
		s.sink(fmt.Errorf("session %s connect failed: %w", clientID, token.Error()))
		return false
	}
	return s.cli.IsConnected()
}

func (s *session) SetOnReceiveListener(cb ReceiveFunc) {
	s.onRecv = cb
}

func (s *session) Subscribe(topics []Topic) bool {
	if s.cli == nil {
		return false
	}
	for _, t := range topics {
		token := s.cli.Subscribe(t.Name, t.QoS, func(c MQTT.Client, m MQTT.Message) {
			if s.onRecv != nil {
				s.onRecv(m.Topic(), m.Payload())
			}
		})
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			s.sink(fmt.Errorf("subscribe %s failed: %w", t.Name, token.Error()))
			return false
		}
	}
	return true
}

func (s *session) Unsubscribe(topics []string) {
	if s.cli == nil || len(topics) == 0 {
		return
	}
	token := s.cli.Unsubscribe(topics...)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		// best-effort per spec.md §4.6 "unsubscribe all topics (best-effort)"
		klog.Warningf("unsubscribe %v failed: %v", topics, token.Error())
	}
}

func (s *session) SendMessage(topic string, body []byte, qos byte) bool {
	if s.cli == nil || !s.cli.IsConnected() {
		return false
	}
	token := s.cli.Publish(topic, qos, false, body)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		s.sink(fmt.Errorf("publish %s failed: %w", topic, token.Error()))
		return false
	}
	return true
}

func (s *session) Disconnect(hard bool) {
	if s.cli == nil {
		return
	}
	quiesce := uint(250)
	if hard {
		quiesce = 0
	}
	s.cli.Disconnect(quiesce)
}

func (s *session) IsConnected() bool {
	return s.cli != nil && s.cli.IsConnected()
}
