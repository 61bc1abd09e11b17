// Package notification implements the notification channel (C3): one
// of {webhook receiver, long-poll loop, web-socket listener}, all
// sharing a single decode/dispatch/duplicate-suppression core. The
// three-mode-behind-one-interface shape, and the reconnect-loop style
// used by the long-poll and websocket workers, follow kubeedge's
// edge/pkg/edgehub/edgehub.go Start method (select on a stop channel
// around a reconnecting transport loop).
package notification

import (
	"bytes"
	"encoding/json"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/events"
)

// rawBody mirrors the wire shape of one notification body (spec.md
// §3 "Notification event").
type rawBody struct {
	Notifications       []rawNotification `json:"notifications"`
	Registrations       []rawDevice       `json:"registrations"`
	RegUpdates          []rawDevice       `json:"reg-updates"`
	DeRegistrations     []string          `json:"de-registrations"`
	RegistrationsExpired []string         `json:"registrations-expired"`
	AsyncResponses       []rawAsync       `json:"async-responses"`
}

type rawNotification struct {
	ID         string `json:"ep"`
	Path       string `json:"path"`
	PayloadB64 string `json:"payload"`
	CT         string `json:"ct"`
}

type rawDevice struct {
	ID   string    `json:"ep"`
	Type string    `json:"ept"`
	Res  []rawRes  `json:"resources"`
}

type rawRes struct {
	Path string `json:"path"`
	RT   string `json:"rt"`
	Obs  bool   `json:"obs"`
	Type string `json:"type"`
}

type rawAsync struct {
	ID         string `json:"id"`
	Status     int    `json:"status"`
	PayloadB64 string `json:"payload"`
}

// hasLifecycleKey reports whether raw carries any of the keys whose
// presence makes a byte-identical repeat body a duplicate to drop (spec.md §4.3 "Duplicate
// suppression"); telemetry-only ("notifications") duplicates are
// never dropped.
func hasLifecycleKey(raw rawBody) bool {
	return len(raw.DeRegistrations) > 0 || len(raw.RegistrationsExpired) > 0 ||
		len(raw.Registrations) > 0 || len(raw.RegUpdates) > 0
}

// Sink is the orchestrator-facing callback invoked once per decoded
// event, in dispatch order (spec.md §4.3 "Dispatch").
type Sink func(evt events.Event)

// Dedup remembers the last raw body seen so that a byte-identical
// repeat carrying a lifecycle key can be suppressed (spec.md §4.3).
type Dedup struct {
	lastBody []byte
}

// Decode parses body into the notification sum type and, unless it is
// a suppressed duplicate, calls sink once per populated key in the
// fixed dispatch order. Returns false if the body was dropped as a
// duplicate or failed to parse.
func (d *Dedup) Decode(body []byte, sink Sink) bool {
	var raw rawBody
	if err := json.Unmarshal(body, &raw); err != nil {
		klog.Warningf("notification body decode failed: %v", err)
		return false
	}

	if hasLifecycleKey(raw) && bytes.Equal(body, d.lastBody) {
		klog.V(4).Info("dropping duplicate notification body")
		return false
	}
	d.lastBody = append([]byte(nil), body...)

	if len(raw.Notifications) > 0 {
		sink(events.Event{Kind: events.KindNotification, Notifications: toNotificationEntries(raw.Notifications)})
	}
	if len(raw.Registrations) > 0 {
		sink(events.Event{Kind: events.KindRegistration, Devices: toRegisteredDevices(raw.Registrations)})
	}
	if len(raw.RegUpdates) > 0 {
		sink(events.Event{Kind: events.KindReRegistration, Devices: toRegisteredDevices(raw.RegUpdates)})
	}
	if len(raw.DeRegistrations) > 0 {
		sink(events.Event{Kind: events.KindDeregistration, DeviceIDs: raw.DeRegistrations})
	}
	if len(raw.RegistrationsExpired) > 0 {
		sink(events.Event{Kind: events.KindRegistrationsExpired, DeviceIDs: raw.RegistrationsExpired})
	}
	if len(raw.AsyncResponses) > 0 {
		sink(events.Event{Kind: events.KindAsyncResponse, AsyncResponses: toAsyncResponseEntries(raw.AsyncResponses)})
	}
	return true
}

func toNotificationEntries(in []rawNotification) []events.NotificationEntry {
	out := make([]events.NotificationEntry, 0, len(in))
	for _, n := range in {
		out = append(out, events.NotificationEntry{DeviceID: n.ID, Path: n.Path, PayloadB64: n.PayloadB64, CT: n.CT})
	}
	return out
}

func toRegisteredDevices(in []rawDevice) []events.RegisteredDevice {
	out := make([]events.RegisteredDevice, 0, len(in))
	for _, d := range in {
		res := make([]events.ResourceDesc, 0, len(d.Res))
		for _, r := range d.Res {
			res = append(res, events.ResourceDesc{Path: r.Path, RT: r.RT, Obs: r.Obs, Type: r.Type})
		}
		out = append(out, events.RegisteredDevice{DeviceID: d.ID, EndpointType: d.Type, Resources: res})
	}
	return out
}

func toAsyncResponseEntries(in []rawAsync) []events.AsyncResponseEntry {
	out := make([]events.AsyncResponseEntry, 0, len(in))
	for _, a := range in {
		out = append(out, events.AsyncResponseEntry{AsyncID: a.ID, Status: a.Status, PayloadB64: a.PayloadB64})
	}
	return out
}
