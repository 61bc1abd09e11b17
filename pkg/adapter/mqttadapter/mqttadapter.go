package mqttadapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/adapter"
	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
	"github.com/kubeedge/shadow-bridge/pkg/attributes"
	"github.com/kubeedge/shadow-bridge/pkg/credential"
	"github.com/kubeedge/shadow-bridge/pkg/endpointtype"
	"github.com/kubeedge/shadow-bridge/pkg/events"
	"github.com/kubeedge/shadow-bridge/pkg/mqttsession"
	"github.com/kubeedge/shadow-bridge/pkg/shadow"
	"github.com/kubeedge/shadow-bridge/pkg/sourcecloud"
)

// SessionFactory builds a fresh, unconnected MQTT session. Tests
// substitute a fake to avoid a real paho connection.
type SessionFactory func(prefs mqttsession.Preferences, sink mqttsession.ErrorSink) mqttsession.Session

// Adapter is the MQTT/IoT-Hub peer adapter (C9 exemplar). One
// instance exists per configured peer.
type Adapter struct {
	name      string
	cfg       config.Peer
	sourceCfg config.SourceCloud
	prefixer  adapter.Prefixer

	shadows      *shadow.Table
	types        *endpointtype.Registry
	cred         *credential.Service
	source       *sourcecloud.Client
	correlations *adapter.CorrelationTable
	dispatcher   *attributes.Dispatcher
	newSession   SessionFactory

	mu      sync.Mutex
	pending map[string]*adapter.Device
}

// New builds an Adapter for one configured peer. source is the shared
// C4 client; cred is this peer's credential service.
func New(name string, cfg config.Peer, sourceCfg config.SourceCloud, cred *credential.Service, source *sourcecloud.Client) *Adapter {
	a := &Adapter{
		name:         name,
		cfg:          cfg,
		sourceCfg:    sourceCfg,
		prefixer:     adapter.NewPrefixer(adapter.PrefixPolicy{Enabled: cfg.EnableDeviceIDPrefix, Prefix: cfg.DeviceIDPrefix, Separator: cfg.DeviceIDPrefixSeparator}),
		types:        endpointtype.New(),
		cred:         cred,
		source:       source,
		correlations: adapter.NewCorrelationTable(),
		newSession:   mqttsession.New,
		pending:      make(map[string]*adapter.Device),
	}
	a.shadows = shadow.New(cfg.MaxShadows, a.disposeSession)
	a.dispatcher = attributes.New(source, sourceCfg.AttributeURIList, a.completeNewDeviceRegistration)
	return a
}

// Name identifies the adapter for orchestrator routing/logging.
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) disposeSession(name string, s shadow.Session) {
	if s.ListenerStop != nil {
		s.ListenerStop()
	}
	sess, ok := s.TransportHandle.(mqttsession.Session)
	if !ok || sess == nil {
		return
	}
	sess.Unsubscribe(s.Topics)
	sess.Disconnect(true)
}

// mqttUsername builds the per-device MQTT username per spec.md §4.8
// "MQTT credentials", grounded on IoTHubProcessor's
// __IOT_EVENT_HUB__/__EPNAME__ substitution.
func (a *Adapter) mqttUsername(prefixedName string) string {
	r := strings.NewReplacer("__IOT_EVENT_HUB__", a.cfg.HubName, "__EPNAME__", prefixedName)
	username := r.Replace(a.cfg.MQTTUsernameTemplate)
	if a.cfg.VersionTag != "" {
		username += "/" + a.cfg.VersionTag
	}
	return username
}

// RegisterNewDevice creates the peer-side shadow identity and a
// validated MQTT session for device (spec.md §4.8).
func (a *Adapter) RegisterNewDevice(device *adapter.Device) bool {
	prefixedName := a.prefixer.AddPrefix(device.DeviceID)

	prefs := mqttsession.Preferences{
		UseSSL:   true,
		Username: a.mqttUsername(prefixedName),
		Password: a.cred.Current().Value,
	}
	sess := a.newSession(prefs, func(err error) {
		klog.Warningf("mqttadapter %s: session error for %s: %v", a.name, prefixedName, err)
	})

	if !sess.Connect(a.cfg.MQTTIPAddress, a.cfg.MQTTPort, prefixedName, true) {
		klog.Warningf("mqttadapter %s: connect failed for %s", a.name, prefixedName)
		return false
	}
	sess.SetOnReceiveListener(func(topic string, payload []byte) {
		a.onMessageReceive(prefixedName, topic, payload)
	})

	topics := []mqttsession.Topic{
		{Name: commandTopic(a.cfg.CoapCmdTopicTemplate, prefixedName), QoS: 1},
		{Name: digitalTwinTopic, QoS: 1},
	}
	if !sess.Subscribe(topics) {
		sess.Disconnect(true)
		return false
	}

	added := a.shadows.AddSession(prefixedName, shadow.Session{
		PrefixedName:    prefixedName,
		EndpointType:    device.EndpointType,
		TransportHandle: sess,
		Topics:          []string{topics[0].Name, topics[1].Name},
	})
	if !added {
		sess.Disconnect(true)
		return false
	}
	a.types.Set(device.DeviceID, device.EndpointType, a.sourceCfg.DefaultEndpointType)
	return true
}

// DeleteDevice stops the listener, disconnects, removes the peer-side
// shadow, and clears the device's endpoint type (spec.md §4.8).
func (a *Adapter) DeleteDevice(deviceID string) bool {
	prefixedName := a.prefixer.AddPrefix(deviceID)
	a.shadows.RemoveSession(prefixedName)
	a.types.Delete(deviceID)
	return true
}

func (a *Adapter) sessionFor(prefixedName string) (mqttsession.Session, bool) {
	s, ok := a.shadows.Get(prefixedName)
	if !ok {
		return nil, false
	}
	sess, ok := s.TransportHandle.(mqttsession.Session)
	return sess, ok
}

// ProcessNotification publishes each telemetry entry to its device's
// observation topic (spec.md §4.8).
func (a *Adapter) ProcessNotification(evt events.Event) {
	for _, n := range evt.Notifications {
		prefixedName := a.prefixer.AddPrefix(n.DeviceID)
		sess, ok := a.sessionFor(prefixedName)
		if !ok {
			continue
		}
		envelope, err := json.Marshal(map[string]string{
			"ep": n.DeviceID, "path": n.Path, "payload": n.PayloadB64, "ct": n.CT,
		})
		if err != nil {
			klog.Warningf("mqttadapter %s: encode notification for %s failed: %v", a.name, n.DeviceID, err)
			continue
		}
		topic := observationTopic(a.cfg.ObserveNotificationTopicTemplate, prefixedName)
		sess.SendMessage(topic, envelope, 0)
	}
}

func toResources(in []events.ResourceDesc) []adapter.Resource {
	out := make([]adapter.Resource, 0, len(in))
	for _, r := range in {
		out = append(out, adapter.Resource{Path: r.Path, RT: r.RT, Obs: r.Obs, Type: r.Type})
	}
	return out
}

// ProcessNewRegistration triggers attribute retrieval for each device
// under the shadow cap; completion invokes completeNewDeviceRegistration
// (spec.md §4.8).
func (a *Adapter) ProcessNewRegistration(evt events.Event) {
	for _, d := range evt.Devices {
		if a.shadows.AtCapacity() {
			klog.Warningf("mqttadapter %s: shadow table at capacity, skipping %s", a.name, d.DeviceID)
			continue
		}
		device := &adapter.Device{DeviceID: d.DeviceID, EndpointType: d.EndpointType, Resources: toResources(d.Resources)}
		a.mu.Lock()
		a.pending[d.DeviceID] = device
		a.mu.Unlock()

		if !device.HasDeviceInfo() {
			a.completeNewDeviceRegistration(d.DeviceID, nil)
			continue
		}
		a.dispatcher.Retrieve(d.DeviceID)
	}
}

// ProcessReRegistration is handled identically to new registration
// (spec.md §4.8).
func (a *Adapter) ProcessReRegistration(evt events.Event) {
	a.ProcessNewRegistration(evt)
}

func (a *Adapter) teardownOrDisconnect(deviceIDs []string) {
	for _, id := range deviceIDs {
		if a.sourceCfg.RemoveOnDeregistration {
			a.DeleteDevice(id)
			continue
		}
		prefixedName := a.prefixer.AddPrefix(id)
		if sess, ok := a.sessionFor(prefixedName); ok {
			sess.Disconnect(true)
		}
	}
}

// ProcessDeregistrations applies the de-registration policy
// (spec.md §4.8).
func (a *Adapter) ProcessDeregistrations(evt events.Event) {
	a.teardownOrDisconnect(evt.DeviceIDs)
}

// ProcessRegistrationsExpired is handled identically to
// deregistration (spec.md §4.8).
func (a *Adapter) ProcessRegistrationsExpired(evt events.Event) {
	a.teardownOrDisconnect(evt.DeviceIDs)
}

// ProcessDeviceDeletions unconditionally tears the shadow down
// (spec.md §4.8).
func (a *Adapter) ProcessDeviceDeletions(deviceIDs []string) {
	for _, id := range deviceIDs {
		a.DeleteDevice(id)
	}
}

func splitDeviceURI(uri string) (deviceID, rest string) {
	trimmed := strings.TrimPrefix(uri, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], "/" + parts[1]
}

// ProcessApiRequestOperation forwards a peer-originated API request to
// the source cloud (spec.md §4.8).
func (a *Adapter) ProcessApiRequestOperation(uri string, body []byte, options string, verb, requestID, apiKey, caller, contentType string) adapter.ApiResponse {
	deviceID, rest := splitDeviceURI(uri)
	status, respBody, err := a.source.DeviceRequest(strings.ToUpper(verb), deviceID, rest, options, base64.StdEncoding.EncodeToString(body))
	if err != nil {
		klog.Warningf("mqttadapter %s: api request %s %s failed: %v", a.name, verb, uri, err)
		return adapter.ApiResponse{Status: 500, Body: err.Error()}
	}
	return adapter.ApiResponse{Status: status, Body: string(respBody)}
}

var coapMethod = map[adapter.CoapVerb]string{
	adapter.CoapGet:    "GET",
	adapter.CoapPut:    "PUT",
	adapter.CoapPost:   "POST",
	adapter.CoapDelete: "DELETE",
}

// ProcessEndpointResourceOperation forwards a CoAP verb to the source
// cloud via C4 (spec.md §4.8).
func (a *Adapter) ProcessEndpointResourceOperation(verb adapter.CoapVerb, deviceID, uri, value, options string) string {
	method, ok := coapMethod[verb]
	if !ok {
		method = "GET"
	}
	payloadB64 := base64.StdEncoding.EncodeToString([]byte(value))
	_, body, err := a.source.DeviceRequest(method, deviceID, uri, options, payloadB64)
	if err != nil {
		klog.Warningf("mqttadapter %s: device request %s %s%s failed: %v", a.name, method, deviceID, uri, err)
		return ""
	}
	return string(body)
}

// completeNewDeviceRegistration is invoked by the attribute dispatcher
// once retrieval finishes (or immediately, for devices lacking /3/0),
// and finally performs the peer-side registration (spec.md §4.5,
// §4.8 "processNewRegistration").
func (a *Adapter) completeNewDeviceRegistration(deviceID string, meta map[string]string) {
	a.mu.Lock()
	device, ok := a.pending[deviceID]
	delete(a.pending, deviceID)
	a.mu.Unlock()

	if !ok {
		device = &adapter.Device{DeviceID: deviceID}
	}
	if meta != nil {
		device.Meta = meta
	}
	a.RegisterNewDevice(device)
}

// twinPatchAck publishes the digital-twin PATCH acknowledgement
// IoTHubProcessor.java issues on receipt of a twin notification
// (SPEC_FULL.md SUPPLEMENTED FEATURES "Digital-twin PATCH ack").
func (a *Adapter) twinPatchAck(sess mqttsession.Session, rid string) bool {
	topic := fmt.Sprintf("$iothub/twin/PATCH/properties/reported/?$rid=%s", rid)
	body, _ := json.Marshal(map[string]interface{}{})
	return sess.SendMessage(topic, body, 1)
}

func (a *Adapter) handleDigitalTwin(prefixedName, topic string, payload []byte) {
	sess, ok := a.sessionFor(prefixedName)
	if !ok {
		return
	}
	rid := extractTopicParam(topic, "$rid")
	a.twinPatchAck(sess, rid)
}

// extractTopicParam pulls a "$key=value" query-style parameter out of
// an MQTT topic string (original_source/IoTHubProcessor.java
// getTopicElement).
func extractTopicParam(topic, key string) string {
	idx := strings.Index(topic, key+"=")
	if idx < 0 {
		return ""
	}
	rest := topic[idx+len(key)+1:]
	if amp := strings.IndexAny(rest, "&?"); amp >= 0 {
		rest = rest[:amp]
	}
	return rest
}

type apiRequestMessage struct {
	Verb        string `json:"verb"`
	URI         string `json:"uri"`
	Options     string `json:"options"`
	RequestID   string `json:"request-id"`
	APIKey      string `json:"api-key"`
	ContentType string `json:"content-type"`
	Payload     string `json:"payload"`
}

func (a *Adapter) apiResponseTopic(prefixedName string) string {
	return replyTopic(a.cfg.ObserveNotificationTopicTemplate, prefixedName, "__OBSERVATION_KEY__", "__API_RESPONSE_KEY__")
}

func (a *Adapter) cmdResponseTopic(prefixedName string) string {
	return replyTopic(a.cfg.ObserveNotificationTopicTemplate, prefixedName, "__OBSERVATION_KEY__", "__CMD_RESPONSE_KEY__")
}

func (a *Adapter) handleAPIRequest(prefixedName string, req apiRequestMessage) {
	sess, ok := a.sessionFor(prefixedName)
	if !ok {
		return
	}
	payload, _ := base64.StdEncoding.DecodeString(req.Payload)
	resp := a.ProcessApiRequestOperation(req.URI, payload, req.Options, req.Verb, req.RequestID, req.APIKey, a.name, req.ContentType)
	body, _ := json.Marshal(map[string]interface{}{"status": resp.Status, "payload": resp.Body})
	sess.SendMessage(a.apiResponseTopic(prefixedName), body, 0)
}

type coapCommandMessage struct {
	CoapVerb string `json:"coap_verb"`
	Path     string `json:"path"`
	NewValue string `json:"new_value"`
	EP       string `json:"ep"`
	Options  string `json:"options"`
}

var verbByName = map[string]adapter.CoapVerb{
	"get":    adapter.CoapGet,
	"put":    adapter.CoapPut,
	"post":   adapter.CoapPost,
	"delete": adapter.CoapDelete,
}

func (a *Adapter) handleCoapCommand(prefixedName, topic string, payload []byte) {
	var cmd coapCommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		klog.Warningf("mqttadapter %s: malformed command on %s: %v", a.name, topic, err)
		return
	}
	if cmd.CoapVerb == "" {
		cmd.CoapVerb = extractTopicParam(topic, "coap_verb")
	}
	if cmd.Path == "" {
		cmd.Path = extractTopicParam(topic, "coap_uri")
	}
	verb, ok := verbByName[strings.ToLower(cmd.CoapVerb)]
	if !ok {
		klog.Warningf("mqttadapter %s: unknown coap verb %q on %s", a.name, cmd.CoapVerb, topic)
		return
	}

	deviceID := a.prefixer.RemovePrefix(prefixedName)
	responseBody := a.ProcessEndpointResourceOperation(verb, deviceID, cmd.Path, cmd.NewValue, cmd.Options)

	sess, ok := a.sessionFor(prefixedName)
	if !ok {
		return
	}

	var asyncResp struct {
		AsyncResponseID string `json:"async-response-id"`
	}
	if json.Unmarshal([]byte(responseBody), &asyncResp) == nil && asyncResp.AsyncResponseID != "" && (verb == adapter.CoapGet || verb == adapter.CoapPut) {
		a.correlations.Put(adapter.Correlation{
			AsyncID:      asyncResp.AsyncResponseID,
			Verb:         string(verb),
			InboundTopic: topic,
			ReplyTopic:   a.cmdResponseTopic(prefixedName),
			DeviceID:     deviceID,
			URI:          cmd.Path,
		})
		return
	}

	if verb == adapter.CoapGet {
		envelope, _ := json.Marshal(map[string]string{"ep": deviceID, "path": cmd.Path, "payload": responseBody})
		sess.SendMessage(a.cmdResponseTopic(prefixedName), envelope, 0)
	}
}

// ProcessAsyncResponses matches each entry against the pending
// correlation table and publishes the recorded reply topic (spec.md
// §4.9 "async response returns via C3 → Orchestrator → C9 → MQTT
// publish").
func (a *Adapter) ProcessAsyncResponses(evt events.Event) {
	for _, r := range evt.AsyncResponses {
		corr, ok := a.correlations.Take(r.AsyncID)
		if !ok {
			continue
		}
		prefixedName := a.prefixer.AddPrefix(corr.DeviceID)
		sess, ok := a.sessionFor(prefixedName)
		if !ok {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"ep": corr.DeviceID, "path": corr.URI, "payload": r.PayloadB64, "status": r.Status,
		})
		sess.SendMessage(corr.ReplyTopic, envelope, 0)
	}
}

// onMessageReceive routes one inbound MQTT message to digital-twin,
// API-request, or CoAP-command handling (spec.md §4.8 "Inbound
// handling").
func (a *Adapter) onMessageReceive(prefixedName, topic string, payload []byte) {
	if isDigitalTwinTopic(topic) {
		a.handleDigitalTwin(prefixedName, topic, payload)
		return
	}

	var req apiRequestMessage
	if json.Unmarshal(payload, &req) == nil && req.Verb != "" && req.URI != "" {
		a.handleAPIRequest(prefixedName, req)
		return
	}

	a.handleCoapCommand(prefixedName, topic, payload)
}
