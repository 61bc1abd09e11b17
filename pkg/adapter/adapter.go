package adapter

import "github.com/kubeedge/shadow-bridge/pkg/events"

// ApiResponse wraps the result of a forwarded API request or CoAP
// verb (spec.md §4.8).
type ApiResponse struct {
	Status int
	Body   string
}

// CoapVerb enumerates the verbs a peer can issue against a device.
type CoapVerb string

const (
	CoapGet    CoapVerb = "get"
	CoapPut    CoapVerb = "put"
	CoapPost   CoapVerb = "post"
	CoapDelete CoapVerb = "delete"
)

// Adapter is the contract every peer adapter (C9) must satisfy
// (spec.md §4.8). The MQTT/IoT-Hub exemplar lives in
// pkg/adapter/mqttadapter.
type Adapter interface {
	// Name identifies the adapter for orchestrator routing/logging.
	Name() string

	// RegisterNewDevice creates the peer-side shadow identity and a
	// validated transport session for it.
	RegisterNewDevice(device *Device) bool
	// DeleteDevice stops the listener, disconnects, removes the
	// peer-side shadow, and clears the device's endpoint type.
	DeleteDevice(deviceID string) bool

	// ProcessNotification publishes one batch of telemetry entries to
	// each device's observation topic.
	ProcessNotification(evt events.Event)
	// ProcessNewRegistration triggers attribute retrieval for each
	// newly seen device, subject to the shadow cap.
	ProcessNewRegistration(evt events.Event)
	// ProcessReRegistration is handled identically to new
	// registration (spec.md §4.8).
	ProcessReRegistration(evt events.Event)
	// ProcessDeregistrations applies the deregistration policy: full
	// teardown if RemoveOnDeregistration, otherwise disconnect-only.
	ProcessDeregistrations(evt events.Event)
	// ProcessRegistrationsExpired is handled identically to
	// deregistration.
	ProcessRegistrationsExpired(evt events.Event)
	// ProcessDeviceDeletions unconditionally tears the shadow down.
	ProcessDeviceDeletions(deviceIDs []string)
	// ProcessAsyncResponses matches each entry against the adapter's
	// pending correlation table and publishes the matching reply.
	ProcessAsyncResponses(evt events.Event)

	// ProcessApiRequestOperation forwards a peer-originated API
	// request to the source cloud.
	ProcessApiRequestOperation(uri string, body []byte, options string, verb, requestID, apiKey, caller, contentType string) ApiResponse
	// ProcessEndpointResourceOperation forwards a CoAP verb to the
	// source cloud via C4, returning the synthesized response body.
	ProcessEndpointResourceOperation(verb CoapVerb, deviceID, uri, value, options string) string
}
