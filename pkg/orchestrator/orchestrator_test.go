package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/shadow-bridge/pkg/adapter"
	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
	"github.com/kubeedge/shadow-bridge/pkg/endpointtype"
	"github.com/kubeedge/shadow-bridge/pkg/events"
)

// recordingAdapter satisfies adapter.Adapter, recording which
// Process* method was invoked (as the event kind that method
// handles), for assertion.
type recordingAdapter struct {
	name string

	mu         sync.Mutex
	got        []events.Kind
	deletedIDs []string
}

func (r *recordingAdapter) Name() string                               { return r.name }
func (r *recordingAdapter) RegisterNewDevice(d *adapter.Device) bool    { return true }
func (r *recordingAdapter) DeleteDevice(id string) bool                { return true }
func (r *recordingAdapter) record(k events.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, k)
}
func (r *recordingAdapter) ProcessNotification(evt events.Event)          { r.record(events.KindNotification) }
func (r *recordingAdapter) ProcessNewRegistration(evt events.Event)       { r.record(events.KindRegistration) }
func (r *recordingAdapter) ProcessReRegistration(evt events.Event)        { r.record(events.KindReRegistration) }
func (r *recordingAdapter) ProcessDeregistrations(evt events.Event)       { r.record(events.KindDeregistration) }
func (r *recordingAdapter) ProcessRegistrationsExpired(evt events.Event)  { r.record(events.KindRegistrationsExpired) }
func (r *recordingAdapter) ProcessAsyncResponses(evt events.Event)        { r.record(events.KindAsyncResponse) }
func (r *recordingAdapter) ProcessDeviceDeletions(deviceIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedIDs = append(r.deletedIDs, deviceIDs...)
}
func (r *recordingAdapter) ProcessApiRequestOperation(uri string, body []byte, options string, verb, requestID, apiKey, caller, contentType string) adapter.ApiResponse {
	return adapter.ApiResponse{}
}
func (r *recordingAdapter) ProcessEndpointResourceOperation(verb adapter.CoapVerb, deviceID, uri, value, options string) string {
	return ""
}

func TestDispatchRoutesEachKindToTheRightMethod(t *testing.T) {
	a := &recordingAdapter{name: "peer1"}
	o := New(config.SourceCloud{}, nil, endpointtype.New(), nil)
	o.Register(a)

	o.Dispatch(events.Event{Kind: events.KindRegistration})
	o.Dispatch(events.Event{Kind: events.KindNotification})
	o.Dispatch(events.Event{Kind: events.KindDeregistration})

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.ElementsMatch(t, []events.Kind{events.KindRegistration, events.KindNotification, events.KindDeregistration}, a.got)
}

func TestProcessDeviceDeletionsClearsRegistryAndFansOut(t *testing.T) {
	a := &recordingAdapter{name: "peer1"}
	types := endpointtype.New()
	types.Set("dev1", "default", "default")
	o := New(config.SourceCloud{}, nil, types, nil)
	o.Register(a)

	o.ProcessDeviceDeletions([]string{"dev1"})

	_, ok := types.Get("dev1")
	assert.False(t, ok)
	assert.Equal(t, []string{"dev1"}, a.deletedIDs)
}

func TestResetClearsAdaptersAndInvokesCallback(t *testing.T) {
	called := false
	o := New(config.SourceCloud{}, nil, endpointtype.New(), func() { called = true })
	o.Register(&recordingAdapter{name: "peer1"})

	o.Reset()

	require.True(t, called)
	assert.Empty(t, o.snapshot())
}
