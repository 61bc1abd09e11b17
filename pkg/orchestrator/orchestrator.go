// Package orchestrator implements the bridge's single process-wide
// coordinator (C10): it fans every decoded notification event out to
// every registered peer adapter, and owns the de-registration policy
// and full-reset operation. Fan-out concurrent-across-adapters,
// sequential-within-an-adapter is grounded on kubeedge's
// beehive/pkg/core context.SendToGroup (a WaitGroup of one goroutine
// per group member, each delivering its messages to one module
// in order).
package orchestrator

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/adapter"
	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
	"github.com/kubeedge/shadow-bridge/pkg/endpointtype"
	"github.com/kubeedge/shadow-bridge/pkg/events"
	"github.com/kubeedge/shadow-bridge/pkg/sourcecloud"
)

// Orchestrator is the single process-wide C10 instance.
type Orchestrator struct {
	sourceCfg config.SourceCloud
	source    *sourcecloud.Client
	types     *endpointtype.Registry

	mu       sync.Mutex
	adapters []adapter.Adapter

	resetMu sync.Mutex
	onReset func()
}

// New builds an Orchestrator. onReset is invoked by Reset() after the
// adapter list is cleared, to let the composition root re-run bridge
// startup (config reload, re-discovery, channel re-establishment).
func New(sourceCfg config.SourceCloud, source *sourcecloud.Client, types *endpointtype.Registry, onReset func()) *Orchestrator {
	return &Orchestrator{sourceCfg: sourceCfg, source: source, types: types, onReset: onReset}
}

// Register adds an adapter to the fan-out list. Registration is
// serialized (spec.md §4.9 "Serializes adapter registration and
// shutdown").
func (o *Orchestrator) Register(a adapter.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters = append(o.adapters, a)
	klog.Infof("orchestrator: registered adapter %s", a.Name())
}

// DeviceRemovedOnDeRegistration reports the global de-registration
// policy getter (spec.md §4.9).
func (o *Orchestrator) DeviceRemovedOnDeRegistration() bool {
	return o.sourceCfg.RemoveOnDeregistration
}

func (o *Orchestrator) snapshot() []adapter.Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]adapter.Adapter, len(o.adapters))
	copy(out, o.adapters)
	return out
}

// Dispatch fans evt out to every registered adapter, concurrently
// across adapters, sequentially within each one (spec.md §4.9).
func (o *Orchestrator) Dispatch(evt events.Event) {
	adapters := o.snapshot()
	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			o.deliver(a, evt)
		}(a)
	}
	wg.Wait()
}

func (o *Orchestrator) deliver(a adapter.Adapter, evt events.Event) {
	switch evt.Kind {
	case events.KindRegistration:
		a.ProcessNewRegistration(evt)
	case events.KindReRegistration:
		a.ProcessReRegistration(evt)
	case events.KindDeregistration:
		a.ProcessDeregistrations(evt)
	case events.KindRegistrationsExpired:
		a.ProcessRegistrationsExpired(evt)
	case events.KindNotification:
		a.ProcessNotification(evt)
	case events.KindAsyncResponse:
		a.ProcessAsyncResponses(evt)
	default:
		klog.Warningf("orchestrator: unknown event kind %v", evt.Kind)
	}
}

// ProcessDeviceDeletions fans an unconditional device deletion out to
// every adapter (spec.md §4.9). It is not part of the decoded
// notification sum type and is not reached through Dispatch; nothing
// in the notification path calls it.
func (o *Orchestrator) ProcessDeviceDeletions(deviceIDs []string) {
	for _, a := range o.snapshot() {
		a.ProcessDeviceDeletions(deviceIDs)
	}
	for _, id := range deviceIDs {
		o.types.Delete(id)
	}
}

// Reset drops every registered adapter from the fan-out list and
// invokes onReset to let the composition root rebuild the bridge from
// scratch. The dropped adapters are not shut down: their MQTT sessions
// are not disconnected by Reset (spec.md §4.3 "on terminal
// failure the orchestrator is asked to reset the bridge", §4.9
// "reset()").
func (o *Orchestrator) Reset() {
	o.resetMu.Lock()
	defer o.resetMu.Unlock()

	o.mu.Lock()
	o.adapters = nil
	o.mu.Unlock()

	klog.Warningf("orchestrator: resetting bridge")
	if o.onReset != nil {
		o.onReset()
	}
}
