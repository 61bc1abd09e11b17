// Package attributes implements the per-device attribute retrieval
// dispatcher (C6): a one-shot concurrent worker that fetches a
// configured list of device-info resources through the source-cloud
// client and reports the collated values back to the orchestrator.
// The one-worker-per-key, mutex-guarded in-flight set mirrors
// kubeedge's edge/pkg/eventbus dispatch-loop idiom, adapted to a
// one-shot task instead of a perpetual loop.
package attributes

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/sourcecloud"
)

// DefaultURIs is used when SourceCloud.AttributeURIList is empty.
var DefaultURIs = []string{"/3/0/0", "/3/0/1", "/3/0/2"}

// Well-known metadata keys populated from DefaultURIs (spec.md §3).
const (
	MetaManufacturer = "meta_mfg"
	MetaModel        = "meta_model"
	MetaSerial       = "meta_serial"
)

var defaultURIMetaKey = map[string]string{
	"/3/0/0": MetaManufacturer,
	"/3/0/1": MetaModel,
	"/3/0/2": MetaSerial,
}

// Getter issues a GET for uri against deviceID via C4. It is the
// narrow slice of sourcecloud.Client the dispatcher needs, so tests
// can stub it directly.
type Getter interface {
	DeviceRequest(method, deviceID, uri, options, payloadB64 string) (status int, body []byte, err error)
}

// Completer is invoked once retrieval finishes; it corresponds to the
// orchestrator's completeNewDeviceRegistration (spec.md §4.5).
type Completer func(deviceID string, meta map[string]string)

// Dispatcher tracks in-flight per-device attribute retrieval so that a
// second request for the same device while one is pending is a no-op
// (spec.md §4.5 invariant).
type Dispatcher struct {
	mu        sync.Mutex
	inFlight  map[string]bool
	uris      []string
	getter    Getter
	complete  Completer
}

// New builds a Dispatcher. uris defaults to DefaultURIs when empty.
func New(getter Getter, uris []string, complete Completer) *Dispatcher {
	if len(uris) == 0 {
		uris = DefaultURIs
	}
	return &Dispatcher{inFlight: make(map[string]bool), uris: uris, getter: getter, complete: complete}
}

// Retrieve starts attribute retrieval for deviceID as a background
// task, unless one is already pending for it. It returns immediately.
func (d *Dispatcher) Retrieve(deviceID string) {
	d.mu.Lock()
	if d.inFlight[deviceID] {
		d.mu.Unlock()
		klog.V(4).Infof("attribute retrieval already pending for %s, skipping", deviceID)
		return
	}
	d.inFlight[deviceID] = true
	d.mu.Unlock()

	go d.run(deviceID)
}

func (d *Dispatcher) run(deviceID string) {
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, deviceID)
		d.mu.Unlock()
	}()

	meta := make(map[string]string)
	for _, uri := range d.uris {
		status, body, err := d.getter.DeviceRequest("GET", deviceID, uri, "", "")
		if err != nil {
			klog.Warningf("attribute retrieval %s %s failed: %v", deviceID, uri, err)
			continue
		}
		if status != 200 {
			klog.V(4).Infof("attribute retrieval %s %s returned status %d", deviceID, uri, status)
			continue
		}
		key, ok := defaultURIMetaKey[uri]
		if !ok {
			key = uri
		}
		meta[key] = string(body)
	}

	if d.complete != nil {
		d.complete(deviceID, meta)
	}
}

// InFlight reports whether deviceID currently has a pending retrieval.
func (d *Dispatcher) InFlight(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[deviceID]
}

var _ Getter = (*sourcecloud.Client)(nil)
