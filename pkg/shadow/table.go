// Package shadow implements the per-peer shadow session table (C7):
// the canonical map from peer-prefixed name to live session, enforcing
// the shadow cap and at-most-one-session-per-device invariant. The
// map-guarded-by-mutex shape follows kubeedge's
// edge/pkg/edgehub/edgehub.go syncKeeper/keeperLock pair.
package shadow

import (
	"sync"

	"k8s.io/klog/v2"
)

// DefaultMaxShadows is the default MAX_SHADOWS cap (spec.md §4.6):
// one ephemeral port per MQTT session.
const DefaultMaxShadows = 25000

// Disposer tears a session down: stop listener, unsubscribe topics
// (best-effort), disconnect transport. Session ownership never
// leaves the table, so Disposer is the only way callers affect a
// live session.
type Disposer func(name string, session Session)

// Session is the per-device live state held by the table (spec.md
// §3). TransportHandle/Topics/ListenerStop are opaque to the table;
// it only enforces the cap and identity invariants.
type Session struct {
	PrefixedName    string
	EndpointType    string
	TransportHandle interface{}
	Topics          []string
	ListenerStop    func()
	LastState       string
}

// Table is the session table. All operations are idempotent.
type Table struct {
	mu      sync.Mutex
	byName  map[string]Session
	max     int
	dispose Disposer
}

// New returns an empty table capped at max (DefaultMaxShadows if <= 0)
// that uses dispose to tear sessions down on RemoveSession.
func New(max int, dispose Disposer) *Table {
	if max <= 0 {
		max = DefaultMaxShadows
	}
	return &Table{byName: make(map[string]Session), max: max, dispose: dispose}
}

// HasSession reports whether name has a live session.
func (t *Table) HasSession(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byName[name]
	return ok
}

// AddSession records s under name, replacing any existing entry. The
// caller is responsible for disposing of a prior session first via
// RemoveSession (spec.md §4.6); AddSession does not dispose on the
// caller's behalf. Returns false, without adding, if the table is at
// capacity and name is not already present.
func (t *Table) AddSession(name string, s Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byName[name]; !exists && len(t.byName) >= t.max {
		klog.Warningf("shadow table at capacity (%d), skipping %s", t.max, name)
		return false
	}
	t.byName[name] = s
	return true
}

// RemoveSession disposes of name's session (if any) and drops it from
// the table.
func (t *Table) RemoveSession(name string) {
	t.mu.Lock()
	s, ok := t.byName[name]
	if ok {
		delete(t.byName, name)
	}
	t.mu.Unlock()
	if ok && t.dispose != nil {
		t.dispose(name, s)
	}
}

// Count returns the number of live sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byName)
}

// Get returns the session for name, if present.
func (t *Table) Get(name string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byName[name]
	return s, ok
}

// AtCapacity reports whether adding one more device (not already
// present) would exceed the cap.
func (t *Table) AtCapacity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byName) >= t.max
}
