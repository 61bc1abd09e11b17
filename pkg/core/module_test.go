package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	name    string
	group   string
	enabled bool

	mu       sync.Mutex
	started  bool
	cleaned  bool
	startSig chan struct{}
}

func newFakeModule(name, group string) *fakeModule {
	return &fakeModule{name: name, group: group, enabled: true, startSig: make(chan struct{}, 1)}
}

func (f *fakeModule) Name() string  { return f.name }
func (f *fakeModule) Group() string { return f.group }
func (f *fakeModule) Enable() bool  { return f.enabled }
func (f *fakeModule) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.startSig <- struct{}{}
}
func (f *fakeModule) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = true
}

func (f *fakeModule) wasStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeModule) wasCleaned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleaned
}

func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]Module{}
}

func TestRunStartsEveryEnabledModule(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	m := newFakeModule("worker", "peers")
	Register(m)

	Run()

	select {
	case <-m.startSig:
	case <-time.After(time.Second):
		t.Fatal("module was never started")
	}
	assert.True(t, m.wasStarted())
}

func TestRunSkipsDisabledModules(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	m := newFakeModule("worker", "peers")
	m.enabled = false
	Register(m)

	Run()

	select {
	case <-m.startSig:
		t.Fatal("disabled module should not start")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownCleansUpEveryRegisteredModule(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	m := newFakeModule("worker", "peers")
	Register(m)

	Shutdown()

	require.True(t, m.wasCleaned())
}

func TestModulesReturnsASnapshot(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register(newFakeModule("a", "g"))
	Register(newFakeModule("b", "g"))

	mods := Modules()
	assert.Len(t, mods, 2)
}
