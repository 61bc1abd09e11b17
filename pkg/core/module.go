// Package core provides the module registry and start/stop lifecycle
// used to wire the bridge's long-running subsystems together, adapted
// from beehive's core package (kubeedge/beehive/pkg/core).
package core

import (
	"sync"

	"k8s.io/klog/v2"
)

// Module is implemented by every long-running bridge subsystem that
// the composition root starts and stops as a unit.
type Module interface {
	Name() string
	Group() string
	Enable() bool
	Start()
	Cleanup()
}

var (
	registryMu sync.Mutex
	registry   = map[string]Module{}
)

// Register adds module to the global registry. Call before Run.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// Modules returns a snapshot of the registered modules.
func Modules() map[string]Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make(map[string]Module, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}

// Run starts every enabled registered module in its own goroutine.
func Run() {
	for name, m := range Modules() {
		if !m.Enable() {
			klog.Infof("module %s disabled, skipping", name)
			continue
		}
		go m.Start()
		klog.Infof("starting module %s (group %s)", name, m.Group())
	}
}

// Shutdown calls Cleanup on every registered module.
func Shutdown() {
	for name, m := range Modules() {
		klog.Infof("cleaning up module %s", name)
		m.Cleanup()
	}
}
