// Package fanout implements the shadow fan-out scheduler (C8): a
// bounded-concurrency worker pool that drains a queue of discovered
// devices at bridge startup, running resource discovery, attribute
// retrieval, and shadow creation for each. The fixed worker-count
// draining a buffered channel follows kubeedge's
// edge/pkg/eventbus goroutine-per-responsibility idiom
// (routeToEdge/routeToCloud/keepalive in edgehub.go), generalized to a
// pool of identical workers instead of one goroutine per concern.
package fanout

import (
	"sync"

	"k8s.io/klog/v2"
)

// DefaultWorkers is the default K (spec.md §4.7).
const DefaultWorkers = 100

// SetupFunc performs one device's resource discovery, attribute
// dispatch, and shadow creation. It must not block indefinitely.
type SetupFunc func(deviceID string)

// Scheduler drains a bounded queue of device ids across K workers.
type Scheduler struct {
	workers int
	setup   SetupFunc
}

// New builds a Scheduler with workers concurrent tasks (DefaultWorkers
// if <= 0).
func New(workers int, setup SetupFunc) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{workers: workers, setup: setup}
}

// Run drains deviceIDs across the scheduler's worker pool and blocks
// until every device has been processed and the queue is empty
// (spec.md §4.7 "terminates when the queue is empty and all workers
// are idle").
func (s *Scheduler) Run(deviceIDs []string) {
	if len(deviceIDs) == 0 {
		return
	}
	queue := make(chan string, len(deviceIDs))
	for _, id := range deviceIDs {
		queue <- id
	}
	close(queue)

	var wg sync.WaitGroup
	n := s.workers
	if n > len(deviceIDs) {
		n = len(deviceIDs)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for id := range queue {
				func() {
					defer func() {
						if r := recover(); r != nil {
							klog.Errorf("fanout worker %d panicked processing %s: %v", worker, id, r)
						}
					}()
					s.setup(id)
				}()
			}
		}(i)
	}
	wg.Wait()
}
