package fanout

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunProcessesEveryDeviceExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	s := New(4, func(deviceID string) {
		mu.Lock()
		seen[deviceID]++
		mu.Unlock()
	})

	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	s.Run(ids)

	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
}

func TestRunCapsConcurrencyAtWorkerCount(t *testing.T) {
	const workers = 2
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	release := make(chan struct{})
	s := New(workers, func(deviceID string) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.Run([]string{"a", "b", "c", "d"})
		close(done)
	}()

	close(release)
	<-done

	assert.LessOrEqual(t, maxInFlight, workers)
}

func TestRunOnEmptyQueueReturnsImmediately(t *testing.T) {
	called := false
	s := New(4, func(deviceID string) { called = true })
	s.Run(nil)
	assert.False(t, called)
}
