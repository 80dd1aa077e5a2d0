package httpapi

import (
	"sync"
	"sync/atomic"
)

// ender is a live interview that can be stopped from outside.
type ender interface {
	End()
}

// LiveRegistry tracks live interview sessions and supports graceful draining.
// When draining is enabled, new interviews are rejected while running ones
// finish or are ended by EndAll.
//
// The mu mutex makes the draining check and wg.Add atomic in Add, so no
// interview can slip in between StartDraining and Wait.
type LiveRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
	active   map[ender]struct{}
}

func NewLiveRegistry() *LiveRegistry {
	return &LiveRegistry{active: make(map[ender]struct{})}
}

// Add registers a live interview. Returns false if the registry is draining.
func (lr *LiveRegistry) Add(e ender) bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.draining {
		return false
	}
	lr.wg.Add(1)
	lr.count.Add(1)
	lr.active[e] = struct{}{}
	return true
}

// Done marks an interview as finished. Must be called exactly once per
// successful Add.
func (lr *LiveRegistry) Done(e ender) {
	lr.mu.Lock()
	delete(lr.active, e)
	lr.mu.Unlock()
	lr.count.Add(-1)
	lr.wg.Done()
}

// StartDraining makes future Add calls return false.
func (lr *LiveRegistry) StartDraining() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (lr *LiveRegistry) IsDraining() bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.draining
}

// ActiveCount returns the number of running interviews.
func (lr *LiveRegistry) ActiveCount() int64 {
	return lr.count.Load()
}

// EndAll ends every running interview.
func (lr *LiveRegistry) EndAll() {
	lr.mu.Lock()
	running := make([]ender, 0, len(lr.active))
	for e := range lr.active {
		running = append(running, e)
	}
	lr.mu.Unlock()
	for _, e := range running {
		e.End()
	}
}

// Wait blocks until all interviews have finished.
func (lr *LiveRegistry) Wait() {
	lr.wg.Wait()
}
