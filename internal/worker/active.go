package worker

import (
	"errors"
	"sync"
)

var (
	// ErrJobActive is returned by TryAcquire when the job is already running.
	ErrJobActive = errors.New("worker: job already being processed")
	// ErrNoSlot is returned by TryAcquire when the limit is reached.
	ErrNoSlot = errors.New("worker: no processing slot available")
	// ErrStopping is returned by TryAcquire once the dispatcher is draining.
	ErrStopping = errors.New("worker: dispatcher is shutting down")
)

// activeSet tracks running job ids, bounded by a limit.
type activeSet struct {
	mu     sync.Mutex
	jobs   map[string]struct{}
	limit  int
	closed bool
}

func newActiveSet(limit int) *activeSet {
	return &activeSet{jobs: make(map[string]struct{}), limit: limit}
}

// TryAcquire adds id to the set.
func (s *activeSet) TryAcquire(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopping
	}
	if _, ok := s.jobs[id]; ok {
		return ErrJobActive
	}
	if len(s.jobs) >= s.limit {
		return ErrNoSlot
	}
	s.jobs[id] = struct{}{}
	return nil
}

// Release removes id from the set.
func (s *activeSet) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len returns the number of running jobs.
func (s *activeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// close makes every later TryAcquire fail. Jobs already in the set stay.
func (s *activeSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *activeSet) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}
