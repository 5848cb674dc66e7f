package bot

import (
	"sync"
	"time"
)

// scheduler runs deferred tasks. Pending tasks are dropped by stop.
type scheduler struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*time.Timer
	stopped bool
}

func newScheduler() *scheduler {
	return &scheduler{pending: make(map[uint64]*time.Timer)}
}

// after runs fn once, d from now, unless cancelled or stopped first.
func (s *scheduler) after(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}
	id := s.next
	s.next++
	s.pending[id] = time.AfterFunc(d, func() {
		if s.take(id) {
			fn()
		}
	})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.pending[id]; ok {
			t.Stop()
			delete(s.pending, id)
		}
	}
}

func (s *scheduler) take(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

// size returns the number of pending tasks.
func (s *scheduler) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}
