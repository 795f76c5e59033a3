package clock

import (
	"sync"
	"time"
)

// Scheduler runs at most one pending callback per key. Scheduling a key again
// replaces its previous callback, which is how close times move with extensions.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	timers  map[string]Timer
	stopped bool
}

// NewScheduler returns a Scheduler driven by c.
func NewScheduler(c Clock) *Scheduler {
	return &Scheduler{clock: c, timers: make(map[string]Timer)}
}

// Clock returns the clock driving the scheduler.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// ScheduleAt arranges for fn to run at the given time, replacing any callback
// already pending for key. A time in the past fires as soon as possible.
func (s *Scheduler) ScheduleAt(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.Stop()
	}

	var timer Timer
	timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		if !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = timer
}

// Cancel drops the pending callback for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports whether a callback is pending for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels every pending callback; later ScheduleAt calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
