// Package testutil holds deterministic test doubles shared by pagewatch tests.
package testutil

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSchedulerUnavailable is returned by a ManualScheduler set to fail.
var ErrSchedulerUnavailable = errors.New("scheduler unavailable")

// ManualScheduler is a scheduler whose time only moves when Advance is called.
//
// Callbacks run synchronously on the goroutine calling Advance, in due-time
// order (registration order for equal due times). It satisfies
// resource.Scheduler.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
	fail    bool
}

type manualTimer struct {
	due     time.Duration
	seq     int
	fn      func()
	stopped bool
}

// NewManualScheduler creates a scheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc schedules f to run once Advance moves past d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) (func() bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return nil, ErrSchedulerUnavailable
	}

	s.seq++
	t := &manualTimer{due: s.now + d, seq: s.seq, fn: f}
	s.pending = append(s.pending, t)

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		s.remove(t)
		return true
	}, nil
}

// Advance moves virtual time forward by d and fires every timer that became due,
// including timers scheduled by callbacks fired during this call.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.due
		next.stopped = true
		s.remove(next)
		s.mu.Unlock()

		next.fn()
	}
}

// SetFailing makes subsequent AfterFunc calls fail.
func (s *ManualScheduler) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Pending returns the number of timers that have not fired or been stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) nextDue(target time.Duration) *manualTimer {
	if len(s.pending) == 0 {
		return nil
	}
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].due == s.pending[j].due {
			return s.pending[i].seq < s.pending[j].seq
		}
		return s.pending[i].due < s.pending[j].due
	})
	if s.pending[0].due > target {
		return nil
	}
	return s.pending[0]
}

func (s *ManualScheduler) remove(t *manualTimer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// InlineScheduler runs every callback before AfterFunc returns, whatever the
// delay. It satisfies resource.Scheduler.
type InlineScheduler struct {
	mu    sync.Mutex
	calls int
}

// AfterFunc runs f immediately. The returned stop always reports false.
func (s *InlineScheduler) AfterFunc(_ time.Duration, f func()) (func() bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	f()
	return func() bool { return false }, nil
}

// Calls returns how many callbacks have run.
func (s *InlineScheduler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
