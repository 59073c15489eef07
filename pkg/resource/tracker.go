package resource

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pagewatch/pkg/logging"
)

// ID identifies a tracked resource. NoResource means registration did not happen.
type ID string

// NoResource is returned when a timer or watcher could not be registered.
const NoResource ID = ""

// Kind distinguishes tracked timers from tracked watchers.
type Kind int

const (
	KindTimer Kind = iota + 1
	KindWatcher
)

// String returns a lower-case name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindWatcher:
		return "watcher"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var (
	// ErrNotScheduled is returned by Sleep when its timer could not be registered.
	ErrNotScheduled = errors.New("timer could not be scheduled")

	// ErrCancelled is returned by Sleep and WaitFor when their timer is cancelled.
	ErrCancelled = errors.New("timer cancelled")

	// ErrTimeout is returned by WaitFor when the condition never held.
	ErrTimeout = errors.New("wait timed out")
)

// Scheduler is the environment's deferred-callback primitive.
type Scheduler interface {
	// AfterFunc arranges for f to run once after d and returns a function that
	// stops the timer, reporting whether it was stopped before firing. f may
	// run before AfterFunc returns.
	AfterFunc(d time.Duration, f func()) (stop func() bool, err error)
}

// SystemScheduler schedules on the Go runtime timers.
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) (func() bool, error) {
	t := time.AfterFunc(d, f)
	return t.Stop, nil
}

// Watcher is an already-started change observer.
type Watcher interface {
	Stop() error
}

// TrackedResource describes one live timer or watcher.
type TrackedResource struct {
	ID          ID        `json:"id"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats is a point-in-time count of live resources.
type Stats struct {
	Timers   int `json:"timers"`
	Watchers int `json:"watchers"`
	Total    int `json:"total"`
}

type entry struct {
	res      TrackedResource
	stop     func() bool
	watcher  Watcher
	onCancel func()
}

// Tracker registers deferred callbacks and watchers so that every one of them
// can be cancelled individually or all at once.
//
// Timer callbacks run on the scheduler's goroutine. A callback's entry is
// removed from the live set before the callback runs, so a concurrent cleanup
// never tries to cancel a callback that is already executing.
type Tracker struct {
	mu        sync.Mutex
	live      map[ID]*entry
	scheduler Scheduler
	logger    *logging.Logger
	now       func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithScheduler replaces the system scheduler.
func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) {
		if s != nil {
			t.scheduler = s
		}
	}
}

// WithLogger sets the logger used for registration and callback failures.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		live:      make(map[ID]*entry),
		scheduler: SystemScheduler{},
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger.Debugf("resource tracker initialized")
	return t
}

// RegisterTimer schedules cb to run once after delay. It returns NoResource if
// the timer could not be scheduled; the failure is logged.
func (t *Tracker) RegisterTimer(cb func(), delay time.Duration, description string) ID {
	return t.registerTimer(cb, delay, description, nil)
}

func (t *Tracker) registerTimer(cb func(), delay time.Duration, description string, onCancel func()) (id ID) {
	if cb == nil {
		t.logger.Errorf("failed to register timer %q: nil callback", description)
		return NoResource
	}

	rid := ID(uuid.NewString())
	e := &entry{
		res: TrackedResource{
			ID:          rid,
			Kind:        KindTimer,
			Description: description,
			CreatedAt:   t.now(),
		},
		onCancel: onCancel,
	}

	// The entry exists before the scheduler sees the callback, so a timer that
	// fires inside AfterFunc finds it.
	t.mu.Lock()
	t.live[rid] = e
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorf("failed to register timer %q: scheduler panicked: %v", description, r)
			id = NoResource
		}
		if id == NoResource {
			t.mu.Lock()
			if t.live[rid] == e {
				delete(t.live, rid)
			}
			t.mu.Unlock()
		}
	}()

	stop, err := t.scheduler.AfterFunc(delay, func() { t.fire(rid, description, cb) })
	if err != nil {
		t.logger.Errorf("failed to register timer %q: %v", description, err)
		return NoResource
	}

	t.mu.Lock()
	if t.live[rid] != e {
		// Fired or cancelled while AfterFunc ran.
		t.mu.Unlock()
		stop()
		return rid
	}
	e.stop = stop
	t.mu.Unlock()

	t.logger.Debugf("registered timer %s (ID: %s, delay: %s)", description, rid, delay)
	return rid
}

// fire removes the timer entry, then runs cb inside a failure boundary.
func (t *Tracker) fire(id ID, description string, cb func()) {
	t.mu.Lock()
	if _, ok := t.live[id]; !ok {
		// Cancelled between the scheduler firing and us taking the lock.
		t.mu.Unlock()
		return
	}
	delete(t.live, id)
	t.mu.Unlock()

	t.safeCall("timer callback "+description, cb)
}

// RegisterWatcher records an already-started watcher for later cancellation.
func (t *Tracker) RegisterWatcher(w Watcher, description string) ID {
	if w == nil {
		t.logger.Errorf("failed to register watcher %q: nil watcher", description)
		return NoResource
	}

	id := ID(uuid.NewString())

	t.mu.Lock()
	t.live[id] = &entry{
		res: TrackedResource{
			ID:          id,
			Kind:        KindWatcher,
			Description: description,
			CreatedAt:   t.now(),
		},
		watcher: w,
	}
	t.mu.Unlock()

	t.logger.Debugf("registered watcher %s (ID: %s)", description, id)
	return id
}

// CancelTimer stops a pending timer. It returns false if id is unknown, is not a
// timer, or already fired or was cancelled.
func (t *Tracker) CancelTimer(id ID) bool {
	e := t.take(id, KindTimer)
	if e == nil {
		return false
	}
	t.cancel(e)
	t.logger.Debugf("cancelled timer %s", e.res.Description)
	return true
}

// CancelWatcher stops a registered watcher exactly once. It returns false if id
// is unknown or not a watcher. A failing Stop is logged; the entry is removed
// regardless.
func (t *Tracker) CancelWatcher(id ID) bool {
	e := t.take(id, KindWatcher)
	if e == nil {
		return false
	}
	t.cancel(e)
	t.logger.Debugf("disconnected watcher %s (ran for %s)", e.res.Description, t.now().Sub(e.res.CreatedAt).Round(time.Millisecond))
	return true
}

// CleanupAll cancels every live resource and returns how many were cleaned.
// It never panics; a resource that fails to cancel is logged and skipped.
func (t *Tracker) CleanupAll() int {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.live))
	for _, e := range t.live {
		entries = append(entries, e)
	}
	t.live = make(map[ID]*entry)
	t.mu.Unlock()

	if len(entries) == 0 {
		t.logger.Debugf("cleanup: no live resources")
		return 0
	}

	t.logger.Infof("starting cleanup of %d resources", len(entries))
	cleaned := 0
	for _, e := range entries {
		if t.cancel(e) {
			cleaned++
		}
	}
	t.logger.Infof("cleanup completed, cleaned %d resources", cleaned)
	return cleaned
}

// Stats returns a snapshot of live resource counts.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, e := range t.live {
		switch e.res.Kind {
		case KindTimer:
			s.Timers++
		case KindWatcher:
			s.Watchers++
		}
	}
	s.Total = s.Timers + s.Watchers
	return s
}

// Resources returns the live resources ordered by creation time.
func (t *Tracker) Resources() []TrackedResource {
	t.mu.Lock()
	out := make([]TrackedResource, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e.res)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// take removes and returns the entry for id if it has the given kind.
func (t *Tracker) take(id ID, kind Kind) *entry {
	if id == NoResource {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.live[id]
	if !ok || e.res.Kind != kind {
		return nil
	}
	delete(t.live, id)
	return e
}

// cancel releases an entry that has already been removed from the live set.
// It reports whether the release completed without a failure.
func (t *Tracker) cancel(e *entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorf("failed to cancel %s %q: %v", e.res.Kind, e.res.Description, r)
			ok = false
		}
	}()

	switch e.res.Kind {
	case KindTimer:
		if e.stop != nil {
			e.stop()
		}
		if e.onCancel != nil {
			e.onCancel()
		}
	case KindWatcher:
		if err := e.watcher.Stop(); err != nil {
			t.logger.Errorf("failed to stop watcher %q: %v", e.res.Description, err)
			return false
		}
	}
	return true
}

// safeCall runs fn and converts a panic into an ERROR log line.
func (t *Tracker) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorf("error in %s: %v\n%s", what, r, debug.Stack())
		}
	}()
	fn()
}

// String implements fmt.Stringer for log lines.
func (s Stats) String() string {
	return fmt.Sprintf("timers: %d, watchers: %d, total: %d", s.Timers, s.Watchers, s.Total)
}
