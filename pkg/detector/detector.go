// Package detector derives a debounced "location changed" signal from a raw
// stream of structural mutation notifications.
//
// Pages that navigate with history.pushState emit no navigation event, but
// they do rewrite the DOM. The detector watches the DOM and, after each burst
// of mutations settles, re-reads the location and fires its callback only if
// the location actually changed.
package detector

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
	"github.com/entrhq/pagewatch/pkg/resource"
)

const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultRoot     = "/html"
)

var (
	// ErrAlreadyStarted is returned by Start on a running detector.
	ErrAlreadyStarted = errors.New("detector already started")

	// ErrNotRegistered is returned by Start when the watcher could not be tracked.
	ErrNotRegistered = errors.New("watcher could not be registered")
)

// Source starts mutation observations. env.Environment satisfies it.
type Source interface {
	Observe(root string, onMutation func()) (env.Watcher, error)
}

// Locator reads the live location. env.Environment satisfies it.
type Locator interface {
	Location() string
}

// LocationSignal is the last observed location and the one before it.
type LocationSignal struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
}

// Stats counts what the detector has seen since it was created.
type Stats struct {
	Notifications int `json:"notifications"`
	Dropped       int `json:"dropped"`
	Checks        int `json:"checks"`
	Changes       int `json:"changes"`
}

// Detector is a leading-edge debouncer with a re-check.
//
// The first notification of a burst schedules a tracked timer; notifications
// arriving while it is pending are dropped. When the timer fires the pending
// flag is cleared and the live location is compared with the last one seen.
type Detector struct {
	tracker  *resource.Tracker
	source   Source
	locator  Locator
	debounce time.Duration
	root     string
	logger   *logging.Logger

	mu        sync.Mutex
	running   bool
	pending   bool
	onChange  func()
	signal    LocationSignal
	watcherID resource.ID
	timerID   resource.ID
	gen       uint64
	starts    uint64
	stats     Stats
}

// Option configures a Detector.
type Option func(*Detector)

// WithDebounce sets the settle delay. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.debounce = d
		}
	}
}

// WithRoot sets the XPath of the node whose subtree is observed.
func WithRoot(root string) Option {
	return func(det *Detector) {
		if root != "" {
			det.root = root
		}
	}
}

// WithLogger sets the detector's logger.
func WithLogger(l *logging.Logger) Option {
	return func(det *Detector) {
		if l != nil {
			det.logger = l
		}
	}
}

// New creates a stopped detector. Its timer and watcher are owned by tracker.
func New(tracker *resource.Tracker, source Source, locator Locator, opts ...Option) *Detector {
	d := &Detector{
		tracker:  tracker,
		source:   source,
		locator:  locator,
		debounce: DefaultDebounce,
		root:     DefaultRoot,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start records the current location and begins observing the root. If the
// root cannot be observed the failure is logged and returned and nothing is
// left registered.
func (d *Detector) Start(onChange func()) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.running = true
	d.starts++
	start := d.starts
	d.onChange = onChange
	d.signal = LocationSignal{Current: d.locator.Location()}
	d.mu.Unlock()

	w, err := d.source.Observe(d.root, d.Notify)
	if err != nil {
		d.abortStart(start)
		d.logger.Errorf("failed to observe %s: %v", d.root, err)
		return fmt.Errorf("failed to observe %s: %w", d.root, err)
	}

	id := d.tracker.RegisterWatcher(w, "location watcher on "+d.root)
	if id == resource.NoResource {
		d.abortStart(start)
		if stopErr := w.Stop(); stopErr != nil {
			d.logger.Warnf("failed to stop unregistered watcher: %v", stopErr)
		}
		d.logger.Errorf("failed to register watcher on %s", d.root)
		return ErrNotRegistered
	}

	d.mu.Lock()
	if !d.running || d.starts != start {
		// Stop ran while the watcher was being registered.
		d.mu.Unlock()
		d.tracker.CancelWatcher(id)
		d.logger.Infof("stopped before watching %s", d.root)
		return nil
	}
	d.watcherID = id
	current := d.signal.Current
	d.mu.Unlock()

	d.logger.Infof("watching %s for location changes (current: %s, debounce: %s)", d.root, current, d.debounce)
	return nil
}

func (d *Detector) abortStart(start uint64) {
	d.mu.Lock()
	if !d.running || d.starts != start {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.onChange = nil
	d.pending = false
	d.gen++
	timerID := d.timerID
	d.timerID = resource.NoResource
	d.mu.Unlock()

	if timerID != resource.NoResource {
		d.tracker.CancelTimer(timerID)
	}
}

// Notify reports one raw mutation. It never blocks on the callback and is safe
// to call from any goroutine.
func (d *Detector) Notify() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.stats.Notifications++

	if d.pending {
		d.stats.Dropped++
		d.mu.Unlock()
		return
	}
	d.pending = true
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	// The check may run before RegisterTimer returns.
	id := d.tracker.RegisterTimer(func() { d.check(gen) }, d.debounce, "location debounce")

	d.mu.Lock()
	defer d.mu.Unlock()
	// Stop and a fired check both move on from gen.
	current := d.gen == gen && d.pending
	switch {
	case id == resource.NoResource:
		if current {
			d.pending = false
		}
		d.logger.Errorf("failed to schedule location check; mutation ignored")
	case current:
		d.timerID = id
	default:
		d.tracker.CancelTimer(id)
	}
}

// check runs when the debounce timer of generation gen fires.
func (d *Detector) check(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timerID = resource.NoResource
	running := d.running
	d.mu.Unlock()

	if !running {
		return
	}

	live := d.locator.Location()

	d.mu.Lock()
	d.stats.Checks++
	if !d.running || live == d.signal.Current {
		d.mu.Unlock()
		d.logger.Debugf("mutation settled without location change")
		return
	}
	prev := d.signal.Current
	d.signal = LocationSignal{Current: live, Previous: prev}
	d.stats.Changes++
	cb := d.onChange
	d.mu.Unlock()

	d.logger.Infof("location changed: %s -> %s", prev, live)
	if cb != nil {
		d.safeCall(cb)
	}
}

// Stop cancels the watcher and any pending check. It is idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.pending = false
	d.onChange = nil
	d.gen++
	watcherID, timerID := d.watcherID, d.timerID
	d.watcherID, d.timerID = resource.NoResource, resource.NoResource
	d.mu.Unlock()

	if timerID != resource.NoResource {
		d.tracker.CancelTimer(timerID)
	}
	if watcherID != resource.NoResource {
		d.tracker.CancelWatcher(watcherID)
	}
	d.logger.Infof("stopped watching %s", d.root)
}

// Running reports whether the detector is started.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Signal returns a copy of the location signal.
func (d *Detector) Signal() LocationSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signal
}

// Stats returns a copy of the counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Debounce returns the settle delay in use.
func (d *Detector) Debounce() time.Duration {
	return d.debounce
}

func (d *Detector) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("error in location change handler: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}
