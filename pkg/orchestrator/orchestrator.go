// Package orchestrator drives the pagewatch lifecycle: it runs the feature
// module pipeline once the page is ready, re-runs it whenever the change
// detector reports a new location, and tears every tracked resource down on
// shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/entrhq/pagewatch/pkg/config"
	"github.com/entrhq/pagewatch/pkg/detector"
	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
	"github.com/entrhq/pagewatch/pkg/module"
	"github.com/entrhq/pagewatch/pkg/resource"
)

var (
	// ErrAlreadyInitialized is returned by Initialize outside Uninitialized.
	ErrAlreadyInitialized = errors.New("orchestrator already initialized")

	// ErrReinitInFlight is returned when a reinitialization is dropped because
	// another one is running. Dropped requests are not queued.
	ErrReinitInFlight = errors.New("reinitialization already in progress")

	// ErrNotReady is returned by Reinitialize outside Ready.
	ErrNotReady = errors.New("orchestrator not ready")

	// ErrShutdown is returned when shutdown interrupted an operation.
	ErrShutdown = errors.New("orchestrator shut down")
)

// Hooks are optional observers. They run synchronously and must not call back
// into the Orchestrator.
type Hooks struct {
	OnCycle   func(*CycleReport)
	OnDropped func()
}

// Orchestrator owns the module pipeline, the resource tracker and the change
// detector.
type Orchestrator struct {
	env      env.Environment
	modules  []module.Module
	tracker  *resource.Tracker
	detector *detector.Detector
	logger   *logging.Logger
	hooks    Hooks

	readyTimeout time.Duration
	monitor      bool
	debounce     time.Duration
	root         string
	version      string
	cfg          *config.Config

	// ctx is cancelled on shutdown; detector-triggered runs use it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	last    *CycleReport
	cycles  int
	dropped int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracker supplies the resource tracker, e.g. one with a test scheduler.
func WithTracker(t *resource.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithLogger sets the orchestrator logger. Component loggers are derived from it.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReadyTimeout bounds the wait for the document. Zero waits until the
// Initialize context ends.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.readyTimeout = d }
}

// WithMonitor enables or disables navigation detection.
func WithMonitor(enabled bool) Option {
	return func(o *Orchestrator) { o.monitor = enabled }
}

// WithDebounce sets the change detector's settle delay.
func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) { o.debounce = d }
}

// WithRoot sets the XPath of the subtree the change detector observes.
func WithRoot(root string) Option {
	return func(o *Orchestrator) { o.root = root }
}

// WithVersion sets the version published on the debug handle.
func WithVersion(v string) Option {
	return func(o *Orchestrator) { o.version = v }
}

// WithConfig sets the configuration published on the debug handle.
func WithConfig(cfg *config.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithHooks installs observers.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// New creates an Uninitialized orchestrator over e running modules in order,
// and publishes it on the process-wide debug handle.
func New(e env.Environment, modules []module.Module, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		env:          e,
		modules:      modules,
		logger:       logging.Nop(),
		readyTimeout: config.DefaultReadyTimeout,
		monitor:      true,
		debounce:     config.DefaultDebounce,
		root:         config.DefaultRoot,
		version:      "dev",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.tracker == nil {
		o.tracker = resource.NewTracker(resource.WithLogger(o.logger.Named("ResourceTracker")))
	}
	o.detector = detector.New(o.tracker, e, e,
		detector.WithDebounce(o.debounce),
		detector.WithRoot(o.root),
		detector.WithLogger(o.logger.Named("ChangeDetector")),
	)
	o.ctx, o.cancel = context.WithCancel(context.Background())

	Publish(Handle{Orchestrator: o, Version: o.version, Config: o.cfg})
	o.logger.Infof("orchestrator created with %d modules (version %s)", len(modules), o.version)
	return o
}

// Initialize waits for the document, runs the pipeline once and starts the
// change detector. A detector that cannot start is logged and initialization
// still completes. Calling it outside Uninitialized returns
// ErrAlreadyInitialized.
func (o *Orchestrator) Initialize(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	if o.state != Uninitialized {
		state := o.state
		o.mu.Unlock()
		o.logger.Warnf("initialize called in state %s, ignoring", state)
		return nil, ErrAlreadyInitialized
	}
	o.state = Initializing
	o.mu.Unlock()

	ctx, cancel := o.bind(ctx)
	defer cancel()

	o.logger.Infof("initializing")

	if err := o.waitReady(ctx); err != nil {
		o.mu.Lock()
		if o.state == Initializing {
			o.state = Uninitialized
		}
		o.mu.Unlock()
		if o.ctx.Err() != nil {
			return nil, ErrShutdown
		}
		return nil, err
	}

	report := o.runPipeline(ctx, CycleInitialize)

	if o.monitor {
		if err := o.detector.Start(o.onLocationChange); err != nil {
			o.logger.Errorf("change detector unavailable, navigation will not be detected: %v", err)
		}
	} else {
		o.logger.Infof("navigation monitoring disabled")
	}

	o.mu.Lock()
	if o.state != Initializing {
		o.mu.Unlock()
		// Shutdown ran while we were initializing; release what we started.
		o.detector.Stop()
		return report, ErrShutdown
	}
	o.state = Ready
	o.mu.Unlock()

	o.logger.Infof("initialization complete")
	return report, nil
}

// waitReady waits for the document, bounded by the ready timeout. Running out
// of time is logged and tolerated; cancellation of ctx is returned.
func (o *Orchestrator) waitReady(ctx context.Context) error {
	readyCtx := ctx
	if o.readyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, o.readyTimeout)
		defer cancel()
	}

	err := o.env.Ready(readyCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		o.logger.Warnf("initialization cancelled while waiting for document: %v", ctx.Err())
		return ctx.Err()
	default:
		o.logger.Warnf("document not ready after %s, continuing: %v", o.readyTimeout, err)
		return nil
	}
}

// Reinitialize runs the pipeline again. The change detector is reused, not
// re-created. A request arriving while a reinitialization runs is dropped
// with ErrReinitInFlight.
func (o *Orchestrator) Reinitialize(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	switch o.state {
	case Ready:
	case ReInitializing:
		o.dropped++
		o.mu.Unlock()
		o.logger.Infof("reinitialization already in progress, dropping request")
		if o.hooks.OnDropped != nil {
			o.safeCall("dropped hook", o.hooks.OnDropped)
		}
		return nil, ErrReinitInFlight
	default:
		state := o.state
		o.mu.Unlock()
		o.logger.Debugf("reinitialize ignored in state %s", state)
		return nil, fmt.Errorf("%w: state is %s", ErrNotReady, state)
	}
	o.state = ReInitializing
	o.mu.Unlock()

	ctx, cancel := o.bind(ctx)
	defer cancel()

	o.logger.Infof("reinitializing for %s", o.env.Location())
	report := o.runPipeline(ctx, CycleReinitialize)

	o.mu.Lock()
	if o.state == ReInitializing {
		o.state = Ready
	}
	o.mu.Unlock()

	return report, nil
}

// bind derives a context that also ends when the orchestrator shuts down.
func (o *Orchestrator) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// onLocationChange is the change detector's callback.
func (o *Orchestrator) onLocationChange() {
	if _, err := o.Reinitialize(o.ctx); err != nil && !errors.Is(err, ErrReinitInFlight) {
		o.logger.Debugf("location change not handled: %v", err)
	}
}

// runPipeline runs every module in declared order. A failing module is
// recorded and the next one still runs. Only cancellation of ctx stops the
// run early.
func (o *Orchestrator) runPipeline(ctx context.Context, kind CycleKind) *CycleReport {
	rt := &module.Runtime{
		Doc:      o.env,
		Location: o.env.Location(),
		Tracker:  o.tracker,
		Logger:   o.logger.Named("pipeline"),
	}
	report := &CycleReport{
		Kind:      kind,
		Location:  rt.Location,
		StartedAt: time.Now(),
		Results:   make([]module.Result, 0, len(o.modules)),
	}

	for _, m := range o.modules {
		if ctx.Err() != nil {
			report.Interrupted = true
			o.logger.Warnf("%s cycle interrupted before module %s", kind, m.Name())
			break
		}
		report.Results = append(report.Results, module.Run(ctx, rt, m))
	}
	report.Duration = time.Since(report.StartedAt)

	o.mu.Lock()
	o.last = report
	o.cycles++
	o.mu.Unlock()

	o.logger.Infof("%s cycle on %s: %d applied, %d not applicable, %d failed (%s)",
		kind, report.Location,
		report.Count(module.Applied), report.Count(module.NotApplicable), report.Count(module.Failed),
		report.Duration.Round(time.Millisecond))

	if o.hooks.OnCycle != nil {
		o.safeCall("cycle hook", func() { o.hooks.OnCycle(report) })
	}
	return report
}

// Shutdown stops the detector, cancels every tracked resource and clears the
// debug handle. It is idempotent and returns the number of resources the
// final cleanup released.
func (o *Orchestrator) Shutdown() int {
	o.mu.Lock()
	if o.state == ShuttingDown || o.state == Shutdown {
		o.mu.Unlock()
		return 0
	}
	o.state = ShuttingDown
	o.mu.Unlock()

	o.logger.Infof("shutting down")

	o.cancel()
	o.detector.Stop()
	cleaned := o.tracker.CleanupAll()
	Clear(o)

	o.mu.Lock()
	o.state = Shutdown
	o.mu.Unlock()

	o.logger.Infof("shutdown complete, %d resources cleaned", cleaned)
	return cleaned
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stats returns the tracker's live resource counts.
func (o *Orchestrator) Stats() resource.Stats {
	return o.tracker.Stats()
}

// Signal returns the change detector's location signal.
func (o *Orchestrator) Signal() detector.LocationSignal {
	return o.detector.Signal()
}

// LastReport returns the most recent pipeline report, or nil.
func (o *Orchestrator) LastReport() *CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Tracker returns the resource tracker.
func (o *Orchestrator) Tracker() *resource.Tracker {
	return o.tracker
}

// Modules returns the module names in pipeline order.
func (o *Orchestrator) Modules() []string {
	names := make([]string, len(o.modules))
	for i, m := range o.modules {
		names[i] = m.Name()
	}
	return names
}

// Snapshot is a read-only view for diagnostics.
type Snapshot struct {
	State      string                     `json:"state"`
	Modules    []string                   `json:"modules"`
	Signal     detector.LocationSignal    `json:"signal"`
	Detector   detector.Stats             `json:"detector"`
	Monitoring bool                       `json:"monitoring"`
	Stats      resource.Stats             `json:"resources"`
	Resources  []resource.TrackedResource `json:"live_resources"`
	Cycles     int                        `json:"cycles"`
	Dropped    int                        `json:"dropped_reinitializations"`
	LastReport *CycleReport               `json:"last_report,omitempty"`
}

// Snapshot captures the current diagnostics.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		State:      o.state.String(),
		Cycles:     o.cycles,
		Dropped:    o.dropped,
		LastReport: o.last,
	}
	o.mu.Unlock()

	s.Modules = o.Modules()
	s.Signal = o.detector.Signal()
	s.Detector = o.detector.Stats()
	s.Monitoring = o.detector.Running()
	s.Stats = o.tracker.Stats()
	s.Resources = o.tracker.Resources()
	return s
}

func (o *Orchestrator) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("error in %s: %v\n%s", what, r, debug.Stack())
		}
	}()
	fn()
}
