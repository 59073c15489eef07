// Package module defines the contract between the orchestrator and the
// feature modules it runs against a page.
package module

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
	"github.com/entrhq/pagewatch/pkg/resource"
)

// Outcome is what one Apply call achieved.
type Outcome int

const (
	// Applied means the module acted on the page (or found it already in the
	// desired state).
	Applied Outcome = iota + 1
	// NotApplicable means the elements the module works on are absent here.
	NotApplicable
	// Failed means Apply reported failure, returned an error or panicked.
	Failed
)

// String returns the outcome name used in logs, metrics and reports.
func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NotApplicable:
		return "not_applicable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Module is one idempotent unit of work against the page.
//
// Apply must leave the page in the same state however many times it runs
// against unchanged page state, and must return NotApplicable, not an error,
// when the page lacks what it works on.
type Module interface {
	Name() string
	Apply(ctx context.Context, rt *Runtime) (Outcome, error)
}

// Runtime is what a module may use while applying.
type Runtime struct {
	Doc      env.Document
	Location string
	Tracker  *resource.Tracker
	Logger   *logging.Logger
}

// Result is the record of one module run.
type Result struct {
	Module    string        `json:"module"`
	Outcome   Outcome       `json:"outcome"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// DurationMs returns the run time in milliseconds.
func (r Result) DurationMs() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

var (
	// ErrPanic wraps a recovered panic.
	ErrPanic = errors.New("module panicked")
	// ErrReportedFailure is the error of a module that returned Failed without one.
	ErrReportedFailure = errors.New("module reported failure")
)

// Run applies m inside a failure boundary: a returned error or a panic becomes
// a Failed result and is logged at ERROR, never propagated.
func Run(ctx context.Context, rt *Runtime, m Module) (res Result) {
	name := m.Name()
	logger := rt.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	start := time.Now()

	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.Succeeded = false
			res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			logger.Errorf("module %s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()

	res.Module = name
	outcome, err := m.Apply(ctx, rt)
	switch {
	case err != nil:
		res.Outcome = Failed
		res.Err = err
		logger.Errorf("module %s failed: %v", name, err)
	case outcome == Failed:
		res.Outcome = Failed
		res.Err = ErrReportedFailure
		logger.Errorf("module %s failed: %v", name, res.Err)
	case outcome == NotApplicable:
		res.Outcome = NotApplicable
		res.Succeeded = true
		logger.Debugf("module %s not applicable on %s", name, rt.Location)
	default:
		res.Outcome = Applied
		res.Succeeded = true
		logger.Debugf("module %s applied", name)
	}
	return res
}

// Func adapts a function to Module.
func Func(name string, fn func(ctx context.Context, rt *Runtime) (Outcome, error)) Module {
	return funcModule{name: name, fn: fn}
}

type funcModule struct {
	name string
	fn   func(ctx context.Context, rt *Runtime) (Outcome, error)
}

func (f funcModule) Name() string { return f.name }

func (f funcModule) Apply(ctx context.Context, rt *Runtime) (Outcome, error) {
	return f.fn(ctx, rt)
}
