package orchestrator

import (
	"time"

	"github.com/entrhq/pagewatch/pkg/module"
)

// State is the orchestrator lifecycle state.
//
//	Uninitialized -> Initializing -> Ready <-> ReInitializing
//	any state -> ShuttingDown -> Shutdown
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	ReInitializing
	ShuttingDown
	Shutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case ReInitializing:
		return "reinitializing"
	case ShuttingDown:
		return "shutting_down"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{Uninitialized, Initializing, Ready, ReInitializing, ShuttingDown, Shutdown}
}

// CycleKind tells an initial pipeline run from a re-run.
type CycleKind string

const (
	CycleInitialize   CycleKind = "initialize"
	CycleReinitialize CycleKind = "reinitialize"
)

// CycleReport is the outcome of one pipeline run.
type CycleReport struct {
	Kind        CycleKind       `json:"kind"`
	Location    string          `json:"location"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Results     []module.Result `json:"results"`
	Interrupted bool            `json:"interrupted,omitempty"`
}

// Count returns how many results have the given outcome.
func (r *CycleReport) Count(outcome module.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed reports whether any module failed.
func (r *CycleReport) Failed() bool {
	return r.Count(module.Failed) > 0
}
