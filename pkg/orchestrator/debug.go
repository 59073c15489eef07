package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/entrhq/pagewatch/pkg/config"
)

// Handle is the process-wide debug view of the running orchestrator. It is
// published when an Orchestrator is created and cleared when it shuts down.
type Handle struct {
	Orchestrator *Orchestrator
	Version      string
	Config       *config.Config
}

var (
	handleMu sync.RWMutex
	handle   *Handle
)

// Publish makes h the current debug handle, replacing any previous one.
func Publish(h Handle) {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle = &h
}

// Current returns the published handle.
func Current() (Handle, bool) {
	handleMu.RLock()
	defer handleMu.RUnlock()
	if handle == nil {
		return Handle{}, false
	}
	return *handle, true
}

// Clear removes the handle if it still belongs to o.
func Clear(o *Orchestrator) {
	handleMu.Lock()
	defer handleMu.Unlock()
	if handle != nil && handle.Orchestrator == o {
		handle = nil
	}
}

// MarshalJSON renders the version, configuration and a live snapshot.
func (h Handle) MarshalJSON() ([]byte, error) {
	view := struct {
		Version  string         `json:"version"`
		Config   *config.Config `json:"config,omitempty"`
		Snapshot *Snapshot      `json:"snapshot,omitempty"`
	}{
		Version: h.Version,
		Config:  h.Config,
	}
	if h.Orchestrator != nil {
		s := h.Orchestrator.Snapshot()
		view.Snapshot = &s
	}
	return json.Marshal(view)
}
