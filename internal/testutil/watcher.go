package testutil

import "sync/atomic"

// StubWatcher counts Stop calls and optionally fails or panics on Stop.
type StubWatcher struct {
	StopErr   error
	PanicWith any
	stops     atomic.Int32
}

// Stop records the call.
func (w *StubWatcher) Stop() error {
	w.stops.Add(1)
	if w.PanicWith != nil {
		panic(w.PanicWith)
	}
	return w.StopErr
}

// Stops returns how many times Stop was called.
func (w *StubWatcher) Stops() int {
	return int(w.stops.Load())
}
