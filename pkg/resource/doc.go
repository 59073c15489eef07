// Package resource tracks every deferred callback and change watcher pagewatch
// creates, so that each one can be cancelled on its own and all of them can be
// cancelled at shutdown.
//
// # Timers
//
// RegisterTimer schedules a one-shot callback through a Scheduler. The returned
// ID stays valid for cancellation until the timer fires; the entry is removed
// from the live set before the callback runs, and the callback runs inside a
// recover boundary.
//
//	id := tracker.RegisterTimer(func() { ... }, 500*time.Millisecond, "shipping options")
//	if id == resource.NoResource {
//		// the timer was not scheduled
//	}
//	tracker.CancelTimer(id)
//
// # Waiting
//
// Sleep and WaitFor express bounded waits as tracked timers, so a shutdown
// releases any goroutine blocked in them with ErrCancelled.
//
// # Cleanup
//
// CleanupAll cancels everything still live and reports the count. It never
// panics and calling it again reports zero.
package resource
