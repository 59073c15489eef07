package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Poll intervals used by WaitFor.
const (
	DefaultPollInitial = 25 * time.Millisecond
	DefaultPollMax     = 250 * time.Millisecond
)

// Sleep blocks for d on a tracked timer. It returns nil when the timer fires,
// ErrCancelled when the timer is cancelled (for example by CleanupAll),
// ctx.Err() when ctx ends first and ErrNotScheduled when no timer could be
// registered.
func (t *Tracker) Sleep(ctx context.Context, d time.Duration, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	cancelled := make(chan struct{})

	id := t.registerTimer(func() { close(done) }, d, description, func() { close(cancelled) })
	if id == NoResource {
		return ErrNotScheduled
	}

	select {
	case <-done:
		return nil
	case <-cancelled:
		return ErrCancelled
	case <-ctx.Done():
		t.CancelTimer(id)
		return ctx.Err()
	}
}

// WaitFor polls cond on tracked timers until it holds or timeout worth of
// waiting has elapsed. Poll intervals grow exponentially from
// DefaultPollInitial to DefaultPollMax.
//
// Elapsed time is the sum of the requested sleeps rather than wall time, so the
// bound holds under any Scheduler.
func (t *Tracker) WaitFor(ctx context.Context, cond func() bool, timeout time.Duration, description string) error {
	if cond() {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultPollInitial
	b.MaxInterval = DefaultPollMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var waited time.Duration
	for waited < timeout {
		next := b.NextBackOff()
		if remaining := timeout - waited; next > remaining {
			next = remaining
		}

		if err := t.Sleep(ctx, next, description); err != nil {
			return fmt.Errorf("waiting for %s: %w", description, err)
		}
		waited += next

		if cond() {
			t.logger.Debugf("condition %q met after %s", description, waited)
			return nil
		}
	}

	return fmt.Errorf("%w: %s after %s", ErrTimeout, description, timeout)
}
