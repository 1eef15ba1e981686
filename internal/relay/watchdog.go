package relay

import (
	"context"
	"time"
)

// Watchdog is a single-shot timer that cancels a single bound
// operation on expiry, and lets the caller distinguish "the operation
// timed out" from "the operation failed for some other reason" after
// the operation resolves. A Watchdog is created fresh before each
// timed phase; it is not shared or reused across phases.
type Watchdog struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	fired  chan struct{}
}

// arm schedules a single-shot timer for duration and returns a
// Watchdog bound to it. slot() returns the context to attach to a
// cancellable operation; expired() is valid only after that operation
// has resolved.
func arm(duration time.Duration) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		ctx:    ctx,
		cancel: cancel,
		fired:  make(chan struct{}),
	}
	w.timer = time.AfterFunc(duration, func() {
		close(w.fired)
		cancel()
	})
	return w
}

// slot returns the cancellation context callers attach to a
// cancellable I/O operation.
func (w *Watchdog) slot() context.Context {
	return w.ctx
}

// expired reports whether the Watchdog's timer fired before the bound
// operation resolved and disarm was called.
func (w *Watchdog) expired() bool {
	select {
	case <-w.fired:
		return true
	default:
		return false
	}
}

// disarm stops the pending timer. If the operation completed before
// the timer fired, the timer is discarded with no observable effect;
// if the timer already fired, disarm is a no-op (expired() remains
// true for the subsequent query).
func (w *Watchdog) disarm() {
	w.timer.Stop()
	w.cancel()
}

// awaitWithTimeout runs op bound to a fresh Watchdog armed for
// duration, then reports whether op ended because the Watchdog
// expired. It implements the arm-bind-await-inspect pattern spec.md
// §9 asks implementers to encapsulate, so call sites never inline
// "check expired after the fact" logic themselves.
func awaitWithTimeout(duration time.Duration, op func(ctx context.Context) error) (timedOut bool, err error) {
	w := arm(duration)
	err = op(w.slot())
	timedOut = w.expired()
	w.disarm()
	return timedOut, err
}
