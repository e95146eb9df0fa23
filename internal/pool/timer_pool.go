// Package pool provides pooled resources shared across the module's
// timeout paths.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer from the pool armed for duration d.
//
// The caller must return the timer with PutTimer once done with it.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	if t.Reset(d) {
		// The timer was still active; drain a pending fire so the caller
		// does not observe a stale tick.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops t and returns it to the pool.
//
// t must not be touched after the call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C in case the timer fired but nobody consumed the tick.
		select {
		case <-t.C:
		default:
		}
	}

	timerPool.Put(t)
}
