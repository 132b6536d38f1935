// Package clock abstracts one-shot timers so that supervisor timing (confirmation,
// backoff, polling, staggering) can run against a virtual clock in tests.
package clock

import "time"

// Timer is a cancellation token for a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the callback
	// already fired or the timer was stopped before.
	Stop() bool
}

// Clock schedules callbacks after a delay. Callbacks run on a goroutine owned by the
// clock and must not assume any particular caller.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the wall clock backed by time.AfterFunc.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
