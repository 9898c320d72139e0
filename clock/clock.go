// Package clock abstracts the time source used by the ledger, timers and
// the close protocol so that throttling can be tested without waiting on
// the wall clock.
package clock

import "time"

// Clock is the time source injected into every component that decays,
// sleeps or schedules.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)

	// AfterFunc calls f once d has elapsed. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the call from running. It returns true if the call was
// still pending, false if it already ran or was stopped.
func (t *Timer) Stop() bool { return t.stop() }
