package driven

import "time"

// Clock is the time source for every timer-driven component.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls fn in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable delayed callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if it already
	// fired or was stopped.
	Stop() bool
}
