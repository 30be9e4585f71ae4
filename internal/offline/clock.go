package offline

import "time"

// Clock abstracts wall time and timer scheduling so debounce and GC
// behavior is deterministic in tests.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// AfterFunc schedules f to run after d and returns a cancelable handle.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable scheduled call.
type Timer interface {
	// Stop cancels the pending call. It reports whether the call was
	// still pending.
	Stop() bool
}

// systemClock is the production Clock backed by the time package.
type systemClock struct{}

// SystemClock returns the real-time Clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
