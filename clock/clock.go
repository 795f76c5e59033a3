// Package clock supplies time and timers to the auction engine. Production code uses
// the wall clock; tests drive a Manual clock so every close, tick and extension is
// reproducible.
package clock

import (
	"time"
)

// Clock is the engine's only source of time.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (or, for Manual, inside Advance) once d elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not fired; it reports whether it did so.
	Stop() bool
}

// Real returns a Clock backed by package time. Now carries a monotonic reading.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
