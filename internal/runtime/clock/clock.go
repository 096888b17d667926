// Package clock provides the time source and cancellable scheduled tasks used by
// the connection manager and the deduplicator.
//
// Components never call time.Now or time.AfterFunc directly; they take a Clock so
// tests can drive reconnect delays, cooldowns and fingerprint expiry with Fake.
package clock

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call stopped
	// the timer (false if it already fired or was stopped).
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
