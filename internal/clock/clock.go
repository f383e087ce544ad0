// Package clock abstracts the time source so deadline and reaper behaviour
// can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the two time operations the scheduler needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
