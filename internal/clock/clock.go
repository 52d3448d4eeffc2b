// Package clock abstracts wall-clock reads so rate windows and identifier
// generation can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts time-related functions for easier testing.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Ensure returns c when non-nil, otherwise the real clock.
func Ensure(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
