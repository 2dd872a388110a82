// Package system reads the wall clock.
package system

import "time"

// Clock reports the current time in UTC, keeping the monotonic reading so
// durations between two calls stay accurate.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
