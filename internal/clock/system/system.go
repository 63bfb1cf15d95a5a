// Package system is the wall-clock implementation of summary.Clock.
package system

import "time"

// Clock reports wall time in UTC so run timestamps serialize uniformly.
type Clock struct{}

// New returns a Clock.
func New() Clock { return Clock{} }

// Now returns the current UTC time.
func (Clock) Now() time.Time { return time.Now().UTC() }
