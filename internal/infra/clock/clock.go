// Package clock provides wall-clock time as floating point unixtime seconds.
package clock

import "time"

// Clock supplies the current time in seconds since the Unix epoch.
// The cache engine uses it for access times, explicit expiry and the
// global flush horizon, so tests can substitute a Fake.
type Clock interface {
	Now() float64
}

// System reads the real wall clock.
type System struct{}

// Now returns the current unixtime in seconds with sub-second precision.
func (System) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	Time float64
}

// NewFake creates a fake clock starting at the given unixtime.
func NewFake(start float64) *Fake {
	return &Fake{Time: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() float64 {
	return f.Time
}

// Advance moves the fake clock forward by secs seconds.
func (f *Fake) Advance(secs float64) {
	f.Time += secs
}
