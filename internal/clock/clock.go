// Package clock abstracts wall-clock time so the detection pipeline and
// its gates can be tested against a fixed instant.
package clock

import "time"

// Clock yields the current time.
type Clock interface {
	Now() time.Time
}

// System reads the OS clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Advance moves it forward.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Advance shifts the fixed clock by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
