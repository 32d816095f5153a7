package clock

import "time"

// Clock is the single authoritative time source. Every component that
// needs the current time takes a Clock so tests stay deterministic.
// time.Time values returned by the real clock carry a monotonic reading,
// so elapsed-time math is safe across NTP steps.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant. Test helper.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// Stepping returns a mutable clock for tests that need to advance time.
type Stepping struct {
	T time.Time
}

func (s *Stepping) Now() time.Time { return s.T }

// Advance moves the clock forward.
func (s *Stepping) Advance(d time.Duration) { s.T = s.T.Add(d) }
