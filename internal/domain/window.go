package domain

import "time"

// Window is a half-open time interval [Start, Start+Duration).
type Window struct {
	Start    time.Time
	Duration time.Duration
}

func (w Window) End() time.Time {
	return w.Start.Add(w.Duration)
}

// Overlaps reports whether two half-open windows intersect. Touching
// endpoints do not overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End()) && other.Start.Before(w.End())
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}
