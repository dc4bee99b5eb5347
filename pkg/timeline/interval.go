// Package timeline defines the discrete animation time axis shared by every
// pipeline stage: time points measured in ticks and closed validity intervals.
package timeline

import (
	"fmt"
	"math"
)

// TimePoint is a point on the animation time axis, measured in ticks.
type TimePoint int

const (
	// TicksPerSecond is the number of time ticks per second of animation.
	TicksPerSecond = 4800

	// TimeNegativeInfinity is the smallest representable time point.
	TimeNegativeInfinity TimePoint = math.MinInt32

	// TimePositiveInfinity is the largest representable time point.
	TimePositiveInfinity TimePoint = math.MaxInt32
)

// TimeInterval is a closed interval [Start, End] on the animation time axis.
// An interval is empty if End is negative infinity or Start lies after End.
type TimeInterval struct {
	start TimePoint
	end   TimePoint
}

// Interval creates the closed interval [start, end].
func Interval(start, end TimePoint) TimeInterval {
	return TimeInterval{start: start, end: end}
}

// Instant creates an interval containing only t.
func Instant(t TimePoint) TimeInterval {
	return TimeInterval{start: t, end: t}
}

// Infinite returns the interval spanning the entire time axis.
func Infinite() TimeInterval {
	return TimeInterval{start: TimeNegativeInfinity, end: TimePositiveInfinity}
}

// Empty returns an interval that contains no time point.
func Empty() TimeInterval {
	return TimeInterval{start: TimeNegativeInfinity, end: TimeNegativeInfinity}
}

// Start returns the first time point of the interval.
func (iv TimeInterval) Start() TimePoint { return iv.start }

// End returns the last time point of the interval.
func (iv TimeInterval) End() TimePoint { return iv.end }

// IsEmpty reports whether the interval contains no time point.
func (iv TimeInterval) IsEmpty() bool {
	return iv.end == TimeNegativeInfinity || iv.start > iv.end
}

// IsInfinite reports whether the interval spans the entire time axis.
func (iv TimeInterval) IsInfinite() bool {
	return iv.start == TimeNegativeInfinity && iv.end == TimePositiveInfinity
}

// Contains reports whether t lies inside the interval.
func (iv TimeInterval) Contains(t TimePoint) bool {
	return !iv.IsEmpty() && iv.start <= t && t <= iv.end
}

// ContainsInterval reports whether other lies entirely inside iv.
func (iv TimeInterval) ContainsInterval(other TimeInterval) bool {
	if other.IsEmpty() {
		return true
	}
	return !iv.IsEmpty() && iv.start <= other.start && other.end <= iv.end
}

// Intersect returns the part of iv that also lies inside other.
// The result is never wider than iv.
func (iv TimeInterval) Intersect(other TimeInterval) TimeInterval {
	if iv.IsEmpty() || other.IsEmpty() {
		return Empty()
	}
	if other.end < iv.end {
		iv.end = other.end
	}
	if other.start > iv.start {
		iv.start = other.start
	}
	if iv.start > iv.end {
		return Empty()
	}
	return iv
}

// Union returns the smallest interval enclosing both iv and other.
func (iv TimeInterval) Union(other TimeInterval) TimeInterval {
	if iv.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return iv
	}
	if other.start < iv.start {
		iv.start = other.start
	}
	if other.end > iv.end {
		iv.end = other.end
	}
	return iv
}

// WithStart returns a copy of iv starting at t.
func (iv TimeInterval) WithStart(t TimePoint) TimeInterval {
	iv.start = t
	return iv
}

// WithEnd returns a copy of iv ending at t.
func (iv TimeInterval) WithEnd(t TimePoint) TimeInterval {
	iv.end = t
	return iv
}

// Duration returns the number of ticks between start and end.
func (iv TimeInterval) Duration() TimePoint {
	return iv.end - iv.start
}

func (iv TimeInterval) String() string {
	if iv.IsEmpty() {
		return "[empty]"
	}
	return fmt.Sprintf("[%s, %s]", formatTime(iv.start), formatTime(iv.end))
}

func formatTime(t TimePoint) string {
	switch t {
	case TimeNegativeInfinity:
		return "-inf"
	case TimePositiveInfinity:
		return "+inf"
	}
	return fmt.Sprintf("%d", int(t))
}
