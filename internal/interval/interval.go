// Package interval provides the half-open time interval underlying
// schedule conflict detection and sync comparisons.
package interval

import (
	"errors"
	"time"
)

// ErrInvalid is returned when an interval's end is not after its start.
var ErrInvalid = errors.New("interval end must be after start")

// Kind classifies how two overlapping intervals relate.
type Kind string

const (
	KindFull     Kind = "full_overlap"
	KindContains Kind = "contains"
	KindPartial  Kind = "partial_overlap"
)

// Interval is a half-open span [Start, End). An all-day interval covers
// the full civil day of its start instant.
type Interval struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

// New builds a validated interval. For all-day intervals the span is
// normalized to the civil day containing start; otherwise end must be
// strictly after start.
func New(start, end time.Time, allDay bool) (Interval, error) {
	if allDay {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		return Interval{Start: day, End: day.AddDate(0, 0, 1), AllDay: true}, nil
	}
	if !end.After(start) {
		return Interval{}, ErrInvalid
	}
	return Interval{Start: start, End: end}, nil
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether two intervals conflict. The intersection is
// open: touching endpoints do not overlap. All-day intervals only ever
// overlap other all-day intervals (same date), never timed ones.
func (iv Interval) Overlaps(other Interval) bool {
	if iv.AllDay != other.AllDay {
		return false
	}
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Overlap returns the overlapping span of a and b. ok is false when the
// intervals do not overlap.
func Overlap(a, b Interval) (start, end time.Time, ok bool) {
	if !a.Overlaps(b) {
		return time.Time{}, time.Time{}, false
	}
	start = a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end = a.End
	if b.End.Before(end) {
		end = b.End
	}
	return start, end, true
}

// Classify reports how a and b overlap. The result is undefined if the
// intervals do not overlap.
func Classify(a, b Interval) Kind {
	switch {
	case a.Start.Equal(b.Start) && a.End.Equal(b.End):
		return KindFull
	case !a.Start.After(b.Start) && !a.End.Before(b.End):
		return KindContains
	case !b.Start.After(a.Start) && !b.End.Before(a.End):
		return KindContains
	default:
		return KindPartial
	}
}

// Minutes returns the whole minutes between start and end.
func Minutes(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}
