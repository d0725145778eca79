package interval

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func timed(t *testing.T, start, end time.Time) Interval {
	t.Helper()
	iv, err := New(start, end, false)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	return iv
}

func TestNewRejectsInvertedSpan(t *testing.T) {
	if _, err := New(at(11, 0), at(10, 0), false); err != ErrInvalid {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if _, err := New(at(10, 0), at(10, 0), false); err != ErrInvalid {
		t.Errorf("zero-length err = %v, want ErrInvalid", err)
	}
}

func TestNewAllDayNormalizes(t *testing.T) {
	iv, err := New(at(14, 30), time.Time{}, true)
	if err != nil {
		t.Fatalf("new all-day: %v", err)
	}
	wantStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !iv.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", iv.Start, wantStart)
	}
	if !iv.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("end = %v, want next midnight", iv.End)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Interval
		want   bool
	}{
		{"touching endpoints do not conflict", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(11, 0), End: at(12, 0)}, false},
		{"partial overlap", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(10, 30), End: at(11, 30)}, true},
		{"identical", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(10, 0), End: at(11, 0)}, true},
		{"containment", Interval{Start: at(9, 0), End: at(12, 0)}, Interval{Start: at(10, 0), End: at(11, 0)}, true},
		{"disjoint", Interval{Start: at(9, 0), End: at(10, 0)}, Interval{Start: at(14, 0), End: at(15, 0)}, false},
	}

	for _, tt := range tests {
		if got := tt.a.Overlaps(tt.b); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
		// Overlap is symmetric.
		if got := tt.b.Overlaps(tt.a); got != tt.want {
			t.Errorf("%s (reversed): Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAllDayOverlapRules(t *testing.T) {
	allDay, _ := New(at(0, 0), time.Time{}, true)
	sameDayTimed := Interval{Start: at(10, 0), End: at(11, 0)}

	if allDay.Overlaps(sameDayTimed) {
		t.Error("all-day should not conflict with a timed interval")
	}
	if sameDayTimed.Overlaps(allDay) {
		t.Error("timed should not conflict with an all-day interval")
	}

	otherAllDay, _ := New(at(23, 59), time.Time{}, true)
	if !allDay.Overlaps(otherAllDay) {
		t.Error("two all-day intervals on the same date should conflict")
	}

	nextDay, _ := New(at(0, 0).AddDate(0, 0, 1), time.Time{}, true)
	if allDay.Overlaps(nextDay) {
		t.Error("all-day intervals on different dates should not conflict")
	}
}

func TestOverlapSpan(t *testing.T) {
	a := Interval{Start: at(10, 0), End: at(11, 0)}
	b := Interval{Start: at(10, 30), End: at(11, 30)}

	start, end, ok := Overlap(a, b)
	if !ok {
		t.Fatal("expected overlap")
	}
	if !start.Equal(at(10, 30)) || !end.Equal(at(11, 0)) {
		t.Errorf("overlap = [%v, %v), want [10:30, 11:00)", start, end)
	}
	if got := Minutes(start, end); got != 30 {
		t.Errorf("minutes = %d, want 30", got)
	}

	if _, _, ok := Overlap(a, Interval{Start: at(11, 0), End: at(12, 0)}); ok {
		t.Error("touching intervals should return no overlap span")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want Kind
	}{
		{"identical spans", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(10, 0), End: at(11, 0)}, KindFull},
		{"a contains b", Interval{Start: at(9, 0), End: at(12, 0)}, Interval{Start: at(10, 0), End: at(11, 0)}, KindContains},
		{"b contains a", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(9, 0), End: at(12, 0)}, KindContains},
		{"staggered", Interval{Start: at(10, 0), End: at(11, 0)}, Interval{Start: at(10, 30), End: at(11, 30)}, KindPartial},
	}

	for _, tt := range tests {
		if got := Classify(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Classify = %q, want %q", tt.name, got, tt.want)
		}
	}
}
