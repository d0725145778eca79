package conflict

import (
	"log/slog"
	"testing"
	"time"

	"github.com/hopelink/hopelink/internal/database"
	"github.com/hopelink/hopelink/internal/interval"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

func setupDetector(t *testing.T) (*Detector, *store.ScheduleStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	schedules := store.NewScheduleStore(db)
	return NewDetector(schedules, slog.Default()), schedules
}

func mkSchedule(t *testing.T, s *store.ScheduleStore, childID, title string, start, end time.Time, allDay bool) *model.Schedule {
	t.Helper()
	sched := &model.Schedule{
		ChildID:   childID,
		UserID:    "user-1",
		Title:     title,
		Category:  model.CategoryHospital,
		StartTime: start,
		EndTime:   end,
		AllDay:    allDay,
	}
	if err := s.Create(sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

func hhmm(hour, min int) time.Time {
	return time.Date(2026, 4, 1, hour, min, 0, 0, time.UTC)
}

func TestRecomputeTouchingEndpointsNoConflict(t *testing.T) {
	d, s := setupDetector(t)

	a := mkSchedule(t, s, "child-1", "Neurology", hhmm(10, 0), hhmm(11, 0), false)
	b := mkSchedule(t, s, "child-1", "Rehab", hhmm(11, 0), hhmm(12, 0), false)

	reports, err := d.Recompute("child-1", a.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("reports = %d, want 0 (touching endpoints)", len(reports))
	}

	for _, id := range []string{a.ID, b.ID} {
		got, _ := s.GetByID(id)
		if got.HasConflict {
			t.Errorf("schedule %s should not be flagged", id)
		}
	}
}

func TestRecomputeSymmetricConflict(t *testing.T) {
	d, s := setupDetector(t)

	a := mkSchedule(t, s, "child-1", "Neurology", hhmm(10, 0), hhmm(11, 0), false)
	c := mkSchedule(t, s, "child-1", "Speech therapy", hhmm(10, 30), hhmm(11, 30), false)

	reports, err := d.Recompute("child-1", c.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}

	r := reports[0]
	if r.ScheduleID != c.ID || r.OtherID != a.ID {
		t.Errorf("report should center on the mutated schedule: %+v", r)
	}
	if r.OverlapMinutes != 30 {
		t.Errorf("overlap minutes = %d, want 30", r.OverlapMinutes)
	}
	if r.Kind != interval.KindPartial {
		t.Errorf("kind = %q, want partial_overlap", r.Kind)
	}

	gotA, _ := s.GetByID(a.ID)
	gotC, _ := s.GetByID(c.ID)
	if !gotA.HasConflict || !gotC.HasConflict {
		t.Fatal("both sides must be flagged")
	}
	if len(gotA.ConflictWith) != 1 || gotA.ConflictWith[0] != c.ID {
		t.Errorf("a.conflict_with = %v, want [%s]", gotA.ConflictWith, c.ID)
	}
	if len(gotC.ConflictWith) != 1 || gotC.ConflictWith[0] != a.ID {
		t.Errorf("c.conflict_with = %v, want [%s]", gotC.ConflictWith, a.ID)
	}
}

func TestRecomputeClearsStaleConflicts(t *testing.T) {
	d, s := setupDetector(t)

	a := mkSchedule(t, s, "child-1", "Neurology", hhmm(10, 0), hhmm(11, 0), false)
	b := mkSchedule(t, s, "child-1", "Rehab", hhmm(10, 30), hhmm(11, 30), false)

	if _, err := d.Recompute("child-1", b.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// Move b out of the way and recompute.
	got, _ := s.GetByID(b.ID)
	got.StartTime = hhmm(14, 0)
	got.EndTime = hhmm(15, 0)
	if err := s.Update(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := d.Recompute("child-1", b.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		fresh, _ := s.GetByID(id)
		if fresh.HasConflict || len(fresh.ConflictWith) != 0 {
			t.Errorf("schedule %s still flagged after schedules separated", id)
		}
	}
}

func TestRecomputeAllDayRules(t *testing.T) {
	d, s := setupDetector(t)

	allDayA := mkSchedule(t, s, "child-1", "Hospital day", hhmm(0, 0), hhmm(0, 0), true)
	allDayB := mkSchedule(t, s, "child-1", "Insurance paperwork", hhmm(9, 0), hhmm(9, 0), true)
	timed := mkSchedule(t, s, "child-1", "Checkup", hhmm(10, 0), hhmm(11, 0), false)

	if _, err := d.Recompute("child-1", ""); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	gotTimed, _ := s.GetByID(timed.ID)
	if gotTimed.HasConflict {
		t.Error("timed schedule must not conflict with all-day entries")
	}

	gotA, _ := s.GetByID(allDayA.ID)
	gotB, _ := s.GetByID(allDayB.ID)
	if !gotA.HasConflict || !gotB.HasConflict {
		t.Error("two all-day entries on the same date should conflict")
	}
	if len(gotA.ConflictWith) != 1 || gotA.ConflictWith[0] != allDayB.ID {
		t.Errorf("all-day conflict refs = %v", gotA.ConflictWith)
	}
}

func TestRecomputeEmptySet(t *testing.T) {
	d, _ := setupDetector(t)

	reports, err := d.Recompute("child-without-schedules", "")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("reports = %d, want 0", len(reports))
	}
}
