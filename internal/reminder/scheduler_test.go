package reminder

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hopelink/hopelink/internal/database"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/notify"
	"github.com/hopelink/hopelink/internal/store"
)

type notifyRecorder struct {
	mu    sync.Mutex
	calls []notify.Payload
}

func (r *notifyRecorder) NotifyUser(userID, notifType string, payload notify.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
}

func (r *notifyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func setupScheduler(t *testing.T) (*Scheduler, *store.ScheduleStore, *notifyRecorder) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schedules := store.NewScheduleStore(db)
	rec := &notifyRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(schedules, store.NewReminderStore(db), rec, logger)
	return s, schedules, rec
}

func createSchedule(t *testing.T, schedules *store.ScheduleStore, start time.Time, offsets []int) *model.Schedule {
	t.Helper()
	sched := &model.Schedule{
		UserID:          "user-1",
		ChildID:         "child-1",
		Title:           "Cardiology checkup",
		Category:        model.CategoryCheckup,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		ReminderMinutes: offsets,
	}
	if err := schedules.Create(sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

func TestTickDeliversDueReminderOnce(t *testing.T) {
	s, schedules, rec := setupScheduler(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	createSchedule(t, schedules, now.Add(55*time.Minute), []int{60})

	s.Tick(now)
	if got := rec.count(); got != 1 {
		t.Fatalf("got %d notifications, want 1", got)
	}

	// Repeated ticks never re-send.
	s.Tick(now.Add(time.Minute))
	s.Tick(now.Add(2 * time.Minute))
	if got := rec.count(); got != 1 {
		t.Errorf("got %d notifications after repeat ticks, want 1", got)
	}
}

func TestTickMentionsUncheckedChecklistItems(t *testing.T) {
	s, schedules, rec := setupScheduler(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	sched := createSchedule(t, schedules, now.Add(30*time.Minute), []int{60})
	sched.Checklist = []model.ChecklistItem{
		{Item: "insurance card"},
		{Item: "referral letter", Checked: true},
	}
	if err := schedules.Update(sched); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	s.Tick(now)
	if got := rec.count(); got != 1 {
		t.Fatalf("got %d notifications, want 1", got)
	}
	body := rec.calls[0].Body
	if !strings.Contains(body, "insurance card") {
		t.Errorf("body %q missing unchecked item", body)
	}
	if strings.Contains(body, "referral letter") {
		t.Errorf("body %q mentions an already checked item", body)
	}
}

func TestTickHonorsEachOffsetSeparately(t *testing.T) {
	s, schedules, rec := setupScheduler(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	createSchedule(t, schedules, now.Add(30*time.Minute), []int{1440, 60})

	// Both the day-before and hour-before lead times have passed.
	s.Tick(now)
	if got := rec.count(); got != 2 {
		t.Errorf("got %d notifications, want one per offset", got)
	}
}

func TestTickSkipsNotYetDue(t *testing.T) {
	s, schedules, rec := setupScheduler(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	createSchedule(t, schedules, now.Add(3*time.Hour), []int{60})

	s.Tick(now)
	if got := rec.count(); got != 0 {
		t.Errorf("got %d notifications for a reminder not yet due, want 0", got)
	}

	s.Tick(now.Add(2*time.Hour + time.Minute))
	if got := rec.count(); got != 1 {
		t.Errorf("got %d notifications once due, want 1", got)
	}
}

func TestTickIgnoresDeletedSchedules(t *testing.T) {
	s, schedules, rec := setupScheduler(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	sched := createSchedule(t, schedules, now.Add(30*time.Minute), []int{60})
	if err := schedules.SoftDelete(sched.ID, model.SyncUnsynced); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	s.Tick(now)
	if got := rec.count(); got != 0 {
		t.Errorf("got %d notifications for a deleted schedule, want 0", got)
	}
}
