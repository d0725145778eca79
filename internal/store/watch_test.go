package store

import (
	"testing"
	"time"

	"github.com/hopelink/hopelink/internal/model"
)

func testWatch(userID string) *model.WatchSubscription {
	return &model.WatchSubscription{
		UserID:     userID,
		ChildID:    "child-1",
		Hospital:   "University Hospital",
		Department: "Pediatric Neurology",
		Enabled:    true,
	}
}

func TestWatchCreateAndGet(t *testing.T) {
	s := NewWatchStore(setupTestDB(t))

	sub := testWatch("user-1")
	if err := s.Create(sub); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("create should assign an id")
	}

	got, err := s.GetByID(sub.ID)
	if err != nil {
		t.Fatalf("get watch: %v", err)
	}
	if got == nil {
		t.Fatal("watch not found")
	}
	if got.Hospital != "University Hospital" || !got.Enabled {
		t.Errorf("got %+v", got)
	}
	if got.ToHour != 24 {
		t.Errorf("to_hour = %d, want default 24", got.ToHour)
	}
	if got.Status != model.WatchStopped {
		t.Errorf("status = %q, want stopped", got.Status)
	}
}

func TestWatchRecordAlert(t *testing.T) {
	s := NewWatchStore(setupTestDB(t))

	sub := testWatch("user-1")
	if err := s.Create(sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := s.RecordAlert(sub.ID, at); err != nil {
		t.Fatalf("record alert: %v", err)
	}
	if err := s.RecordAlert(sub.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("record alert: %v", err)
	}

	got, _ := s.GetByID(sub.ID)
	if got.AlertCount != 2 {
		t.Errorf("alert count = %d, want 2", got.AlertCount)
	}
	if got.LastAlertAt == nil || !got.LastAlertAt.Equal(at.Add(time.Minute)) {
		t.Errorf("last alert at = %v, want %v", got.LastAlertAt, at.Add(time.Minute))
	}
}

func TestMarkAlertSeenDedup(t *testing.T) {
	s := NewWatchStore(setupTestDB(t))

	now := time.Date(2026, 4, 1, 9, 0, 1, 0, time.UTC)
	window := 60 * time.Second

	fresh, err := s.MarkAlertSeen("sub:slot-7:1000", "sub", now, window)
	if err != nil {
		t.Fatalf("mark alert seen: %v", err)
	}
	if !fresh {
		t.Error("first sighting should be fresh")
	}

	// Same key 4 seconds later, inside the window.
	fresh, err = s.MarkAlertSeen("sub:slot-7:1000", "sub", now.Add(4*time.Second), window)
	if err != nil {
		t.Fatalf("mark alert seen: %v", err)
	}
	if fresh {
		t.Error("repeat within the dedup window should be suppressed")
	}

	// Same key after the window expires.
	fresh, err = s.MarkAlertSeen("sub:slot-7:1000", "sub", now.Add(window+time.Second), window)
	if err != nil {
		t.Fatalf("mark alert seen: %v", err)
	}
	if !fresh {
		t.Error("sighting after the window should be fresh again")
	}

	// The same slot under another subscription is its own sighting.
	fresh, err = s.MarkAlertSeen("sub:slot-7:1000", "other-sub", now.Add(2*time.Second), window)
	if err != nil {
		t.Fatalf("mark alert seen: %v", err)
	}
	if !fresh {
		t.Error("another subscription's first sighting should be fresh")
	}
}

func TestWatchDeactivateInactive(t *testing.T) {
	db := setupTestDB(t)
	s := NewWatchStore(db)

	stale := testWatch("user-1")
	fresh := testWatch("user-2")
	for _, sub := range []*model.WatchSubscription{stale, fresh} {
		if err := s.Create(sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// Age the first subscription's activity.
	old := time.Now().Add(-60 * 24 * time.Hour).UTC()
	if _, err := db.Exec(`UPDATE watch_subscriptions SET last_activity_at = ? WHERE id = ?`, old, stale.ID); err != nil {
		t.Fatalf("age subscription: %v", err)
	}

	ids, err := s.DeactivateInactive(time.Now().Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("deactivate inactive: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("deactivated = %v, want [%s]", ids, stale.ID)
	}

	got, _ := s.GetByID(stale.ID)
	if got.Enabled {
		t.Error("stale subscription should be disabled")
	}
	got, _ = s.GetByID(fresh.ID)
	if !got.Enabled {
		t.Error("fresh subscription should stay enabled")
	}
}

func TestPurgeDedup(t *testing.T) {
	s := NewWatchStore(setupTestDB(t))

	now := time.Now().UTC()
	if _, err := s.MarkAlertSeen("old-key", "sub", now.Add(-2*time.Hour), time.Minute); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := s.MarkAlertSeen("new-key", "sub", now, time.Minute); err != nil {
		t.Fatalf("mark: %v", err)
	}

	n, err := s.PurgeDedup(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge dedup: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}
