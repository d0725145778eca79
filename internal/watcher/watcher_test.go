package watcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hopelink/hopelink/internal/database"
	"github.com/hopelink/hopelink/internal/hospital"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	slots []hospital.SlotReport
	err   error
	calls int
}

func (f *fakeSource) set(slots []hospital.SlotReport, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = slots
	f.err = err
}

func (f *fakeSource) QueryAvailability(ctx context.Context, filter hospital.Filter) ([]hospital.SlotReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.slots, f.err
}

type alertRecorder struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (r *alertRecorder) record(sub model.WatchSubscription, ev model.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func setupWatch(t *testing.T) (*store.WatchStore, *model.WatchSubscription) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	watches := store.NewWatchStore(db)
	sub := &model.WatchSubscription{
		UserID:   "user-1",
		ChildID:  "child-1",
		Hospital: "City General",
		Enabled:  true,
		Status:   model.WatchActive,
		ToHour:   24,
	}
	if err := watches.Create(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return watches, sub
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func slot(id string, at time.Time) hospital.SlotReport {
	return hospital.SlotReport{
		SlotID:     id,
		Hospital:   "City General",
		SlotTime:   at,
		ObservedAt: time.Now().UTC(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherDedupSuppressesRepeatAlerts(t *testing.T) {
	watches, sub := setupWatch(t)
	rec := &alertRecorder{}
	w := New(*sub, &fakeSource{}, watches, Config{DedupWindow: time.Hour}, rec.record, testLogger())

	at := time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC)
	w.process(slot("slot-1", at))
	w.process(slot("slot-1", at))
	w.process(slot("slot-1", at))

	waitFor(t, "first alert", func() bool { return rec.count() >= 1 })
	if got := rec.count(); got != 1 {
		t.Errorf("got %d alerts for one slot, want 1", got)
	}

	// A different slot is a fresh alert.
	w.process(slot("slot-2", at))
	waitFor(t, "second alert", func() bool { return rec.count() >= 2 })
}

func TestWatcherDedupIsPerSubscription(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	watches := store.NewWatchStore(db)

	var subs []*model.WatchSubscription
	for _, user := range []string{"user-a", "user-b"} {
		sub := &model.WatchSubscription{
			UserID:   user,
			ChildID:  "child-" + user,
			Hospital: "City General",
			Enabled:  true,
			Status:   model.WatchActive,
			ToHour:   24,
		}
		if err := watches.Create(sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
		subs = append(subs, sub)
	}

	// Two families watch the same hospital; one freed slot must alert
	// both, and each family's repeat stays suppressed.
	report := slot("slot-3", time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC))
	recs := make([]*alertRecorder, len(subs))
	for i, sub := range subs {
		recs[i] = &alertRecorder{}
		w := New(*sub, &fakeSource{}, watches, Config{DedupWindow: time.Hour}, recs[i].record, testLogger())
		w.process(report)
		w.process(report)
	}

	for i, rec := range recs {
		ri := rec
		waitFor(t, "alert for subscription", func() bool { return ri.count() >= 1 })
		if got := rec.count(); got != 1 {
			t.Errorf("subscription %d got %d alerts, want 1", i, got)
		}
	}
}

func TestWatcherAlertsKeepDiscoveryOrder(t *testing.T) {
	watches, sub := setupWatch(t)
	rec := &alertRecorder{}
	w := New(*sub, &fakeSource{}, watches, Config{}, func(s model.WatchSubscription, ev model.AlertEvent) {
		time.Sleep(5 * time.Millisecond)
		rec.record(s, ev)
	}, testLogger())

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	want := []string{"slot-a", "slot-b", "slot-c", "slot-d"}
	for i, id := range want {
		w.process(slot(id, at.Add(time.Duration(i)*time.Minute)))
	}

	waitFor(t, "all alerts delivered", func() bool { return rec.count() == len(want) })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, ev := range rec.events {
		if ev.SlotID != want[i] {
			t.Fatalf("alert %d delivered slot %s, want %s", i, ev.SlotID, want[i])
		}
	}
}

func TestWatcherRateLimitCapsAlerts(t *testing.T) {
	watches, sub := setupWatch(t)
	rec := &alertRecorder{}
	w := New(*sub, &fakeSource{}, watches, Config{
		RateLimit:  3,
		RateWindow: time.Hour,
	}, rec.record, testLogger())

	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		w.process(slot("slot-"+string(rune('a'+i)), at.Add(time.Duration(i)*time.Minute)))
	}

	waitFor(t, "alerts", func() bool { return rec.count() >= 3 })
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 3 {
		t.Errorf("got %d alerts, want rate limit of 3", got)
	}
}

func TestWatcherMatchesPreferences(t *testing.T) {
	watches, sub := setupWatch(t)
	from := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	sub.Department = "Cardiology"
	sub.DateFrom = &from
	sub.DateTo = &to
	sub.FromHour = 9
	sub.ToHour = 17
	w := New(*sub, &fakeSource{}, watches, Config{}, nil, testLogger())

	ok := hospital.SlotReport{
		Hospital: "City General", Department: "cardiology",
		SlotTime: time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		mut  func(r *hospital.SlotReport)
		want bool
	}{
		{"match with case-insensitive department", func(r *hospital.SlotReport) {}, true},
		{"wrong hospital", func(r *hospital.SlotReport) { r.Hospital = "Other" }, false},
		{"wrong department", func(r *hospital.SlotReport) { r.Department = "Neurology" }, false},
		{"before date window", func(r *hospital.SlotReport) { r.SlotTime = from.AddDate(0, 0, -1) }, false},
		{"after date window", func(r *hospital.SlotReport) { r.SlotTime = to.AddDate(0, 0, 2) }, false},
		{"last day of window", func(r *hospital.SlotReport) { r.SlotTime = time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC) }, true},
		{"too early in the day", func(r *hospital.SlotReport) { r.SlotTime = time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC) }, false},
		{"too late in the day", func(r *hospital.SlotReport) { r.SlotTime = time.Date(2026, 4, 15, 17, 30, 0, 0, time.UTC) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ok
			tt.mut(&r)
			if got := w.Matches(r); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", r, got, tt.want)
			}
		})
	}
}

func TestWatcherDegradesAfterFailureBudget(t *testing.T) {
	watches, sub := setupWatch(t)
	src := &fakeSource{}
	src.set(nil, hospital.ErrUnavailable)

	w := New(*sub, src, watches, Config{
		PollInterval:  5 * time.Millisecond,
		MaxBackoff:    10 * time.Millisecond,
		FailureBudget: 3,
	}, nil, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, "degraded state", w.Degraded)
	waitFor(t, "degraded status persisted", func() bool {
		got, err := watches.GetByID(sub.ID)
		return err == nil && got != nil && got.Status == model.WatchDegraded
	})

	// Recovery clears the degraded state.
	src.set(nil, nil)
	waitFor(t, "recovery", func() bool { return !w.Degraded() })
	waitFor(t, "active status persisted", func() bool {
		got, err := watches.GetByID(sub.ID)
		return err == nil && got != nil && got.Status == model.WatchActive
	})
}

func TestWatcherStopIsPrompt(t *testing.T) {
	watches, sub := setupWatch(t)
	w := New(*sub, &fakeSource{}, watches, Config{PollInterval: time.Hour}, nil, testLogger())
	w.Start(context.Background())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}

	// Stop again is a no-op.
	w.Stop()
}

type blockingSource struct {
	started chan struct{}
}

func (b *blockingSource) QueryAvailability(ctx context.Context, _ hospital.Filter) ([]hospital.SlotReport, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWatcherStopInterruptsInFlightPoll(t *testing.T) {
	watches, sub := setupWatch(t)
	src := &blockingSource{started: make(chan struct{}, 1)}
	w := New(*sub, src, watches, Config{PollInterval: time.Hour}, nil, testLogger())
	w.Start(context.Background())

	<-src.started
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the in-flight poll")
	}
}

func TestSupervisorDispatchRoutesByFilter(t *testing.T) {
	watches, sub := setupWatch(t)
	other := &model.WatchSubscription{
		UserID:   "user-2",
		ChildID:  "child-2",
		Hospital: "Riverside Clinic",
		Enabled:  true,
		Status:   model.WatchActive,
		ToHour:   24,
	}
	if err := watches.Create(other); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	rec := &alertRecorder{}
	sup := NewSupervisor(&fakeSource{}, watches, Config{PollInterval: time.Hour}, rec.record, testLogger())
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	if got := sup.Running(); got != 2 {
		t.Fatalf("Running() = %d, want 2", got)
	}

	report := slot("slot-9", time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC))
	if got := sup.Dispatch(report); got != 1 {
		t.Errorf("Dispatch() routed to %d watchers, want 1", got)
	}
	waitFor(t, "dispatched alert", func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	if ev.SubscriptionID != sub.ID {
		t.Errorf("alert went to subscription %s, want %s", ev.SubscriptionID, sub.ID)
	}

	sup.Remove(sub.ID)
	if got := sup.Running(); got != 1 {
		t.Errorf("Running() after Remove = %d, want 1", got)
	}
	got, err := watches.GetByID(sub.ID)
	if err != nil || got == nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if got.Status != model.WatchStopped {
		t.Errorf("Status after Remove = %v, want %v", got.Status, model.WatchStopped)
	}
}

func TestRollingLimiterWindowSlides(t *testing.T) {
	l := newRollingLimiter(2, time.Minute)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if !l.allow(base) || !l.allow(base.Add(time.Second)) {
		t.Fatal("limiter rejected events under the cap")
	}
	if l.allow(base.Add(2 * time.Second)) {
		t.Error("limiter allowed event over the cap")
	}
	if !l.allow(base.Add(61 * time.Second)) {
		t.Error("limiter rejected event after window slid")
	}
}
