// Package watcher runs background watchers that alert families when a
// hospital appointment slot frees up.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hopelink/hopelink/internal/hospital"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

// AlertFunc receives each alert that survived dedup and rate limiting.
// Delivery happens outside the watcher loop; a slow sink must not stall
// slot processing.
type AlertFunc func(sub model.WatchSubscription, ev model.AlertEvent)

// Config holds the per-watcher knobs.
type Config struct {
	// PollInterval between availability queries.
	PollInterval time.Duration
	// DedupWindow suppresses repeat alerts for the same slot.
	DedupWindow time.Duration
	// RateLimit caps alerts per subscription within RateWindow.
	RateLimit  int
	RateWindow time.Duration
	// FailureBudget is how many consecutive poll failures the watcher
	// tolerates before reporting itself degraded.
	FailureBudget int
	// MaxBackoff bounds the retry delay after poll failures.
	MaxBackoff time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 6 * time.Hour
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 10 * time.Minute
	}
	if c.FailureBudget <= 0 {
		c.FailureBudget = 5
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
}

// Watcher is one supervised goroutine bound to a single subscription.
// Slot reports arrive from its own polling and from webhook dispatch;
// both funnel through the same intake channel so dedup and rate
// limiting see every report in arrival order.
type Watcher struct {
	sub     model.WatchSubscription
	source  hospital.Source
	watches *store.WatchStore
	cfg     Config
	alert   AlertFunc
	logger  *slog.Logger

	intake  chan hospital.SlotReport
	limiter *rollingLimiter

	// deliveries hands alerts to a single delivery goroutine so alerts
	// from this subscription reach the sink in discovery order.
	deliveries  chan model.AlertEvent
	deliverDone chan struct{}
	closeOnce   sync.Once

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	failures int
	degraded bool
}

func New(sub model.WatchSubscription, source hospital.Source, watches *store.WatchStore, cfg Config, alert AlertFunc, logger *slog.Logger) *Watcher {
	cfg.defaults()
	w := &Watcher{
		sub:         sub,
		source:      source,
		watches:     watches,
		cfg:         cfg,
		alert:       alert,
		logger:      logger.With("component", "watcher", "subscription_id", sub.ID),
		intake:      make(chan hospital.SlotReport, 32),
		limiter:     newRollingLimiter(cfg.RateLimit, cfg.RateWindow),
		deliveries:  make(chan model.AlertEvent, 16),
		deliverDone: make(chan struct{}),
	}
	go w.deliverLoop()
	return w
}

// deliverLoop drains queued alerts one at a time. A slow sink delays
// later alerts but never stalls slot processing or reorders delivery.
func (w *Watcher) deliverLoop() {
	defer close(w.deliverDone)
	for ev := range w.deliveries {
		w.alert(w.sub, ev)
	}
}

// Start launches the watch loop. No-op if already running.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop cancels the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("watcher stop timed out")
	}

	// The watch loop has exited, so nothing enqueues anymore; close the
	// delivery queue and let pending alerts drain.
	w.closeOnce.Do(func() { close(w.deliveries) })
	select {
	case <-w.deliverDone:
	case <-time.After(5 * time.Second):
		w.logger.Warn("alert delivery drain timed out")
	}
}

// Offer hands a webhook-discovered slot report to the watcher. Reports
// are dropped when the intake queue is full; the next poll covers the
// same slot anyway.
func (w *Watcher) Offer(report hospital.SlotReport) {
	select {
	case w.intake <- report:
	default:
		w.logger.Warn("intake queue full, dropping slot report", "slot_id", report.SlotID)
	}
}

// Degraded reports whether the watcher has exhausted its failure budget.
func (w *Watcher) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// First poll happens immediately.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-w.intake:
			w.process(report)
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	reports, err := w.source.QueryAvailability(ctx, hospital.Filter{
		Hospital:   w.sub.Hospital,
		Department: w.sub.Department,
		DoctorName: w.sub.DoctorName,
		DateFrom:   w.sub.DateFrom,
		DateTo:     w.sub.DateTo,
	})
	if err != nil {
		w.recordFailure(ctx, err)
		return
	}
	w.recordSuccess()
	for _, r := range reports {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.process(r)
	}
}

// process runs one report through the alert pipeline. Order matters:
// dedup before rate limiting, so a suppressed repeat never consumes
// rate budget.
func (w *Watcher) process(report hospital.SlotReport) {
	if !w.Matches(report) {
		return
	}

	fresh, err := w.watches.MarkAlertSeen(report.DedupKey(), w.sub.ID, time.Now().UTC(), w.cfg.DedupWindow)
	if err != nil {
		w.logger.Error("record alert dedup", "error", err)
		return
	}
	if !fresh {
		return
	}

	if !w.limiter.allow(time.Now()) {
		w.logger.Info("alert rate limit reached, suppressing",
			"slot_id", report.SlotID, "limit", w.cfg.RateLimit)
		return
	}

	now := time.Now().UTC()
	ev := model.AlertEvent{
		ID:             uuid.NewString(),
		SubscriptionID: w.sub.ID,
		SlotID:         report.SlotID,
		SlotTime:       report.SlotTime,
		Hospital:       report.Hospital,
		Department:     report.Department,
		DoctorName:     report.DoctorName,
		DedupKey:       report.DedupKey(),
		DiscoveredAt:   now,
	}
	if err := w.watches.RecordAlert(w.sub.ID, now); err != nil {
		w.logger.Error("record alert", "error", err)
	}
	if w.alert != nil {
		select {
		case w.deliveries <- ev:
		default:
			w.logger.Warn("alert delivery queue full, dropping alert", "slot_id", ev.SlotID)
		}
	}
	w.logger.Info("freed slot alert",
		"slot_id", report.SlotID, "hospital", report.Hospital, "slot_time", report.SlotTime)
}

// Matches reports whether the slot satisfies the subscription's filter
// and preferences.
func (w *Watcher) Matches(report hospital.SlotReport) bool {
	if !strings.EqualFold(report.Hospital, w.sub.Hospital) {
		return false
	}
	if w.sub.Department != "" && !strings.EqualFold(report.Department, w.sub.Department) {
		return false
	}
	if w.sub.DoctorName != "" && !strings.EqualFold(report.DoctorName, w.sub.DoctorName) {
		return false
	}
	slot := report.SlotTime
	if w.sub.DateFrom != nil && slot.Before(*w.sub.DateFrom) {
		return false
	}
	if w.sub.DateTo != nil && !slot.Before(w.sub.DateTo.AddDate(0, 0, 1)) {
		return false
	}
	hour := slot.Hour()
	if hour < w.sub.FromHour {
		return false
	}
	if w.sub.ToHour > 0 && w.sub.ToHour < 24 && hour >= w.sub.ToHour {
		return false
	}
	return true
}

func (w *Watcher) recordFailure(ctx context.Context, err error) {
	w.mu.Lock()
	w.failures++
	failures := w.failures
	wasDegraded := w.degraded
	if failures >= w.cfg.FailureBudget {
		w.degraded = true
	}
	degraded := w.degraded
	w.mu.Unlock()

	w.logger.Warn("availability poll failed",
		"error", err, "consecutive_failures", failures)

	if degraded && !wasDegraded {
		if serr := w.watches.SetStatus(w.sub.ID, model.WatchDegraded); serr != nil {
			w.logger.Error("mark watcher degraded", "error", serr)
		}
		w.logger.Error("watcher degraded after repeated failures",
			"failures", failures, "budget", w.cfg.FailureBudget)
	}

	// Back off before the ticker fires again, doubling up to the cap.
	backoff := w.cfg.PollInterval
	for i := 1; i < failures && backoff < w.cfg.MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > w.cfg.MaxBackoff {
		backoff = w.cfg.MaxBackoff
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff - w.cfg.PollInterval):
	}
}

func (w *Watcher) recordSuccess() {
	w.mu.Lock()
	wasDegraded := w.degraded
	w.failures = 0
	w.degraded = false
	w.mu.Unlock()

	if wasDegraded {
		if err := w.watches.SetStatus(w.sub.ID, model.WatchActive); err != nil {
			w.logger.Error("mark watcher active", "error", err)
		}
		w.logger.Info("watcher recovered")
	}
}
