package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/hopelink/hopelink/internal/calendar"
	"github.com/hopelink/hopelink/internal/conflict"
	"github.com/hopelink/hopelink/internal/lock"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

// ErrCredential marks a sync link credential failure. The link is
// invalidated and passes stay suspended until re-authorization.
var ErrCredential = errors.New("sync: credential failure")

// ErrTransient marks a network or provider failure that left the
// watermark untouched; the next pass is a safe retry.
var ErrTransient = errors.New("sync: transient failure")

// Config holds the engine knobs.
type Config struct {
	// Interval between reconciliation sweeps over all active links.
	Interval time.Duration
	// MaxRetries bounds the backoff attempts per network call.
	MaxRetries uint64
	// RetryBase is the first backoff delay.
	RetryBase time.Duration
	// Resolver decides concurrent-edit winners.
	Resolver Resolver
	// MaxParallel caps concurrently reconciling links.
	MaxParallel int
}

// Engine runs reconciliation passes for every active sync link. Passes
// for different users run in parallel; passes for one link are
// serialized through a per-link lock.
type Engine struct {
	mu        sync.RWMutex
	links     *store.SyncLinkStore
	schedules *store.ScheduleStore
	cal       calendar.Client
	detector  *conflict.Detector
	cfg       Config
	locks     *lock.Keyed
	logger    *slog.Logger

	// onConflict is invoked once per surfaced conflict report.
	onConflict func(ConflictReport)

	nudge  chan string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(links *store.SyncLinkStore, schedules *store.ScheduleStore, cal calendar.Client, detector *conflict.Detector, cfg Config, onConflict func(ConflictReport), logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	return &Engine{
		links:      links,
		schedules:  schedules,
		cal:        cal,
		detector:   detector,
		cfg:        cfg,
		locks:      lock.NewKeyed(),
		logger:     logger,
		onConflict: onConflict,
		nudge:      make(chan string, 64),
	}
}

// Start begins the reconciliation loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep(ctx, "")
			case userID := <-e.nudge:
				e.sweep(ctx, userID)
			}
		}
	}()
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	done := e.done
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Nudge requests an early pass for one user's link. Dropped when the
// queue is full; the periodic sweep will pick the link up anyway.
func (e *Engine) Nudge(userID string) {
	select {
	case e.nudge <- userID:
	default:
	}
}

// sweep runs a pass for each active link, or only the given user's.
func (e *Engine) sweep(ctx context.Context, onlyUser string) {
	links, err := e.links.ListActive()
	if err != nil {
		e.logger.Error("list active sync links", "error", err)
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxParallel)
	for _, link := range links {
		if onlyUser != "" && link.UserID != onlyUser {
			continue
		}
		g.Go(func() error {
			if _, err := e.RunPass(ctx, &link); err != nil {
				e.logger.Warn("reconciliation pass failed",
					"user_id", link.UserID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// RunPass executes one reconciliation pass for a link and returns any
// surfaced conflict reports. The watermark is persisted only after both
// directions complete without error.
func (e *Engine) RunPass(ctx context.Context, link *model.SyncLink) ([]ConflictReport, error) {
	unlock := e.locks.Lock(link.ID)
	defer unlock()

	token, err := e.refreshToken(ctx, link)
	if err != nil {
		return nil, err
	}

	watermark := link.Watermark
	var reports []ConflictReport

	if link.Direction != model.SyncOutbound {
		pullReports, pullMark, err := e.pull(ctx, link, token)
		if err != nil {
			return reports, err
		}
		reports = append(reports, pullReports...)
		if pullMark.After(watermark) {
			watermark = pullMark
		}
	}

	if link.Direction != model.SyncInbound {
		pushMark, err := e.push(ctx, link, token)
		if err != nil {
			return reports, err
		}
		if pushMark.After(watermark) {
			watermark = pushMark
		}
	}

	if err := e.links.SetWatermark(link.ID, watermark); err != nil {
		return reports, fmt.Errorf("persist watermark: %w", err)
	}
	return reports, nil
}

func (e *Engine) refreshToken(ctx context.Context, link *model.SyncLink) (string, error) {
	var token string
	err := e.withRetry(ctx, func() error {
		t, err := e.cal.RefreshToken(link.RefreshToken)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if errors.Is(err, calendar.ErrUnauthorized) {
		if ierr := e.links.Invalidate(link.ID, err.Error()); ierr != nil {
			e.logger.Error("invalidate sync link", "link_id", link.ID, "error", ierr)
		}
		e.logger.Warn("sync link credential rejected", "user_id", link.UserID)
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: refresh token: %v", ErrTransient, err)
	}
	return token, nil
}

// pull applies all external changes since the watermark and returns the
// newest revision seen.
func (e *Engine) pull(ctx context.Context, link *model.SyncLink, token string) ([]ConflictReport, time.Time, error) {
	var events []calendar.Event
	err := e.withRetry(ctx, func() error {
		evs, err := e.cal.ListChangesSince(token, link.CalendarID, link.Watermark)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		return nil, time.Time{}, classify(err, "list changes")
	}

	maxRev := link.Watermark
	var reports []ConflictReport
	touchedChildren := make(map[string]struct{})

	for _, ev := range events {
		report, childID, err := e.applyInbound(link, ev)
		if err != nil {
			return reports, time.Time{}, fmt.Errorf("apply inbound event %s: %w", ev.ID, err)
		}
		if report != nil {
			reports = append(reports, *report)
			if e.onConflict != nil {
				e.onConflict(*report)
			}
		}
		if childID != "" {
			touchedChildren[childID] = struct{}{}
		}
		if ev.Updated.After(maxRev) {
			maxRev = ev.Updated
		}
	}

	for childID := range touchedChildren {
		if _, err := e.detector.Recompute(childID, ""); err != nil {
			e.logger.Error("recompute conflicts after pull", "child_id", childID, "error", err)
		}
	}
	return reports, maxRev, nil
}

// applyInbound feeds one external event through the state machine.
// It returns the conflict report, if any, and the child whose conflict
// set needs recomputing.
func (e *Engine) applyInbound(link *model.SyncLink, ev calendar.Event) (*ConflictReport, string, error) {
	local, err := e.schedules.GetByExternalID(link.UserID, ev.ID)
	if err != nil {
		return nil, "", err
	}

	switch DecidePull(local, ev) {
	case PullSkip:
		return nil, "", nil

	case PullCreate:
		if ev.ChildID == "" {
			// Foreign event with no child linkage; not ours to import.
			e.logger.Debug("skipping external event without child linkage", "event_id", ev.ID)
			return nil, "", nil
		}
		sched := &model.Schedule{
			UserID:          link.UserID,
			ChildID:         ev.ChildID,
			SyncStatus:      model.SyncSynced,
			ExternalEventID: ev.ID,
			LastSyncedAt:    ev.Updated,
			CreatedAt:       ev.Updated,
			UpdatedAt:       ev.Updated,
		}
		mergeEvent(sched, ev)
		if err := e.schedules.Create(sched); err != nil {
			return nil, "", err
		}
		return nil, sched.ChildID, nil

	case PullDelete:
		if err := e.schedules.SoftDelete(local.ID, model.SyncSynced); err != nil {
			return nil, "", err
		}
		return nil, local.ChildID, nil

	case PullApply:
		mergeEvent(local, ev)
		local.SyncStatus = model.SyncSynced
		local.LastSyncedAt = ev.Updated
		local.UpdatedAt = ev.Updated
		if err := e.schedules.ApplyExternal(local); err != nil {
			return nil, "", err
		}
		return nil, local.ChildID, nil

	case PullConflict:
		report := &ConflictReport{
			ScheduleID: local.ID,
			UserID:     link.UserID,
			Winner:     e.cfg.Resolver.Resolve(local.UpdatedAt, ev.Updated),
			Local:      localVersion(local),
			Remote:     remoteVersion(ev),
			ResolvedAt: time.Now().UTC(),
		}
		if report.Winner == SideRemote {
			mergeEvent(local, ev)
			local.SyncStatus = model.SyncSynced
			local.LastSyncedAt = ev.Updated
			local.UpdatedAt = ev.Updated
			if err := e.schedules.ApplyExternal(local); err != nil {
				return nil, "", err
			}
		} else {
			// Local wins; queue it so the push phase overwrites the
			// remote copy.
			if err := e.schedules.SetSyncState(local.ID, model.SyncPendingPush, local.ExternalEventID, local.LastSyncedAt); err != nil {
				return nil, "", err
			}
		}
		return report, local.ChildID, nil
	}
	return nil, "", nil
}

// push sends all pending local changes oldest-first and returns the
// newest revision the provider assigned.
func (e *Engine) push(ctx context.Context, link *model.SyncLink, token string) (time.Time, error) {
	pending, err := e.schedules.ListPendingPush(link.UserID)
	if err != nil {
		return time.Time{}, fmt.Errorf("list pending push: %w", err)
	}

	maxRev := link.Watermark
	for i := range pending {
		sched := &pending[i]

		if sched.Deleted {
			if sched.ExternalEventID != "" {
				err := e.withRetry(ctx, func() error {
					return e.cal.DeleteEvent(token, link.CalendarID, sched.ExternalEventID)
				})
				if err != nil {
					e.markPushFailed(sched)
					return maxRev, classify(err, "delete event")
				}
			}
			if err := e.schedules.SetSyncState(sched.ID, model.SyncSynced, sched.ExternalEventID, time.Now().UTC()); err != nil {
				return maxRev, err
			}
			continue
		}

		var stored calendar.Event
		err := e.withRetry(ctx, func() error {
			s, err := e.cal.UpsertEvent(token, link.CalendarID, eventFromSchedule(sched))
			if err != nil {
				return err
			}
			stored = s
			return nil
		})
		if err != nil {
			e.markPushFailed(sched)
			return maxRev, classify(err, "upsert event")
		}

		if err := e.schedules.SetSyncState(sched.ID, model.SyncSynced, stored.ID, stored.Updated); err != nil {
			return maxRev, err
		}
		if stored.Updated.After(maxRev) {
			maxRev = stored.Updated
		}
	}
	return maxRev, nil
}

// markPushFailed records the failed push on the schedule itself so its
// row reflects reality. Failed schedules stay in the pending-push queue
// and are retried on the next pass.
func (e *Engine) markPushFailed(sched *model.Schedule) {
	if err := e.schedules.SetSyncState(sched.ID, model.SyncFailed, sched.ExternalEventID, sched.LastSyncedAt); err != nil {
		e.logger.Error("mark push failed", "schedule_id", sched.ID, "error", err)
	}
}

func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	b := retry.WithMaxRetries(e.cfg.MaxRetries, retry.NewExponential(e.cfg.RetryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op()
		if err == nil || errors.Is(err, calendar.ErrUnauthorized) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// classify folds a calendar client error into the sync taxonomy.
func classify(err error, op string) error {
	if errors.Is(err, calendar.ErrUnauthorized) {
		return fmt.Errorf("%w: %s: %v", ErrCredential, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

func mergeEvent(sched *model.Schedule, ev calendar.Event) {
	sched.Title = ev.Title
	sched.Notes = ev.Description
	sched.LocationName = ev.Location
	sched.StartTime = ev.StartTime
	sched.EndTime = ev.EndTime
	sched.AllDay = ev.AllDay
	if cat := model.Category(ev.Category); cat.Valid() {
		sched.Category = cat
	} else if sched.Category == "" {
		sched.Category = model.CategoryHospital
	}
}

func eventFromSchedule(sched *model.Schedule) calendar.Event {
	return calendar.Event{
		ID:          sched.ExternalEventID,
		Title:       sched.Title,
		Description: sched.Notes,
		Location:    sched.LocationName,
		StartTime:   sched.StartTime,
		EndTime:     sched.EndTime,
		AllDay:      sched.AllDay,
		ChildID:     sched.ChildID,
		Category:    string(sched.Category),
	}
}
