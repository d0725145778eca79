// Package maintenance runs periodic housekeeping over the database:
// expiring dedup records, pruning soft-deleted schedules and putting
// abandoned watches to rest.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hopelink/hopelink/internal/middleware"
	"github.com/hopelink/hopelink/internal/store"
	"github.com/hopelink/hopelink/internal/watcher"
)

// Config holds the retention knobs.
type Config struct {
	// DedupRetention is how long alert dedup records are kept past the
	// suppression window.
	DedupRetention time.Duration
	// DeletedRetention is how long soft-deleted schedules are kept
	// before physical removal.
	DeletedRetention time.Duration
	// ReminderRetention is how long sent-reminder records are kept.
	ReminderRetention time.Duration
	// WatchInactiveAfter deactivates watches with no activity for this
	// long.
	WatchInactiveAfter time.Duration
}

func (c *Config) defaults() {
	if c.DedupRetention <= 0 {
		c.DedupRetention = 48 * time.Hour
	}
	if c.DeletedRetention <= 0 {
		c.DeletedRetention = 30 * 24 * time.Hour
	}
	if c.ReminderRetention <= 0 {
		c.ReminderRetention = 7 * 24 * time.Hour
	}
	if c.WatchInactiveAfter <= 0 {
		c.WatchInactiveAfter = 30 * 24 * time.Hour
	}
}

// Runner owns the cron scheduler for the cleanup jobs.
type Runner struct {
	cron        *cron.Cron
	cfg         Config
	schedules   *store.ScheduleStore
	watches     *store.WatchStore
	reminders   *store.ReminderStore
	supervisor  *watcher.Supervisor
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func NewRunner(cfg Config, schedules *store.ScheduleStore, watches *store.WatchStore, reminders *store.ReminderStore, supervisor *watcher.Supervisor, rateLimiter *middleware.RateLimiter, logger *slog.Logger) *Runner {
	cfg.defaults()
	return &Runner{
		cron:        cron.New(),
		cfg:         cfg,
		schedules:   schedules,
		watches:     watches,
		reminders:   reminders,
		supervisor:  supervisor,
		rateLimiter: rateLimiter,
		logger:      logger.With("component", "maintenance"),
	}
}

// Start registers the cleanup jobs and starts the scheduler loop.
func (r *Runner) Start() error {
	// Hourly: expire dedup and sent-reminder records.
	if _, err := r.cron.AddFunc("@hourly", r.purgeEphemera); err != nil {
		return err
	}
	// Daily at 03:00: prune deleted schedules and idle watches.
	if _, err := r.cron.AddFunc("0 3 * * *", r.nightly); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Runner) purgeEphemera() {
	now := time.Now().UTC()
	if n, err := r.watches.PurgeDedup(now.Add(-r.cfg.DedupRetention)); err != nil {
		r.logger.Error("purge alert dedup", "error", err)
	} else if n > 0 {
		r.logger.Info("purged alert dedup records", "count", n)
	}
	if n, err := r.reminders.PurgeOld(now.Add(-r.cfg.ReminderRetention)); err != nil {
		r.logger.Error("purge sent reminders", "error", err)
	} else if n > 0 {
		r.logger.Info("purged sent reminders", "count", n)
	}
	if r.rateLimiter != nil {
		r.rateLimiter.Cleanup()
	}
}

func (r *Runner) nightly() {
	now := time.Now().UTC()
	if n, err := r.schedules.PurgeDeleted(now.Add(-r.cfg.DeletedRetention)); err != nil {
		r.logger.Error("purge deleted schedules", "error", err)
	} else if n > 0 {
		r.logger.Info("purged deleted schedules", "count", n)
	}

	stale, err := r.watches.DeactivateInactive(now.Add(-r.cfg.WatchInactiveAfter))
	if err != nil {
		r.logger.Error("deactivate idle watches", "error", err)
		return
	}
	if len(stale) > 0 {
		for _, id := range stale {
			r.supervisor.Remove(id)
		}
		r.logger.Info("deactivated idle watches", "count", len(stale))
	}
}
