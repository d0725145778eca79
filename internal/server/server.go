// Package server wires the stores, services and background workers
// together and exposes the HTTP API.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hopelink/hopelink/internal/calendar"
	"github.com/hopelink/hopelink/internal/care"
	"github.com/hopelink/hopelink/internal/config"
	"github.com/hopelink/hopelink/internal/conflict"
	"github.com/hopelink/hopelink/internal/handler"
	"github.com/hopelink/hopelink/internal/hospital"
	"github.com/hopelink/hopelink/internal/middleware"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/notify"
	"github.com/hopelink/hopelink/internal/reminder"
	"github.com/hopelink/hopelink/internal/store"
	syncer "github.com/hopelink/hopelink/internal/sync"
	"github.com/hopelink/hopelink/internal/watcher"
	"github.com/hopelink/hopelink/internal/ws"
)

type Server struct {
	db  *sql.DB
	cfg *config.Config
	hub *ws.Hub

	scheduleStore *store.ScheduleStore
	linkStore     *store.SyncLinkStore
	watchStore    *store.WatchStore
	reminderStore *store.ReminderStore
	pushStore     *store.PushStore

	notifySvc  *notify.Service
	engine     *syncer.Engine
	supervisor *watcher.Supervisor
	reminders  *reminder.Scheduler

	scheduleH *handler.ScheduleHandler
	syncH     *handler.SyncLinkHandler
	watchH    *handler.WatchHandler
	webhookH  *handler.WebhookHandler
	pushH     *handler.PushHandler

	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	scheduleStore := store.NewScheduleStore(db)
	linkStore := store.NewSyncLinkStore(db)
	watchStore := store.NewWatchStore(db)
	reminderStore := store.NewReminderStore(db)
	pushStore := store.NewPushStore(db)

	notifySvc := notify.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, pushStore, logger)
	detector := conflict.NewDetector(scheduleStore, logger.With("component", "conflict"))

	calSvc := calendar.NewService(cfg.CalendarBaseURL, cfg.CalendarTimeout)
	engine := syncer.NewEngine(linkStore, scheduleStore, calSvc, detector, syncer.Config{
		Interval:   cfg.SyncInterval,
		MaxRetries: uint64(cfg.SyncMaxRetries),
		RetryBase:  cfg.SyncRetryBase,
		Resolver:   syncer.Resolver{Granularity: cfg.ResolverGranularity},
	}, func(r syncer.ConflictReport) {
		hub.NotifyUser(r.UserID, ws.NewMessage("schedule", "sync_conflict", r.ScheduleID, map[string]any{
			"winner":      string(r.Winner),
			"local":       r.Local,
			"remote":      r.Remote,
			"resolved_at": r.ResolvedAt,
		}))
		notifySvc.NotifyUser(r.UserID, model.NotifTypeSyncConflict, notify.Payload{
			Title: "Calendar sync conflict",
			Body:  "An appointment was edited in two places; the newer change was kept.",
			URL:   "/schedules/" + r.ScheduleID,
			Tag:   "conflict-" + r.ScheduleID,
		})
	}, logger.With("component", "sync"))

	hospitalSrc := hospital.NewClient(cfg.HospitalBaseURL, cfg.HospitalAPIKey, 15*time.Second)
	supervisor := watcher.NewSupervisor(hospitalSrc, watchStore, watcher.Config{
		PollInterval:  cfg.WatchPollInterval,
		DedupWindow:   cfg.WatchDedupWindow,
		RateLimit:     cfg.WatchRateLimit,
		RateWindow:    cfg.WatchRateWindow,
		FailureBudget: cfg.WatchFailureBudget,
	}, func(sub model.WatchSubscription, ev model.AlertEvent) {
		hub.NotifyUser(sub.UserID, ws.NewMessage("alert", "created", ev.ID, map[string]any{
			"subscription_id": ev.SubscriptionID,
			"hospital":        ev.Hospital,
			"slot_time":       ev.SlotTime,
		}))
		notifySvc.NotifyUser(sub.UserID, model.NotifTypeSlotAlert, notify.SlotAlertPayload(ev))
	}, logger)

	careSvc := care.NewService(scheduleStore, linkStore, detector, engine, logger)
	reminders := reminder.NewScheduler(scheduleStore, reminderStore, notifySvc, logger)

	return &Server{
		db:            db,
		cfg:           cfg,
		hub:           hub,
		scheduleStore: scheduleStore,
		linkStore:     linkStore,
		watchStore:    watchStore,
		reminderStore: reminderStore,
		pushStore:     pushStore,
		notifySvc:     notifySvc,
		engine:        engine,
		supervisor:    supervisor,
		reminders:     reminders,
		scheduleH:     handler.NewScheduleHandler(careSvc, hub, logger.With("component", "schedule_handler")),
		syncH:         handler.NewSyncLinkHandler(linkStore, engine, logger.With("component", "sync_handler")),
		watchH:        handler.NewWatchHandler(watchStore, supervisor, logger.With("component", "watch_handler")),
		webhookH:      handler.NewWebhookHandler(cfg.WebhookSecret, supervisor, logger.With("component", "webhook_handler")),
		pushH:         handler.NewPushHandler(pushStore, notifySvc, logger.With("component", "push_handler")),
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
}

// StartBackground launches the sync engine, the watch supervisor and the
// reminder scheduler.
func (s *Server) StartBackground(ctx context.Context) error {
	s.engine.Start(ctx)
	s.reminders.Start(ctx)
	return s.supervisor.Start(ctx)
}

// StopBackground halts all background workers.
func (s *Server) StopBackground() {
	s.supervisor.Stop()
	s.reminders.Stop()
	s.engine.Stop()
}

// ScheduleStore returns the schedule store for cleanup tasks.
func (s *Server) ScheduleStore() *store.ScheduleStore {
	return s.scheduleStore
}

// WatchStore returns the watch store for cleanup tasks.
func (s *Server) WatchStore() *store.WatchStore {
	return s.watchStore
}

// ReminderStore returns the reminder store for cleanup tasks.
func (s *Server) ReminderStore() *store.ReminderStore {
	return s.reminderStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Supervisor returns the watch supervisor.
func (s *Server) Supervisor() *watcher.Supervisor {
	return s.supervisor
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /hooks/slot-freed", s.rateLimitedHandler(s.webhookH.SlotFreed))

	// Protected routes behind the identity middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	identity := middleware.Identity(s.cfg.IdentityHeader)
	outerMux.Handle("/", identity(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 60, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Schedule API routes
	mux.HandleFunc("POST /api/schedules", s.scheduleH.Create)
	mux.HandleFunc("GET /api/schedules", s.scheduleH.List)
	mux.HandleFunc("GET /api/schedules/{id}", s.scheduleH.Get)
	mux.HandleFunc("PUT /api/schedules/{id}", s.scheduleH.Update)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.scheduleH.Delete)

	// Calendar sync routes
	mux.HandleFunc("POST /api/sync/link", s.syncH.Create)
	mux.HandleFunc("GET /api/sync/link", s.syncH.Get)
	mux.HandleFunc("DELETE /api/sync/link", s.syncH.Delete)
	mux.HandleFunc("POST /api/sync/link/reauthorize", s.syncH.Reauthorize)
	mux.HandleFunc("PUT /api/sync/link/enabled", s.syncH.SetEnabled)
	mux.HandleFunc("POST /api/sync/run", s.syncH.Run)

	// Slot watch routes
	mux.HandleFunc("POST /api/watches", s.watchH.Create)
	mux.HandleFunc("GET /api/watches", s.watchH.List)
	mux.HandleFunc("POST /api/watches/{id}/stop", s.watchH.Stop)
	mux.HandleFunc("POST /api/watches/{id}/resume", s.watchH.Resume)

	// Push notification routes
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Real-time updates
	mux.HandleFunc("GET /ws", ws.Handle(s.hub, s.logger.With("component", "websocket")))
}
