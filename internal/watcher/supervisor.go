package watcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hopelink/hopelink/internal/hospital"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

// Supervisor owns one watcher goroutine per enabled subscription. It
// reconciles the running set against the store and routes webhook slot
// reports to the watchers whose filters match.
type Supervisor struct {
	mu       sync.Mutex
	watchers map[string]*Watcher

	source  hospital.Source
	watches *store.WatchStore
	cfg     Config
	alert   AlertFunc
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor(source hospital.Source, watches *store.WatchStore, cfg Config, alert AlertFunc, logger *slog.Logger) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		watchers: make(map[string]*Watcher),
		source:   source,
		watches:  watches,
		cfg:      cfg,
		alert:    alert,
		logger:   logger.With("component", "watch-supervisor"),
	}
}

// Start launches watchers for every enabled subscription.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	subs, err := s.watches.ListEnabled()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		s.Add(sub)
	}
	s.logger.Info("watch supervisor started", "watchers", len(subs))
	return nil
}

// Stop halts every watcher and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	watchers := make([]*Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[string]*Watcher)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range watchers {
		w.Stop()
	}
}

// Add starts a watcher for the subscription, replacing any existing one
// so edited filters take effect.
func (s *Supervisor) Add(sub model.WatchSubscription) {
	s.mu.Lock()
	ctx := s.ctx
	old := s.watchers[sub.ID]
	w := New(sub, s.source, s.watches, s.cfg, s.alert, s.logger)
	s.watchers[sub.ID] = w
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.Start(ctx)
	if err := s.watches.SetStatus(sub.ID, model.WatchActive); err != nil {
		s.logger.Error("mark watcher active", "subscription_id", sub.ID, "error", err)
	}
}

// Remove stops the subscription's watcher if one is running.
func (s *Supervisor) Remove(subscriptionID string) {
	s.mu.Lock()
	w := s.watchers[subscriptionID]
	delete(s.watchers, subscriptionID)
	s.mu.Unlock()

	if w == nil {
		return
	}
	w.Stop()
	if err := s.watches.SetStatus(subscriptionID, model.WatchStopped); err != nil {
		s.logger.Error("mark watcher stopped", "subscription_id", subscriptionID, "error", err)
	}
}

// Dispatch routes a webhook-discovered slot report to every running
// watcher whose filter matches. Non-matching reports are dropped.
func (s *Supervisor) Dispatch(report hospital.SlotReport) int {
	s.mu.Lock()
	var targets []*Watcher
	for _, w := range s.watchers {
		if w.Matches(report) {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		w.Offer(report)
	}
	return len(targets)
}

// Running returns the number of live watchers.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
