// Package reminder delivers lead-time reminders for upcoming care
// schedules.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/notify"
	"github.com/hopelink/hopelink/internal/store"
)

// Scheduler periodically checks for schedules whose reminder lead times
// have come due. Each (schedule, offset) pair is delivered at most once.
type Scheduler struct {
	mu        sync.RWMutex
	schedules *store.ScheduleStore
	sent      *store.ReminderStore
	notifier  notify.Notifier
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewScheduler(schedules *store.ScheduleStore, sent *store.ReminderStore, notifier notify.Notifier, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		sent:      sent,
		notifier:  notifier,
		interval:  60 * time.Second,
		logger:    logger.With("component", "reminder"),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(time.Now().UTC())
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick delivers every reminder that is due at the given time. The
// lookahead covers the largest supported lead time so a day-before
// reminder is found a day early.
func (s *Scheduler) Tick(now time.Time) {
	due, err := s.schedules.ListDueReminders(now, 25*time.Hour)
	if err != nil {
		s.logger.Error("list due reminders", "error", err)
		return
	}

	for _, sched := range due {
		for _, offset := range sched.ReminderMinutes {
			fireAt := sched.StartTime.Add(-time.Duration(offset) * time.Minute)
			if fireAt.After(now) {
				continue
			}

			sent, err := s.sent.WasSent(sched.ID, offset)
			if err != nil {
				s.logger.Error("check sent reminder", "schedule_id", sched.ID, "error", err)
				continue
			}
			if sent {
				continue
			}

			s.notifier.NotifyUser(sched.UserID, model.NotifTypeScheduleReminder, reminderPayload(&sched, offset))
			if err := s.sent.RecordSent(sched.ID, offset); err != nil {
				s.logger.Error("record sent reminder", "schedule_id", sched.ID, "error", err)
			}
			s.logger.Info("reminder delivered",
				"schedule_id", sched.ID, "offset_minutes", offset)
		}
	}
}

func reminderPayload(sched *model.Schedule, offset int) notify.Payload {
	lead := "soon"
	switch {
	case offset >= 1440:
		lead = fmt.Sprintf("in %d day(s)", offset/1440)
	case offset >= 60:
		lead = fmt.Sprintf("in %d hour(s)", offset/60)
	case offset > 0:
		lead = fmt.Sprintf("in %d minutes", offset)
	}
	body := fmt.Sprintf("%s %s", sched.Title, lead)
	if sched.LocationName != "" {
		body += " at " + sched.LocationName
	}
	if items := pendingItems(sched.Checklist); len(items) > 0 {
		body += ". Bring: " + strings.Join(items, ", ")
	}
	return notify.Payload{
		Title: "Upcoming appointment",
		Body:  body,
		URL:   "/schedules/" + sched.ID,
		Tag:   fmt.Sprintf("reminder-%s-%d", sched.ID, offset),
	}
}

func pendingItems(checklist []model.ChecklistItem) []string {
	var items []string
	for _, it := range checklist {
		if !it.Checked {
			items = append(items, it.Item)
		}
	}
	return items
}
