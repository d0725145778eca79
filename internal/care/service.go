// Package care is the application service for managing a family's care
// schedules. All schedule mutations flow through here so validation,
// conflict recomputation and sync state transitions stay consistent.
package care

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hopelink/hopelink/internal/conflict"
	"github.com/hopelink/hopelink/internal/lock"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
	syncer "github.com/hopelink/hopelink/internal/sync"
)

// ErrValidation wraps all input rejections. Nothing is persisted when a
// mutation fails validation.
var ErrValidation = errors.New("care: invalid schedule")

// ErrNotFound is returned when the referenced schedule does not exist
// or is deleted.
var ErrNotFound = errors.New("care: schedule not found")

// Nudger requests an early sync pass after a local mutation.
type Nudger interface {
	Nudge(userID string)
}

// Result is a mutation outcome: the stored schedule plus the conflicts
// it participates in, so callers can warn the user immediately.
type Result struct {
	Schedule  *model.Schedule   `json:"schedule"`
	Conflicts []conflict.Report `json:"conflicts,omitempty"`
}

// Service coordinates schedule mutations.
type Service struct {
	schedules *store.ScheduleStore
	links     *store.SyncLinkStore
	detector  *conflict.Detector
	nudger    Nudger
	locks     *lock.Keyed
	logger    *slog.Logger
}

func NewService(schedules *store.ScheduleStore, links *store.SyncLinkStore, detector *conflict.Detector, nudger Nudger, logger *slog.Logger) *Service {
	return &Service{
		schedules: schedules,
		links:     links,
		detector:  detector,
		nudger:    nudger,
		locks:     lock.NewKeyed(),
		logger:    logger.With("component", "care"),
	}
}

// CreateSchedule validates and stores a new schedule, returning it with
// any conflicts it introduces. Conflicts never block the write.
func (s *Service) CreateSchedule(sched *model.Schedule) (*Result, error) {
	if err := validate(sched); err != nil {
		return nil, err
	}
	applyDefaults(sched)
	sched.SyncStatus = s.initialSyncStatus(sched.UserID)

	if err := s.schedules.Create(sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	reports, err := s.detector.Recompute(sched.ChildID, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("recompute conflicts: %w", err)
	}
	s.nudgeIfPending(sched)

	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "child_id", sched.ChildID, "conflicts", len(reports))
	return &Result{Schedule: sched, Conflicts: reports}, nil
}

// UpdateSchedule applies the caller's changes to an existing schedule.
// The conflict cache and sync linkage fields are owned by the detector
// and the sync engine; values the caller sends for them are ignored.
func (s *Service) UpdateSchedule(id string, updated *model.Schedule) (*Result, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.schedules.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if current == nil || current.Deleted {
		return nil, ErrNotFound
	}

	if err := validate(updated); err != nil {
		return nil, err
	}

	oldChild := current.ChildID
	current.ChildID = updated.ChildID
	current.Title = updated.Title
	current.Category = updated.Category
	current.StartTime = updated.StartTime
	current.EndTime = updated.EndTime
	current.AllDay = updated.AllDay
	current.LocationName = updated.LocationName
	current.LocationAddress = updated.LocationAddress
	current.Department = updated.Department
	current.DoctorName = updated.DoctorName
	current.Checklist = updated.Checklist
	current.ReminderMinutes = updated.ReminderMinutes
	current.Notes = updated.Notes
	current.SyncStatus = syncer.NextOnLocalChange(current.SyncStatus)

	if err := s.schedules.Update(current); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	if oldChild != current.ChildID {
		if _, err := s.detector.Recompute(oldChild, ""); err != nil {
			return nil, fmt.Errorf("recompute conflicts: %w", err)
		}
	}
	reports, err := s.detector.Recompute(current.ChildID, current.ID)
	if err != nil {
		return nil, fmt.Errorf("recompute conflicts: %w", err)
	}
	s.nudgeIfPending(current)

	return &Result{Schedule: current, Conflicts: reports}, nil
}

// DeleteSchedule soft-deletes the schedule. A schedule that was pushed
// to the external calendar stays queued until the deletion propagates.
func (s *Service) DeleteSchedule(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.schedules.GetByID(id)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if current == nil || current.Deleted {
		return ErrNotFound
	}

	status := model.SyncUnsynced
	if current.ExternalEventID != "" || current.SyncStatus != model.SyncUnsynced {
		status = syncer.NextOnLocalChange(current.SyncStatus)
	}
	if err := s.schedules.SoftDelete(id, status); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}

	if _, err := s.detector.Recompute(current.ChildID, ""); err != nil {
		return fmt.Errorf("recompute conflicts: %w", err)
	}
	current.SyncStatus = status
	s.nudgeIfPending(current)

	s.logger.Info("schedule deleted", "schedule_id", id, "child_id", current.ChildID)
	return nil
}

// GetSchedule returns a schedule by ID.
func (s *Service) GetSchedule(id string) (*model.Schedule, error) {
	sched, err := s.schedules.GetByID(id)
	if err != nil {
		return nil, err
	}
	if sched == nil || sched.Deleted {
		return nil, ErrNotFound
	}
	return sched, nil
}

// ListSchedules returns a user's schedules within the given range.
func (s *Service) ListSchedules(userID string, start, end time.Time) ([]model.Schedule, error) {
	return s.schedules.ListByUserRange(userID, start, end)
}

// initialSyncStatus decides the first sync state of a new schedule. It
// queues for push only when the user has a working outbound link.
func (s *Service) initialSyncStatus(userID string) model.SyncStatus {
	link, err := s.links.GetByUser(userID)
	if err != nil {
		s.logger.Error("load sync link", "user_id", userID, "error", err)
		return model.SyncUnsynced
	}
	if link == nil || !link.Active() || link.Direction == model.SyncInbound {
		return model.SyncUnsynced
	}
	return model.SyncPendingPush
}

func (s *Service) nudgeIfPending(sched *model.Schedule) {
	if s.nudger == nil {
		return
	}
	if sched.SyncStatus == model.SyncPendingPush || sched.SyncStatus == model.SyncConflicted {
		s.nudger.Nudge(sched.UserID)
	}
}

func validate(sched *model.Schedule) error {
	switch {
	case sched.ChildID == "":
		return fmt.Errorf("%w: child is required", ErrValidation)
	case sched.UserID == "":
		return fmt.Errorf("%w: user is required", ErrValidation)
	case sched.Title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case !sched.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrValidation, sched.Category)
	case sched.StartTime.IsZero():
		return fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if !sched.AllDay && !sched.EndTime.After(sched.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrValidation)
	}
	for _, m := range sched.ReminderMinutes {
		if m < 0 {
			return fmt.Errorf("%w: reminder lead time must not be negative", ErrValidation)
		}
	}
	return nil
}

// applyDefaults fills the category checklist and reminder lead times
// when the caller left them empty.
func applyDefaults(sched *model.Schedule) {
	if len(sched.ReminderMinutes) == 0 {
		sched.ReminderMinutes = []int{1440, 60}
	}
	if len(sched.Checklist) == 0 {
		for _, item := range DefaultChecklist(sched.Category) {
			sched.Checklist = append(sched.Checklist, model.ChecklistItem{Item: item})
		}
	}
	if sched.AllDay && sched.EndTime.Before(sched.StartTime) {
		sched.EndTime = sched.StartTime
	}
}

// DefaultChecklist returns the standard preparation items for a category.
func DefaultChecklist(cat model.Category) []string {
	switch cat {
	case model.CategoryHospital:
		return []string{
			"Insurance card",
			"Patient registration card",
			"Medication notebook",
			"Referral letter",
		}
	case model.CategoryRehabilitation:
		return []string{
			"Comfortable clothes",
			"Indoor shoes",
			"Water bottle",
		}
	case model.CategoryTherapy:
		return []string{
			"Therapy notebook",
			"Favorite toy or comfort item",
		}
	case model.CategoryCheckup:
		return []string{
			"Insurance card",
			"Health record booklet",
		}
	}
	return nil
}
