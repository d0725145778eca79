package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hopelink/hopelink/internal/model"
)

const scheduleColumns = `id, child_id, user_id, title, category, start_time, end_time, all_day,
	location_name, location_address, department, doctor_name, checklist, reminder_minutes, notes,
	external_event_id, sync_status, last_synced_at, has_conflict, conflict_with, deleted,
	created_at, updated_at`

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create inserts a new schedule. ID and timestamps are assigned here;
// sync status starts as given (unsynced, or synced for pull-created rows).
func (s *ScheduleStore) Create(sched *model.Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	if sched.UpdatedAt.IsZero() {
		sched.UpdatedAt = now
	}
	if sched.SyncStatus == "" {
		sched.SyncStatus = model.SyncUnsynced
	}

	checklist, reminders, conflicts, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.ChildID, sched.UserID, sched.Title, string(sched.Category),
		sched.StartTime.UTC(), sched.EndTime.UTC(), boolInt(sched.AllDay),
		sched.LocationName, sched.LocationAddress, sched.Department, sched.DoctorName,
		checklist, reminders, sched.Notes,
		sched.ExternalEventID, string(sched.SyncStatus), sched.LastSyncedAt.UTC(),
		boolInt(sched.HasConflict), conflicts, boolInt(sched.Deleted),
		sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStore) GetByID(id string) (*model.Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return sched, nil
}

// GetByExternalID looks up the schedule linked to an external calendar
// event for a given user.
func (s *ScheduleStore) GetByExternalID(userID, externalID string) (*model.Schedule, error) {
	row := s.db.QueryRow(
		`SELECT `+scheduleColumns+` FROM schedules WHERE user_id = ? AND external_event_id = ?`,
		userID, externalID,
	)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule by external id: %w", err)
	}
	return sched, nil
}

// ListActiveByChild returns all non-deleted schedules for a child, ordered
// by start time. This is the working set for conflict detection.
func (s *ScheduleStore) ListActiveByChild(childID string) ([]model.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE child_id = ? AND deleted = 0
		 ORDER BY start_time ASC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("query schedules by child: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListByUserRange returns non-deleted schedules for a user whose spans
// intersect [start, end).
func (s *ScheduleStore) ListByUserRange(userID string, start, end time.Time) ([]model.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE user_id = ? AND deleted = 0 AND start_time < ? AND end_time > ?
		 ORDER BY start_time ASC`,
		userID, end.UTC(), start.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query schedules by range: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListPendingPush returns schedules awaiting an outbound push for a user,
// oldest local modification first to preserve causal ordering at the
// external system. Schedules whose last push failed are retried too.
func (s *ScheduleStore) ListPendingPush(userID string) ([]model.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE user_id = ? AND sync_status IN (?, ?)
		 ORDER BY updated_at ASC`,
		userID, string(model.SyncPendingPush), string(model.SyncFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending push schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDueReminders returns non-deleted schedules with at least one
// reminder offset and a start time inside (now, now+horizon].
func (s *ScheduleStore) ListDueReminders(now time.Time, horizon time.Duration) ([]model.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE deleted = 0 AND reminder_minutes != '[]' AND start_time > ? AND start_time <= ?
		 ORDER BY start_time ASC`,
		now.UTC(), now.Add(horizon).UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// Update rewrites the mutable fields of a schedule and bumps updated_at.
func (s *ScheduleStore) Update(sched *model.Schedule) error {
	sched.UpdatedAt = time.Now().UTC()
	return s.writeRow(sched)
}

// ApplyExternal writes the row exactly as given, preserving the caller's
// updated_at and last_synced_at. The sync engine uses this when merging
// inbound external state so the merge never registers as a local edit.
func (s *ScheduleStore) ApplyExternal(sched *model.Schedule) error {
	return s.writeRow(sched)
}

func (s *ScheduleStore) writeRow(sched *model.Schedule) error {
	checklist, reminders, conflicts, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE schedules SET
			title = ?, category = ?, start_time = ?, end_time = ?, all_day = ?,
			location_name = ?, location_address = ?, department = ?, doctor_name = ?,
			checklist = ?, reminder_minutes = ?, notes = ?,
			external_event_id = ?, sync_status = ?, last_synced_at = ?,
			has_conflict = ?, conflict_with = ?, deleted = ?, updated_at = ?
		 WHERE id = ?`,
		sched.Title, string(sched.Category), sched.StartTime.UTC(), sched.EndTime.UTC(), boolInt(sched.AllDay),
		sched.LocationName, sched.LocationAddress, sched.Department, sched.DoctorName,
		checklist, reminders, sched.Notes,
		sched.ExternalEventID, string(sched.SyncStatus), sched.LastSyncedAt.UTC(),
		boolInt(sched.HasConflict), conflicts, boolInt(sched.Deleted), sched.UpdatedAt,
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// SetConflicts writes the conflict cache for one schedule. Only the
// conflict detector calls this; it deliberately leaves updated_at alone so
// conflict annotation never looks like a local edit to the sync engine.
func (s *ScheduleStore) SetConflicts(id string, refs []string) error {
	if refs == nil {
		refs = []string{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal conflict refs: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE schedules SET has_conflict = ?, conflict_with = ? WHERE id = ?`,
		boolInt(len(refs) > 0), string(data), id,
	)
	if err != nil {
		return fmt.Errorf("set conflicts: %w", err)
	}
	return nil
}

// SetSyncState updates only the sync linkage fields, leaving updated_at
// alone so a successful push does not register as a new local edit.
func (s *ScheduleStore) SetSyncState(id string, status model.SyncStatus, externalID string, lastSynced time.Time) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET sync_status = ?, external_event_id = ?, last_synced_at = ? WHERE id = ?`,
		string(status), externalID, lastSynced.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

// SoftDelete marks a schedule deleted and bumps updated_at so the
// deletion propagates as a local change.
func (s *ScheduleStore) SoftDelete(id string, status model.SyncStatus) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET deleted = 1, has_conflict = 0, conflict_with = '[]', sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("soft delete schedule: %w", err)
	}
	return nil
}

// PurgeDeleted removes soft-deleted schedules that finished syncing and
// were deleted before the cutoff.
func (s *ScheduleStore) PurgeDeleted(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM schedules WHERE deleted = 1 AND sync_status != ? AND updated_at < ?`,
		string(model.SyncPendingPush), before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge deleted schedules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

func marshalScheduleJSON(sched *model.Schedule) (checklist, reminders, conflicts string, err error) {
	if sched.Checklist == nil {
		sched.Checklist = []model.ChecklistItem{}
	}
	if sched.ReminderMinutes == nil {
		sched.ReminderMinutes = []int{}
	}
	if sched.ConflictWith == nil {
		sched.ConflictWith = []string{}
	}

	cl, err := json.Marshal(sched.Checklist)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal checklist: %w", err)
	}
	rm, err := json.Marshal(sched.ReminderMinutes)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal reminder minutes: %w", err)
	}
	cw, err := json.Marshal(sched.ConflictWith)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal conflict refs: %w", err)
	}
	return string(cl), string(rm), string(cw), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var sched model.Schedule
	var category, status string
	var allDay, hasConflict, deleted int
	var checklist, reminders, conflicts string

	err := row.Scan(
		&sched.ID, &sched.ChildID, &sched.UserID, &sched.Title, &category,
		&sched.StartTime, &sched.EndTime, &allDay,
		&sched.LocationName, &sched.LocationAddress, &sched.Department, &sched.DoctorName,
		&checklist, &reminders, &sched.Notes,
		&sched.ExternalEventID, &status, &sched.LastSyncedAt,
		&hasConflict, &conflicts, &deleted,
		&sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.Category = model.Category(category)
	sched.SyncStatus = model.SyncStatus(status)
	sched.AllDay = allDay != 0
	sched.HasConflict = hasConflict != 0
	sched.Deleted = deleted != 0

	if err := json.Unmarshal([]byte(checklist), &sched.Checklist); err != nil {
		return nil, fmt.Errorf("unmarshal checklist: %w", err)
	}
	if err := json.Unmarshal([]byte(reminders), &sched.ReminderMinutes); err != nil {
		return nil, fmt.Errorf("unmarshal reminder minutes: %w", err)
	}
	if err := json.Unmarshal([]byte(conflicts), &sched.ConflictWith); err != nil {
		return nil, fmt.Errorf("unmarshal conflict refs: %w", err)
	}
	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]model.Schedule, error) {
	var schedules []model.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
