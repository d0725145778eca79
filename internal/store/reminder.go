package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReminderStore tracks which (schedule, offset) reminders have already
// been delivered so the scheduler never sends one twice.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

func (s *ReminderStore) WasSent(scheduleID string, offsetMinutes int) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM sent_reminders WHERE schedule_id = ? AND offset_minutes = ?`,
		scheduleID, offsetMinutes,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query sent reminder: %w", err)
	}
	return true, nil
}

func (s *ReminderStore) RecordSent(scheduleID string, offsetMinutes int) error {
	_, err := s.db.Exec(
		`INSERT INTO sent_reminders (schedule_id, offset_minutes, sent_at) VALUES (?, ?, ?)
		 ON CONFLICT(schedule_id, offset_minutes) DO NOTHING`,
		scheduleID, offsetMinutes, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record sent reminder: %w", err)
	}
	return nil
}

// PurgeOld removes delivery records older than the cutoff.
func (s *ReminderStore) PurgeOld(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sent_reminders WHERE sent_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sent reminders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge reminders rows affected: %w", err)
	}
	return n, nil
}
