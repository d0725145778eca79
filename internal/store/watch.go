package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hopelink/hopelink/internal/model"
)

const watchColumns = `id, user_id, child_id, hospital, department, doctor_name,
	date_from, date_to, from_hour, to_hour, enabled, status,
	last_alert_at, alert_count, last_activity_at, created_at, updated_at`

type WatchStore struct {
	db *sql.DB
}

func NewWatchStore(db *sql.DB) *WatchStore {
	return &WatchStore{db: db}
}

func (s *WatchStore) Create(sub *model.WatchSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.LastActivityAt = now
	if sub.Status == "" {
		sub.Status = model.WatchStopped
	}
	if sub.ToHour == 0 {
		sub.ToHour = 24
	}

	_, err := s.db.Exec(
		`INSERT INTO watch_subscriptions (`+watchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ChildID, sub.Hospital, sub.Department, sub.DoctorName,
		nullTime(sub.DateFrom), nullTime(sub.DateTo), sub.FromHour, sub.ToHour,
		boolInt(sub.Enabled), string(sub.Status),
		nullTime(sub.LastAlertAt), sub.AlertCount, sub.LastActivityAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert watch subscription: %w", err)
	}
	return nil
}

func (s *WatchStore) GetByID(id string) (*model.WatchSubscription, error) {
	row := s.db.QueryRow(`SELECT `+watchColumns+` FROM watch_subscriptions WHERE id = ?`, id)
	sub, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query watch subscription: %w", err)
	}
	return sub, nil
}

func (s *WatchStore) ListByUser(userID string) ([]model.WatchSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+watchColumns+` FROM watch_subscriptions WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query watch subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanWatches(rows)
}

func (s *WatchStore) ListEnabled() ([]model.WatchSubscription, error) {
	rows, err := s.db.Query(
		`SELECT ` + watchColumns + ` FROM watch_subscriptions WHERE enabled = 1 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query enabled watch subscriptions: %w", err)
	}
	defer rows.Close()
	return scanWatches(rows)
}

func (s *WatchStore) SetEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(
		`UPDATE watch_subscriptions SET enabled = ?, last_activity_at = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set watch enabled: %w", err)
	}
	return nil
}

// SetStatus records the watcher lifecycle state (active, degraded,
// stopped) for surfacing to the user.
func (s *WatchStore) SetStatus(id string, status model.WatchStatus) error {
	_, err := s.db.Exec(
		`UPDATE watch_subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set watch status: %w", err)
	}
	return nil
}

// RecordAlert advances the subscription's alert watermark and count.
func (s *WatchStore) RecordAlert(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE watch_subscriptions
		 SET alert_count = alert_count + 1, last_alert_at = ?, last_activity_at = ?, updated_at = ?
		 WHERE id = ?`,
		at.UTC(), at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record watch alert: %w", err)
	}
	return nil
}

// DeactivateInactive disables subscriptions with no activity since the
// cutoff and returns their IDs so callers can stop the watchers.
func (s *WatchStore) DeactivateInactive(before time.Time) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("deactivate inactive watches: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id FROM watch_subscriptions WHERE enabled = 1 AND last_activity_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query inactive watches: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan inactive watch: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive watches: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = tx.Exec(
		`UPDATE watch_subscriptions SET enabled = 0, status = ?, updated_at = ?
		 WHERE enabled = 1 AND last_activity_at < ?`,
		string(model.WatchStopped), time.Now().UTC(), before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate inactive watches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("deactivate inactive watches: %w", err)
	}
	return ids, nil
}

// MarkAlertSeen records a dedup key and reports whether it was new within
// the window. Keys are scoped to the subscription, so two subscriptions
// watching the same provider each get their own alert for one slot. Keys
// older than the window are treated as expired and refreshed. The check
// and record are one statement so two reports racing on the same key
// yield exactly one alert.
func (s *WatchStore) MarkAlertSeen(dedupKey, subscriptionID string, now time.Time, window time.Duration) (bool, error) {
	cutoff := now.Add(-window).UTC()
	res, err := s.db.Exec(
		`INSERT INTO alert_dedup (subscription_id, dedup_key, seen_at) VALUES (?, ?, ?)
		 ON CONFLICT(subscription_id, dedup_key) DO UPDATE SET seen_at = excluded.seen_at
		 WHERE alert_dedup.seen_at < ?`,
		subscriptionID, dedupKey, now.UTC(), cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("mark alert seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark alert rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeDedup removes dedup entries older than the cutoff.
func (s *WatchStore) PurgeDedup(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM alert_dedup WHERE seen_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge alert dedup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge dedup rows affected: %w", err)
	}
	return n, nil
}

func scanWatch(row rowScanner) (*model.WatchSubscription, error) {
	var sub model.WatchSubscription
	var status string
	var enabled int
	var dateFrom, dateTo, lastAlert sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ChildID, &sub.Hospital, &sub.Department, &sub.DoctorName,
		&dateFrom, &dateTo, &sub.FromHour, &sub.ToHour, &enabled, &status,
		&lastAlert, &sub.AlertCount, &sub.LastActivityAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Enabled = enabled != 0
	sub.Status = model.WatchStatus(status)
	if dateFrom.Valid {
		sub.DateFrom = &dateFrom.Time
	}
	if dateTo.Valid {
		sub.DateTo = &dateTo.Time
	}
	if lastAlert.Valid {
		sub.LastAlertAt = &lastAlert.Time
	}
	return &sub, nil
}

func scanWatches(rows *sql.Rows) ([]model.WatchSubscription, error) {
	var subs []model.WatchSubscription
	for rows.Next() {
		sub, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
