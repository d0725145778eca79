package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hopelink/hopelink/internal/model"
)

const syncLinkColumns = `id, user_id, account_email, refresh_token, calendar_id, direction,
	enabled, invalidated, watermark, last_error, created_at, updated_at`

type SyncLinkStore struct {
	db *sql.DB
}

func NewSyncLinkStore(db *sql.DB) *SyncLinkStore {
	return &SyncLinkStore{db: db}
}

// Create inserts a link for a user. The UNIQUE constraint on user_id
// enforces one external calendar account per user.
func (s *SyncLinkStore) Create(link *model.SyncLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	link.CreatedAt = now
	link.UpdatedAt = now
	if link.Direction == "" {
		link.Direction = model.SyncBidirectional
	}

	_, err := s.db.Exec(
		`INSERT INTO sync_links (`+syncLinkColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.UserID, link.AccountEmail, link.RefreshToken, link.CalendarID,
		string(link.Direction), boolInt(link.Enabled), boolInt(link.Invalidated),
		link.Watermark.UTC(), link.LastError, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync link: %w", err)
	}
	return nil
}

func (s *SyncLinkStore) GetByUser(userID string) (*model.SyncLink, error) {
	row := s.db.QueryRow(`SELECT `+syncLinkColumns+` FROM sync_links WHERE user_id = ?`, userID)
	link, err := scanSyncLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync link: %w", err)
	}
	return link, nil
}

// ListActive returns links that are enabled and not invalidated.
func (s *SyncLinkStore) ListActive() ([]model.SyncLink, error) {
	rows, err := s.db.Query(
		`SELECT ` + syncLinkColumns + ` FROM sync_links WHERE enabled = 1 AND invalidated = 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active sync links: %w", err)
	}
	defer rows.Close()

	var links []model.SyncLink
	for rows.Next() {
		link, err := scanSyncLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync link: %w", err)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// SetWatermark records a completed reconciliation pass. It is called only
// after both pass directions finished without error.
func (s *SyncLinkStore) SetWatermark(id string, watermark time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sync_links SET watermark = ?, last_error = '', updated_at = ? WHERE id = ?`,
		watermark.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set sync watermark: %w", err)
	}
	return nil
}

// Invalidate flags the link after a credential failure. The link keeps its
// row and watermark; passes stay suspended until Reauthorize.
func (s *SyncLinkStore) Invalidate(id, reason string) error {
	_, err := s.db.Exec(
		`UPDATE sync_links SET invalidated = 1, last_error = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("invalidate sync link: %w", err)
	}
	return nil
}

// Reauthorize stores a fresh refresh credential and clears the
// invalidated flag so passes can resume.
func (s *SyncLinkStore) Reauthorize(id, refreshToken string) error {
	_, err := s.db.Exec(
		`UPDATE sync_links SET refresh_token = ?, invalidated = 0, last_error = '', updated_at = ? WHERE id = ?`,
		refreshToken, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reauthorize sync link: %w", err)
	}
	return nil
}

func (s *SyncLinkStore) SetEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(
		`UPDATE sync_links SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set sync link enabled: %w", err)
	}
	return nil
}

// Delete removes the link entirely. Schedules keep their external event
// ids so a later reconnect can pick reconciliation back up.
func (s *SyncLinkStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sync link: %w", err)
	}
	return nil
}

func scanSyncLink(row rowScanner) (*model.SyncLink, error) {
	var link model.SyncLink
	var direction string
	var enabled, invalidated int

	err := row.Scan(
		&link.ID, &link.UserID, &link.AccountEmail, &link.RefreshToken, &link.CalendarID,
		&direction, &enabled, &invalidated, &link.Watermark, &link.LastError,
		&link.CreatedAt, &link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	link.Direction = model.SyncDirection(direction)
	link.Enabled = enabled != 0
	link.Invalidated = invalidated != 0
	return &link, nil
}
