// Package calendar defines the external calendar surface consumed by the
// sync engine, plus an HTTP client for the calendar bridge service.
package calendar

import (
	"errors"
	"time"
)

// ErrUnauthorized marks a credential failure, as opposed to a transient
// network error. The engine reacts by refreshing the token and, if that
// also fails, invalidating the sync link.
var ErrUnauthorized = errors.New("calendar: unauthorized")

// Event is the normalized external calendar event. ChildID and Category
// round-trip through the provider's private extended properties so
// schedules created from an inbound pull keep their ownership.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AllDay      bool      `json:"all_day"`
	ChildID     string    `json:"child_id,omitempty"`
	Category    string    `json:"category,omitempty"`

	// Updated is the provider revision timestamp, the watermark unit.
	Updated time.Time `json:"updated"`
	Deleted bool      `json:"deleted,omitempty"`
}

// Client is the external calendar interface. token is a short-lived
// access token obtained through RefreshToken.
type Client interface {
	// ListChangesSince returns events modified after the watermark,
	// including tombstones for deletions.
	ListChangesSince(token, calendarID string, since time.Time) ([]Event, error)

	// UpsertEvent creates or updates an event and returns the stored
	// event with its provider-assigned ID and revision timestamp.
	UpsertEvent(token, calendarID string, ev Event) (Event, error)

	// DeleteEvent removes an event. Deleting an already-deleted event is
	// not an error.
	DeleteEvent(token, calendarID, eventID string) error

	// RefreshToken exchanges the stored refresh credential for a fresh
	// access token. A failure here is a credential failure, never
	// retried as transient.
	RefreshToken(refreshToken string) (string, error)
}
