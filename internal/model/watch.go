package model

import "time"

// WatchStatus is the lifecycle state of a watch subscription's watcher.
type WatchStatus string

const (
	WatchActive   WatchStatus = "active"
	WatchDegraded WatchStatus = "degraded"
	WatchStopped  WatchStatus = "stopped"
)

// WatchSubscription is a user's standing request to be alerted when an
// appointment slot frees up at a provider.
type WatchSubscription struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	ChildID    string `json:"child_id"`
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
	DoctorName string `json:"doctor_name"`

	// Optional slot preferences. Dates bound the acceptable slot date,
	// FromHour/ToHour bound the acceptable time of day (0 and 24 mean
	// unconstrained).
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	FromHour int        `json:"from_hour"`
	ToHour   int        `json:"to_hour"`

	Enabled        bool        `json:"enabled"`
	Status         WatchStatus `json:"status"`
	LastAlertAt    *time.Time  `json:"last_alert_at,omitempty"`
	AlertCount     int64       `json:"alert_count"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AlertEvent is an ephemeral freed-slot alert produced by a watcher. It
// lives only until delivery plus the dedup window.
type AlertEvent struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	SlotID         string    `json:"slot_id"`
	SlotTime       time.Time `json:"slot_time"`
	Hospital       string    `json:"hospital"`
	Department     string    `json:"department"`
	DoctorName     string    `json:"doctor_name"`
	DedupKey       string    `json:"dedup_key"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}
