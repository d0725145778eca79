package model

import "time"

// Category classifies a care schedule.
type Category string

const (
	CategoryHospital       Category = "hospital"
	CategoryRehabilitation Category = "rehabilitation"
	CategoryTherapy        Category = "therapy"
	CategoryCheckup        Category = "checkup"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryHospital, CategoryRehabilitation, CategoryTherapy, CategoryCheckup:
		return true
	}
	return false
}

// SyncStatus is the per-schedule synchronization state against the
// external calendar.
type SyncStatus string

const (
	SyncUnsynced    SyncStatus = "unsynced"
	SyncPendingPush SyncStatus = "pending_push"
	SyncSynced      SyncStatus = "synced"
	SyncPendingPull SyncStatus = "pending_pull"
	SyncConflicted  SyncStatus = "conflicted"
	SyncFailed      SyncStatus = "sync_failed"
)

// ChecklistItem is a single preparation item attached to a schedule.
// Item order is preserved as entered.
type ChecklistItem struct {
	Item    string `json:"item"`
	Checked bool   `json:"checked"`
}

// Schedule is a single care appointment for a child.
type Schedule struct {
	ID              string          `json:"id"`
	ChildID         string          `json:"child_id"`
	UserID          string          `json:"user_id"`
	Title           string          `json:"title"`
	Category        Category        `json:"category"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	AllDay          bool            `json:"all_day"`
	LocationName    string          `json:"location_name"`
	LocationAddress string          `json:"location_address"`
	Department      string          `json:"department"`
	DoctorName      string          `json:"doctor_name"`
	Checklist       []ChecklistItem `json:"checklist"`
	ReminderMinutes []int           `json:"reminder_minutes"`
	Notes           string          `json:"notes"`

	// Sync linkage. ExternalEventID is empty until the schedule has been
	// pushed at least once. LastSyncedAt is the watermark of the last
	// state both sides agreed on.
	ExternalEventID string     `json:"external_event_id,omitempty"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LastSyncedAt    time.Time  `json:"last_synced_at"`

	// Conflict cache, written only by the conflict detector.
	HasConflict  bool     `json:"has_conflict"`
	ConflictWith []string `json:"conflict_with"`

	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModifiedSinceSync reports whether the schedule has local edits newer
// than the last sync watermark.
func (s *Schedule) ModifiedSinceSync() bool {
	return s.UpdatedAt.After(s.LastSyncedAt)
}
