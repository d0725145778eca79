// Package sync reconciles local care schedules with a user's external
// calendar. The state machine lives in this file as pure transition
// logic; the engine drives it against the calendar client.
package sync

import (
	"time"

	"github.com/hopelink/hopelink/internal/calendar"
	"github.com/hopelink/hopelink/internal/model"
)

// Side identifies which writer wins a concurrent edit.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolver implements last-writer-wins with a configurable timestamp
// granularity. Providers expose coarse revision timestamps, so both
// sides are truncated before comparing; ties go to the local side so a
// user's own edit is never silently clobbered by an equal-age remote one.
type Resolver struct {
	Granularity time.Duration
}

// Resolve picks the winning side for a concurrent edit.
func (r Resolver) Resolve(localUpdated, remoteUpdated time.Time) Side {
	l, m := localUpdated, remoteUpdated
	if r.Granularity > 0 {
		l = l.Truncate(r.Granularity)
		m = m.Truncate(r.Granularity)
	}
	if m.After(l) {
		return SideRemote
	}
	return SideLocal
}

// Version captures the semantic fields of one side of a conflict, kept in
// the report so the losing side's values are surfaced before discard.
type Version struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	AllDay    bool      `json:"all_day"`
	Location  string    `json:"location"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConflictReport is surfaced exactly once when both sides changed since
// the last common watermark. It is recorded, not retried.
type ConflictReport struct {
	ScheduleID string    `json:"schedule_id"`
	UserID     string    `json:"user_id"`
	Winner     Side      `json:"winner"`
	Local      Version   `json:"local"`
	Remote     Version   `json:"remote"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func localVersion(s *model.Schedule) Version {
	return Version{
		Title:     s.Title,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		AllDay:    s.AllDay,
		Location:  s.LocationName,
		Notes:     s.Notes,
		UpdatedAt: s.UpdatedAt,
	}
}

func remoteVersion(ev calendar.Event) Version {
	return Version{
		Title:     ev.Title,
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		AllDay:    ev.AllDay,
		Location:  ev.Location,
		Notes:     ev.Description,
		UpdatedAt: ev.Updated,
	}
}

// NextOnLocalChange returns the sync status after a local create, update,
// or delete. A pending pull that gets a local edit on top becomes a
// conflict for the next pass to resolve.
func NextOnLocalChange(cur model.SyncStatus) model.SyncStatus {
	switch cur {
	case model.SyncUnsynced, model.SyncSynced, model.SyncFailed, model.SyncConflicted:
		return model.SyncPendingPush
	case model.SyncPendingPull:
		return model.SyncConflicted
	default:
		return cur
	}
}

// PullAction is the state machine's decision for one inbound event.
type PullAction int

const (
	// PullSkip: nothing to do (already reconciled, or a tombstone for an
	// event we never had).
	PullSkip PullAction = iota
	// PullCreate: no local schedule references this event; create one in
	// state synced.
	PullCreate
	// PullApply: external changed, local did not; merge external state.
	PullApply
	// PullConflict: both sides changed since the watermark.
	PullConflict
	// PullDelete: external deletion observed; soft-delete locally.
	PullDelete
)

// DecidePull classifies an inbound external event against the local
// schedule linked to it (nil when no link exists).
func DecidePull(local *model.Schedule, ev calendar.Event) PullAction {
	if local == nil {
		if ev.Deleted {
			return PullSkip
		}
		return PullCreate
	}
	if ev.Deleted {
		return PullDelete
	}
	if !ev.Updated.After(local.LastSyncedAt) {
		return PullSkip
	}
	if local.ModifiedSinceSync() || local.SyncStatus == model.SyncPendingPush || local.SyncStatus == model.SyncConflicted {
		return PullConflict
	}
	return PullApply
}
