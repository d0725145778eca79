// Package hospital talks to hospital reservation systems to discover
// freed appointment slots.
package hospital

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the reservation system cannot be
// reached or answers with a server error. Watchers treat it as a
// transient failure and retry with backoff.
var ErrUnavailable = errors.New("hospital: reservation system unavailable")

// SlotReport is one freed appointment slot observed at the source.
type SlotReport struct {
	SlotID     string    `json:"slot_id"`
	Hospital   string    `json:"hospital"`
	Department string    `json:"department"`
	DoctorName string    `json:"doctor_name,omitempty"`
	SlotTime   time.Time `json:"slot_time"`
	ObservedAt time.Time `json:"observed_at"`
}

// DedupKey identifies the slot for alert suppression. Two observations
// of the same physical slot must produce the same key.
func (r SlotReport) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", r.Hospital, r.SlotID, r.SlotTime.UTC().Format(time.RFC3339))
}

// Filter narrows a query to the slots a subscription cares about.
type Filter struct {
	Hospital   string
	Department string
	DoctorName string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// Source queries a reservation system for currently free slots.
type Source interface {
	QueryAvailability(ctx context.Context, filter Filter) ([]SlotReport, error)
}
