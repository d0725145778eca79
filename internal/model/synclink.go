package model

import "time"

// SyncDirection controls which directions a reconciliation pass runs.
type SyncDirection string

const (
	SyncOutbound      SyncDirection = "outbound"
	SyncInbound       SyncDirection = "inbound"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Valid reports whether d is a known direction.
func (d SyncDirection) Valid() bool {
	switch d {
	case SyncOutbound, SyncInbound, SyncBidirectional:
		return true
	}
	return false
}

// SyncLink is the per-user external calendar connection. At most one
// exists per user. A link is invalidated, never deleted, when its
// credential stops working; re-authorization clears the flag.
type SyncLink struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	AccountEmail string        `json:"account_email"`
	RefreshToken string        `json:"-"`
	CalendarID   string        `json:"calendar_id"`
	Direction    SyncDirection `json:"direction"`
	Enabled      bool          `json:"enabled"`
	Invalidated  bool          `json:"invalidated"`
	Watermark    time.Time     `json:"watermark"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Active reports whether reconciliation passes should run for this link.
func (l *SyncLink) Active() bool {
	return l.Enabled && !l.Invalidated
}
