package hospital

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadSignature is returned for webhook payloads whose HMAC does not
// match the shared secret.
var ErrBadSignature = errors.New("hospital: bad webhook signature")

// WebhookPayload is the push notification some reservation systems send
// when a slot frees up, instead of waiting for our next poll.
type WebhookPayload struct {
	Hospital   string    `json:"hospital"`
	Department string    `json:"department"`
	DoctorName string    `json:"doctor_name,omitempty"`
	SlotID     string    `json:"slot_id"`
	SlotTime   time.Time `json:"slot_time"`
	FreedAt    time.Time `json:"freed_at"`
}

// Sign computes the hex HMAC-SHA256 of body under secret. Exposed so
// tests and the sending side share one implementation.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies the signature and decodes the payload into a
// slot report.
func ParseWebhook(secret, signature string, body []byte) (SlotReport, error) {
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return SlotReport{}, ErrBadSignature
	}

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return SlotReport{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if p.Hospital == "" || p.SlotID == "" || p.SlotTime.IsZero() {
		return SlotReport{}, errors.New("webhook payload missing hospital, slot_id or slot_time")
	}

	observed := p.FreedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	return SlotReport{
		SlotID:     p.SlotID,
		Hospital:   p.Hospital,
		Department: p.Department,
		DoctorName: p.DoctorName,
		SlotTime:   p.SlotTime,
		ObservedAt: observed,
	}, nil
}
