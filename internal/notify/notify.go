// Package notify delivers alerts to a user's registered devices over
// web push.
package notify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notifier fans a payload out to every device a user registered.
type Notifier interface {
	NotifyUser(userID, notifType string, payload Payload)
}

// Service sends web push notifications with VAPID keys.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
	push       *store.PushStore
	logger     *slog.Logger
}

func NewService(publicKey, privateKey string, push *store.PushStore, logger *slog.Logger) *Service {
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: "mailto:noreply@hopelink.app",
		push:       push,
		logger:     logger.With("component", "notify"),
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// NotifyUser sends the payload to every subscription the user has.
// Expired subscriptions are pruned; other delivery failures are logged
// and dropped, alerts are not retried.
func (s *Service) NotifyUser(userID, notifType string, payload Payload) {
	subs, err := s.push.ListByUser(userID)
	if err != nil {
		s.logger.Error("list push subscriptions", "user_id", userID, "error", err)
		return
	}
	for i := range subs {
		if err := s.Send(&subs[i], payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if derr := s.push.DeleteByEndpoint(subs[i].Endpoint); derr != nil {
					s.logger.Error("prune expired subscription", "error", derr)
				}
				continue
			}
			s.logger.Warn("push delivery failed",
				"user_id", userID, "type", notifType, "error", err)
		}
	}
}

// Send sends a push notification to a single subscription.
func (s *Service) Send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// SlotAlertPayload formats a freed-slot alert for delivery.
func SlotAlertPayload(ev model.AlertEvent) Payload {
	body := fmt.Sprintf("%s has an opening on %s", ev.Hospital, ev.SlotTime.Format("Jan 2 at 15:04"))
	if ev.Department != "" {
		body = fmt.Sprintf("%s (%s) has an opening on %s", ev.Hospital, ev.Department, ev.SlotTime.Format("Jan 2 at 15:04"))
	}
	return Payload{
		Title: "Appointment slot available",
		Body:  body,
		URL:   "/watches",
		Tag:   "slot-" + ev.DedupKey,
	}
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
