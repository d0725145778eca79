package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hopelink/hopelink/internal/hospital"
	"github.com/hopelink/hopelink/internal/watcher"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives freed-slot push notifications from hospital
// reservation systems and feeds them to the watch supervisor.
type WebhookHandler struct {
	secret     string
	supervisor *watcher.Supervisor
	logger     *slog.Logger
}

func NewWebhookHandler(secret string, supervisor *watcher.Supervisor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, supervisor: supervisor, logger: logger}
}

// SlotFreed handles one webhook delivery. The body is HMAC-signed with
// the shared secret; unsigned or tampered deliveries are rejected.
func (h *WebhookHandler) SlotFreed(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook intake not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	report, err := hospital.ParseWebhook(h.secret, r.Header.Get("X-Hopelink-Signature"), body)
	if err != nil {
		if errors.Is(err, hospital.ErrBadSignature) {
			h.logger.Warn("webhook with bad signature rejected")
			writeError(w, http.StatusUnauthorized, "bad signature")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	routed := h.supervisor.Dispatch(report)
	h.logger.Info("slot webhook received",
		"hospital", report.Hospital, "slot_id", report.SlotID, "watchers", routed)
	writeJSON(w, http.StatusAccepted, map[string]int{"watchers": routed})
}
