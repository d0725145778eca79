package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hopelink/hopelink/internal/care"
	"github.com/hopelink/hopelink/internal/middleware"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

type SyncLinkHandler struct {
	links  *store.SyncLinkStore
	nudger care.Nudger
	logger *slog.Logger
}

func NewSyncLinkHandler(links *store.SyncLinkStore, nudger care.Nudger, logger *slog.Logger) *SyncLinkHandler {
	return &SyncLinkHandler{links: links, nudger: nudger, logger: logger}
}

type syncLinkRequest struct {
	AccountEmail string `json:"account_email"`
	RefreshToken string `json:"refresh_token"`
	CalendarID   string `json:"calendar_id"`
	Direction    string `json:"direction"`
}

// Create connects the user's external calendar. One link per user.
func (h *SyncLinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req syncLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RefreshToken == "" || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "refresh_token and calendar_id are required")
		return
	}
	direction := model.SyncDirection(req.Direction)
	if req.Direction == "" {
		direction = model.SyncBidirectional
	}
	if !direction.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be outbound, inbound or bidirectional")
		return
	}

	userID := middleware.UserID(r.Context())
	existing, err := h.links.GetByUser(userID)
	if err != nil {
		h.logger.Error("load sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create sync link")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "a sync link already exists for this user")
		return
	}

	link := &model.SyncLink{
		UserID:       userID,
		AccountEmail: req.AccountEmail,
		RefreshToken: req.RefreshToken,
		CalendarID:   req.CalendarID,
		Direction:    direction,
		Enabled:      true,
	}
	if err := h.links.Create(link); err != nil {
		h.logger.Error("create sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create sync link")
		return
	}

	h.nudger.Nudge(userID)
	writeJSON(w, http.StatusCreated, link)
}

// Get returns the user's sync link state, or 404 when no calendar is
// connected.
func (h *SyncLinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.GetByUser(middleware.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sync link")
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "no calendar connected")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type reauthorizeRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Reauthorize stores a fresh credential and clears the invalidated flag.
func (h *SyncLinkHandler) Reauthorize(w http.ResponseWriter, r *http.Request) {
	var req reauthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	userID := middleware.UserID(r.Context())
	link, err := h.links.GetByUser(userID)
	if err != nil {
		h.logger.Error("load sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reauthorize")
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "no calendar connected")
		return
	}

	if err := h.links.Reauthorize(link.ID, req.RefreshToken); err != nil {
		h.logger.Error("reauthorize sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reauthorize")
		return
	}

	h.nudger.Nudge(userID)
	w.WriteHeader(http.StatusNoContent)
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled pauses or resumes reconciliation for the link.
func (h *SyncLinkHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	userID := middleware.UserID(r.Context())
	link, err := h.links.GetByUser(userID)
	if err != nil {
		h.logger.Error("load sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update sync link")
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "no calendar connected")
		return
	}

	if err := h.links.SetEnabled(link.ID, req.Enabled); err != nil {
		h.logger.Error("update sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update sync link")
		return
	}
	if req.Enabled {
		h.nudger.Nudge(userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete disconnects the external calendar. Local schedules are kept
// untouched.
func (h *SyncLinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.GetByUser(middleware.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "no calendar connected")
		return
	}

	if err := h.links.Delete(link.ID); err != nil {
		h.logger.Error("delete sync link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run requests an immediate reconciliation pass.
func (h *SyncLinkHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.nudger.Nudge(middleware.UserID(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}
