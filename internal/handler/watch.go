package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hopelink/hopelink/internal/middleware"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
	"github.com/hopelink/hopelink/internal/watcher"
)

type WatchHandler struct {
	watches    *store.WatchStore
	supervisor *watcher.Supervisor
	logger     *slog.Logger
}

func NewWatchHandler(watches *store.WatchStore, supervisor *watcher.Supervisor, logger *slog.Logger) *WatchHandler {
	return &WatchHandler{watches: watches, supervisor: supervisor, logger: logger}
}

type watchRequest struct {
	ChildID    string `json:"child_id"`
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
	DoctorName string `json:"doctor_name"`
	DateFrom   string `json:"date_from"`
	DateTo     string `json:"date_to"`
	FromHour   int    `json:"from_hour"`
	ToHour     int    `json:"to_hour"`
}

// Create registers a slot watch and starts its watcher.
func (h *WatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Hospital = strings.TrimSpace(req.Hospital)
	if req.Hospital == "" || req.ChildID == "" {
		writeError(w, http.StatusBadRequest, "hospital and child_id are required")
		return
	}
	if req.ToHour == 0 {
		req.ToHour = 24
	}
	if req.FromHour < 0 || req.ToHour > 24 || req.FromHour >= req.ToHour {
		writeError(w, http.StatusBadRequest, "from_hour and to_hour must form a valid range")
		return
	}

	var dateFrom, dateTo *time.Time
	if req.DateFrom != "" {
		t, err := parseFlexibleTime(req.DateFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date_from must be RFC3339 or YYYY-MM-DD format")
			return
		}
		dateFrom = &t
	}
	if req.DateTo != "" {
		t, err := parseFlexibleTime(req.DateTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date_to must be RFC3339 or YYYY-MM-DD format")
			return
		}
		dateTo = &t
	}
	if dateFrom != nil && dateTo != nil && dateTo.Before(*dateFrom) {
		writeError(w, http.StatusBadRequest, "date_to must not be before date_from")
		return
	}

	sub := &model.WatchSubscription{
		UserID:     middleware.UserID(r.Context()),
		ChildID:    req.ChildID,
		Hospital:   req.Hospital,
		Department: req.Department,
		DoctorName: req.DoctorName,
		DateFrom:   dateFrom,
		DateTo:     dateTo,
		FromHour:   req.FromHour,
		ToHour:     req.ToHour,
		Enabled:    true,
		Status:     model.WatchActive,
	}
	if err := h.watches.Create(sub); err != nil {
		h.logger.Error("create watch subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create watch")
		return
	}

	h.supervisor.Add(*sub)
	writeJSON(w, http.StatusCreated, sub)
}

// List returns the user's watch subscriptions.
func (h *WatchHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.watches.ListByUser(middleware.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list watch subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list watches")
		return
	}
	if subs == nil {
		subs = []model.WatchSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// Stop disables a watch subscription and halts its watcher.
func (h *WatchHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.watches.SetEnabled(sub.ID, false); err != nil {
		h.logger.Error("disable watch subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stop watch")
		return
	}
	h.supervisor.Remove(sub.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Resume re-enables a watch subscription and restarts its watcher.
func (h *WatchHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.watches.SetEnabled(sub.ID, true); err != nil {
		h.logger.Error("enable watch subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resume watch")
		return
	}
	sub.Enabled = true
	h.supervisor.Add(*sub)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WatchHandler) owned(w http.ResponseWriter, r *http.Request) (*model.WatchSubscription, bool) {
	sub, err := h.watches.GetByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("load watch subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load watch")
		return nil, false
	}
	if sub == nil || sub.UserID != middleware.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "watch not found")
		return nil, false
	}
	return sub, true
}
