package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hopelink/hopelink/internal/care"
	"github.com/hopelink/hopelink/internal/middleware"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/ws"
)

type ScheduleHandler struct {
	svc    *care.Service
	hub    *ws.Hub
	logger *slog.Logger
}

func NewScheduleHandler(svc *care.Service, hub *ws.Hub, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, hub: hub, logger: logger}
}

type scheduleRequest struct {
	ChildID         string                `json:"child_id"`
	Title           string                `json:"title"`
	Category        string                `json:"category"`
	StartTime       string                `json:"start_time"`
	EndTime         string                `json:"end_time"`
	AllDay          bool                  `json:"all_day"`
	LocationName    string                `json:"location_name"`
	LocationAddress string                `json:"location_address"`
	Department      string                `json:"department"`
	DoctorName      string                `json:"doctor_name"`
	Checklist       []model.ChecklistItem `json:"checklist"`
	ReminderMinutes []int                 `json:"reminder_minutes"`
	Notes           string                `json:"notes"`
}

func (h *ScheduleHandler) parse(w http.ResponseWriter, r *http.Request) (*model.Schedule, bool) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 format")
		return nil, false
	}
	var endTime time.Time
	if req.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_time must be RFC3339 format")
			return nil, false
		}
	}

	return &model.Schedule{
		UserID:          middleware.UserID(r.Context()),
		ChildID:         req.ChildID,
		Title:           strings.TrimSpace(req.Title),
		Category:        model.Category(req.Category),
		StartTime:       startTime,
		EndTime:         endTime,
		AllDay:          req.AllDay,
		LocationName:    req.LocationName,
		LocationAddress: req.LocationAddress,
		Department:      req.Department,
		DoctorName:      req.DoctorName,
		Checklist:       req.Checklist,
		ReminderMinutes: req.ReminderMinutes,
		Notes:           req.Notes,
	}, true
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	sched, ok := h.parse(w, r)
	if !ok {
		return
	}

	res, err := h.svc.CreateSchedule(sched)
	if err != nil {
		h.writeServiceError(w, err, "create schedule")
		return
	}

	h.notify(res.Schedule, "created", res)
	writeJSON(w, http.StatusCreated, res)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	start, err := parseFlexibleTime(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD format")
		return
	}
	end, err := parseFlexibleTime(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD format")
		return
	}

	schedules, err := h.svc.ListSchedules(middleware.UserID(r.Context()), start, end)
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []model.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.GetSchedule(r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "get schedule")
		return
	}
	if sched.UserID != middleware.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.svc.GetSchedule(id)
	if err != nil {
		h.writeServiceError(w, err, "update schedule")
		return
	}
	if existing.UserID != middleware.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	sched, ok := h.parse(w, r)
	if !ok {
		return
	}

	res, err := h.svc.UpdateSchedule(id, sched)
	if err != nil {
		h.writeServiceError(w, err, "update schedule")
		return
	}

	h.notify(res.Schedule, "updated", res)
	writeJSON(w, http.StatusOK, res)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := h.svc.GetSchedule(id)
	if err != nil {
		h.writeServiceError(w, err, "delete schedule")
		return
	}
	if sched.UserID != middleware.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	if err := h.svc.DeleteSchedule(id); err != nil {
		h.writeServiceError(w, err, "delete schedule")
		return
	}

	h.notify(sched, "deleted", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) notify(sched *model.Schedule, action string, res *care.Result) {
	if h.hub == nil {
		return
	}
	extra := map[string]any{"child_id": sched.ChildID}
	if res != nil {
		extra["has_conflict"] = len(res.Conflicts) > 0
	}
	h.hub.NotifyUser(sched.UserID, ws.NewMessage("schedule", action, sched.ID, extra))
}

func (h *ScheduleHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, care.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "care: invalid schedule: "))
	case errors.Is(err, care.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
