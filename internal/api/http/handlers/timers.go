package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tecnoico/internal/domain"
	"tecnoico/internal/stores/postgres"
	"tecnoico/pkg/httputil"
)

type timerRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	IsActive    bool      `json:"isActive"`
	Type        string    `json:"type"`
	Metadata    string    `json:"metadata"`
}

func (t *timerRequest) validate() string {
	if t.Name == "" {
		return "name is required"
	}
	if t.StartTime.IsZero() || t.EndTime.IsZero() {
		return "startTime and endTime are required"
	}
	if !t.EndTime.After(t.StartTime) {
		return "endTime must be after startTime"
	}
	switch domain.TimerType(t.Type) {
	case domain.TimerICO, domain.TimerStaking, domain.TimerGeneral:
	default:
		return "type must be one of ICO, STAKING, GENERAL"
	}
	return ""
}

// GET /api/timers
func (h *Handler) GetTimer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Timers.Get(r.Context())
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no timer configured", nil)
			return
		}
		h.Log.Errorf("GetTimer handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to load timer", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, t, nil); err != nil {
		h.Log.Errorf("GetTimer handler error: %s", err.Error())
	}
}

// POST /api/timers, admin only. At most one timer exists; a second create
// is rejected.
func (h *Handler) CreateTimer(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body timerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	if msg := body.validate(); msg != "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", msg, nil)
		return
	}

	t := &domain.Timer{
		Name:        body.Name,
		Description: body.Description,
		StartTime:   body.StartTime,
		EndTime:     body.EndTime,
		IsActive:    body.IsActive,
		Type:        domain.TimerType(body.Type),
		Metadata:    body.Metadata,
	}

	if err := h.Timers.Create(r.Context(), t); err != nil {
		if errors.Is(err, postgres.ErrTimerExists) {
			_ = httputil.Error(w, r, http.StatusBadRequest, "timer_exists", "a timer already exists, update or delete it first", nil)
			return
		}
		h.Log.Errorf("CreateTimer handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to create timer", nil)
		return
	}

	h.broadcastTimer(t)
	if err := httputil.JSON(w, http.StatusCreated, t, nil); err != nil {
		h.Log.Errorf("CreateTimer handler error: %s", err.Error())
	}
}

// PUT /api/timers, admin only
func (h *Handler) UpdateTimer(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body timerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	if msg := body.validate(); msg != "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", msg, nil)
		return
	}

	t := &domain.Timer{
		Name:        body.Name,
		Description: body.Description,
		StartTime:   body.StartTime,
		EndTime:     body.EndTime,
		IsActive:    body.IsActive,
		Type:        domain.TimerType(body.Type),
		Metadata:    body.Metadata,
	}

	if err := h.Timers.Update(r.Context(), t); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no timer configured", nil)
			return
		}
		h.Log.Errorf("UpdateTimer handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to update timer", nil)
		return
	}

	updated, err := h.Timers.Get(r.Context())
	if err != nil {
		updated = t
	}

	h.broadcastTimer(updated)
	if err := httputil.JSON(w, http.StatusOK, updated, nil); err != nil {
		h.Log.Errorf("UpdateTimer handler error: %s", err.Error())
	}
}

// DELETE /api/timers, admin only
func (h *Handler) DeleteTimer(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	if err := h.Timers.Delete(r.Context()); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no timer configured", nil)
			return
		}
		h.Log.Errorf("DeleteTimer handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to delete timer", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"deleted": true}, nil); err != nil {
		h.Log.Errorf("DeleteTimer handler error: %s", err.Error())
	}
}

func (h *Handler) broadcastTimer(t *domain.Timer) {
	if h.Bcast == nil {
		return
	}
	if err := h.Bcast.PublishTimer(t); err != nil {
		h.Log.Warnf("timer broadcast failed: %v", err)
	}
}
