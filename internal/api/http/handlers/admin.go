package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tecnoico/internal/admin"
	"tecnoico/internal/api/http/mw"
	"tecnoico/internal/domain"
	"tecnoico/pkg/httputil"
)

// requireAdmin resolves the caller's wallet from the verified token and
// checks on-chain admin membership. Writes the error response itself.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	wallet := mw.WalletFromContext(r.Context())
	if wallet == "" {
		_ = httputil.Error(w, r, http.StatusUnauthorized, "unauthorized", "token carries no wallet claim", nil)
		return false
	}

	if err := h.Admin.RequireAdmin(r.Context(), wallet); err != nil {
		if errors.Is(err, admin.ErrNotAdmin) {
			_ = httputil.Error(w, r, http.StatusForbidden, "forbidden", "wallet is not an admin", nil)
			return false
		}
		h.Log.Errorf("admin check error wallet=%s: %v", wallet, err)
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", "admin registry unavailable", nil)
		return false
	}
	return true
}

// GET /api/admin/ico
func (h *Handler) ICOParams(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	params, err := h.Admin.ICOParams(r.Context())
	if err != nil {
		h.Log.Errorf("ICOParams handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, params, nil); err != nil {
		h.Log.Errorf("ICOParams handler error: %s", err.Error())
	}
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

// POST /api/admin/ico/pause
func (h *Handler) SetPaused(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body setPausedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	if err := h.Admin.SetPaused(r.Context(), body.Paused); err != nil {
		h.Log.Errorf("SetPaused handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"paused": body.Paused}, nil); err != nil {
		h.Log.Errorf("SetPaused handler error: %s", err.Error())
	}
}

// GET /api/admin/releases
func (h *Handler) Releases(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	slots, err := h.Admin.Releases(r.Context())
	if err != nil {
		h.Log.Errorf("Releases handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"slots": slots}, nil); err != nil {
		h.Log.Errorf("Releases handler error: %s", err.Error())
	}
}

type setReleasesRequest struct {
	Slots []domain.ReleaseSlot `json:"slots"`
}

// PUT /api/admin/releases
func (h *Handler) SetReleases(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body setReleasesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	slots, err := h.Admin.SetReleases(r.Context(), body.Slots)
	if err != nil {
		switch {
		case errors.Is(err, admin.ErrSlotLocked),
			errors.Is(err, admin.ErrBadSchedule),
			errors.Is(err, admin.ErrBadRewardPercent):
			_ = httputil.Error(w, r, http.StatusBadRequest, "invalid_schedule", err.Error(), nil)
		default:
			h.Log.Errorf("SetReleases handler error: %s", err.Error())
			_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"slots": slots}, nil); err != nil {
		h.Log.Errorf("SetReleases handler error: %s", err.Error())
	}
}

// GET /api/admin/admins
func (h *Handler) AdminSet(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	set, err := h.Admin.AdminSet(r.Context())
	if err != nil {
		h.Log.Errorf("AdminSet handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, set, nil); err != nil {
		h.Log.Errorf("AdminSet handler error: %s", err.Error())
	}
}

type adminWalletRequest struct {
	Wallet string `json:"wallet"`
}

// POST /api/admin/admins
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body adminWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	if err := h.Admin.AddAdmin(r.Context(), body.Wallet); err != nil {
		h.Log.Errorf("AddAdmin handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"added": body.Wallet}, nil); err != nil {
		h.Log.Errorf("AddAdmin handler error: %s", err.Error())
	}
}

// DELETE /api/admin/admins
func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body adminWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	if err := h.Admin.RemoveAdmin(r.Context(), body.Wallet); err != nil {
		if errors.Is(err, admin.ErrRemoveSuperAdmin) {
			_ = httputil.Error(w, r, http.StatusBadRequest, "super_admin_protected", err.Error(), nil)
			return
		}
		h.Log.Errorf("RemoveAdmin handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"removed": body.Wallet}, nil); err != nil {
		h.Log.Errorf("RemoveAdmin handler error: %s", err.Error())
	}
}

// PUT /api/admin/admins/super — only the current super admin may hand over.
func (h *Handler) ChangeSuperAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body adminWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	actor := mw.WalletFromContext(r.Context())
	if err := h.Admin.ChangeSuperAdmin(r.Context(), actor, body.Wallet); err != nil {
		if errors.Is(err, admin.ErrNotSuperAdmin) {
			_ = httputil.Error(w, r, http.StatusForbidden, "forbidden", err.Error(), nil)
			return
		}
		h.Log.Errorf("ChangeSuperAdmin handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"superAdmin": body.Wallet}, nil); err != nil {
		h.Log.Errorf("ChangeSuperAdmin handler error: %s", err.Error())
	}
}
