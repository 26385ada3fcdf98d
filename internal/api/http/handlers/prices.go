package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tecnoico/internal/stores/postgres"
	"tecnoico/pkg/httputil"
)

// GET /api/prices — the active price only; superseded rows stay as history.
func (h *Handler) ActivePrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.Prices.Active(r.Context(), h.TokenSymbol)
	if errors.Is(err, postgres.ErrNotFound) {
		_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no price configured", nil)
		return
	}
	if err != nil {
		h.Log.Errorf("ActivePrice handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to load price", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, p, nil); err != nil {
		h.Log.Errorf("ActivePrice handler error: %s", err.Error())
	}
}

// GET /api/prices/history
func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	rows, err := h.Prices.History(r.Context(), h.TokenSymbol, limit)
	if err != nil {
		h.Log.Errorf("PriceHistory handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to load price history", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"items": rows, "total": len(rows)}, nil); err != nil {
		h.Log.Errorf("PriceHistory handler error: %s", err.Error())
	}
}

type setPriceRequest struct {
	Price      string    `json:"price"`
	ValidUntil time.Time `json:"validUntil"`
	Reason     string    `json:"reason"`
}

// POST /api/prices, admin only. Writes the chain first; the stored row is
// the audit record of the change.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil || price.Sign() <= 0 {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "price must be a positive decimal", nil)
		return
	}

	p, err := h.Admin.SetPrice(r.Context(), price, body.ValidUntil, body.Reason)
	if err != nil {
		h.Log.Errorf("SetPrice handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusBadGateway, "chain_error", err.Error(), nil)
		return
	}

	if err := httputil.JSON(w, http.StatusCreated, p, nil); err != nil {
		h.Log.Errorf("SetPrice handler error: %s", err.Error())
	}
}
