package handlers

import (
	"net/http"

	"tecnoico/pkg/httputil"
)

// GET /api/stats/overview
func (h *Handler) StatsOverview(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	over := h.Stats.Overview()

	resp := map[string]any{
		"w5m":         over.W5m,
		"w1h":         over.W1h,
		"w24h":        over.W24h,
		"byCurrency":  over.ByCurrency,
		"avgPrice24h": h.Stats.AveragePrice(),
	}

	if err := httputil.JSON(w, http.StatusOK, resp, nil); err != nil {
		h.Log.Errorf("StatsOverview handler error: %s", err.Error())
	}
}
