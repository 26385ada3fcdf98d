package handlers

import (
	"context"
	"net/http"
	"time"

	"tecnoico/pkg/httputil"
)

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]any{}, nil); err != nil {
		h.Log.Errorf("Healthz handler error: %s", err.Error())
	}
}

// Check health external services/clients
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if h.Readiness != nil {
		if err := h.Readiness.CheckDependency(ctx); err != nil {
			err = httputil.Error(w, r, http.StatusServiceUnavailable, "dependencies_unhealthy", "dependencies check failed", map[string]any{
				"error": err.Error(),
			})
			if err != nil {
				h.Log.Errorf("Readiness handler error: %s", err.Error())
			}
			return
		}
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]string{"dependencies": "healthy"}, nil); err != nil {
		h.Log.Errorf("Readiness handler error: %s", err.Error())
	}
}
