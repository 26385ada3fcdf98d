package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tecnoico/internal/domain"
	"tecnoico/internal/stores/postgres"
	"tecnoico/pkg/httputil"
)

func txFilterFromQuery(r *http.Request) postgres.TxFilter {
	q := r.URL.Query()

	f := postgres.TxFilter{
		Type:     domain.TxType(q.Get("type")),
		Status:   domain.TxStatus(q.Get("status")),
		Currency: domain.Currency(q.Get("currency")),
		Wallet:   q.Get("wallet"),
	}

	if v := q.Get("priceId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.PriceID = &id
		}
	}
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = ts
		}
	}
	if v := q.Get("page"); v != "" {
		f.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		f.PageSize, _ = strconv.Atoi(v)
	}
	f.Normalize()

	return f
}

// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f := txFilterFromQuery(r)

	txs, total, err := h.Txs.List(r.Context(), f)
	if err != nil {
		h.Log.Errorf("ListTransactions handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to list transactions", nil)
		return
	}

	resp := map[string]any{
		"items":    txs,
		"total":    total,
		"page":     f.Page,
		"pageSize": f.PageSize,
	}
	if err := httputil.JSON(w, http.StatusOK, resp, nil); err != nil {
		h.Log.Errorf("ListTransactions handler error: %s", err.Error())
	}
}

// GET /api/transactions/all
func (h *Handler) ListAllTransactions(w http.ResponseWriter, r *http.Request) {
	f := txFilterFromQuery(r)

	txs, err := h.Txs.ListAll(r.Context(), f)
	if err != nil {
		h.Log.Errorf("ListAllTransactions handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to list transactions", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"items": txs, "total": len(txs)}, nil); err != nil {
		h.Log.Errorf("ListAllTransactions handler error: %s", err.Error())
	}
}

// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid transaction id", nil)
		return
	}

	tx, err := h.Txs.ByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "transaction not found", nil)
			return
		}
		h.Log.Errorf("GetTransaction handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to load transaction", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, tx, nil); err != nil {
		h.Log.Errorf("GetTransaction handler error: %s", err.Error())
	}
}

// DELETE /api/transactions/{id}, admin only
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid transaction id", nil)
		return
	}

	if err := h.Txs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "transaction not found", nil)
			return
		}
		h.Log.Errorf("DeleteTransaction handler error: %s", err.Error())
		_ = httputil.Error(w, r, http.StatusInternalServerError, "storage_error", "failed to delete transaction", nil)
		return
	}

	h.Log.Infof("transaction deleted id=%d", id)
	if err := httputil.JSON(w, http.StatusOK, map[string]any{"deleted": id}, nil); err != nil {
		h.Log.Errorf("DeleteTransaction handler error: %s", err.Error())
	}
}
