package handlers

import (
	"encoding/json"
	"net/http"

	"tecnoico/internal/domain"
	"tecnoico/internal/purchase"
	"tecnoico/pkg/httputil"
)

type purchaseRequest struct {
	AmountUSD string `json:"amountUsd"`
	Currency  string `json:"currency"`
	Wallet    string `json:"wallet"`
}

// POST /api/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var body purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	req := &purchase.Request{
		USDAmount:     body.AmountUSD,
		Currency:      domain.Currency(body.Currency),
		WalletAddress: body.Wallet,
	}

	res, err := h.Purchases.Purchase(r.Context(), req)
	if err != nil {
		if res != nil && res.Err != nil {
			h.Log.Warnf("purchase rejected code=%s step=%s wallet=%s", res.Err.Code, res.Err.Step, body.Wallet)
			_ = httputil.Error(w, r, purchaseStatus(res.Err.Code), string(res.Err.Code), res.Err.Message, map[string]any{
				"state": res.State,
				"trace": res.Trace,
				"hints": res.Err.Hints,
			})
			return
		}
		h.Log.Errorf("purchase failed: %v", err)
		_ = httputil.Error(w, r, http.StatusInternalServerError, "internal_error", "purchase failed", nil)
		return
	}

	if err := httputil.JSON(w, http.StatusOK, res, nil); err != nil {
		h.Log.Errorf("Purchase handler error: %s", err.Error())
	}
}

func purchaseStatus(code purchase.Code) int {
	switch code {
	case purchase.CodeInvalidAmount, purchase.CodeWrongNetwork:
		return http.StatusBadRequest
	case purchase.CodeSalePaused, purchase.CodeInsufficientFunds:
		return http.StatusConflict
	case purchase.CodeWalletRateLimited:
		return http.StatusTooManyRequests
	case purchase.CodeApprovalFailed, purchase.CodePurchaseFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
