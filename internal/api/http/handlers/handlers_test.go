package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/admin"
	"tecnoico/internal/api/http/mw"
	"tecnoico/internal/domain"
	"tecnoico/internal/purchase"
	"tecnoico/internal/stats"
	"tecnoico/internal/stores/postgres"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

// --- fakes ---

type fakePurchases struct {
	res *purchase.Result
	err error
	got *purchase.Request
}

func (f *fakePurchases) Purchase(_ context.Context, req *purchase.Request) (*purchase.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakeTxStore struct {
	items     []domain.Transaction
	total     int64
	gotFilter postgres.TxFilter
	deleteErr error
	deletedID int64
}

func (f *fakeTxStore) List(_ context.Context, flt postgres.TxFilter) ([]domain.Transaction, int64, error) {
	f.gotFilter = flt
	return f.items, f.total, nil
}

func (f *fakeTxStore) ListAll(_ context.Context, flt postgres.TxFilter) ([]domain.Transaction, error) {
	f.gotFilter = flt
	return f.items, nil
}

func (f *fakeTxStore) ByID(_ context.Context, id int64) (*domain.Transaction, error) {
	for i := range f.items {
		if f.items[i].ID == id {
			return &f.items[i], nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeTxStore) Delete(_ context.Context, id int64) error {
	f.deletedID = id
	return f.deleteErr
}

type fakePriceStore struct {
	active  *domain.Price
	history []domain.Price
}

func (f *fakePriceStore) Active(_ context.Context, _ string) (*domain.Price, error) {
	if f.active == nil {
		return nil, postgres.ErrNotFound
	}
	return f.active, nil
}

func (f *fakePriceStore) History(_ context.Context, _ string, _ int) ([]domain.Price, error) {
	return f.history, nil
}

type fakeTimerStore struct {
	timer     *domain.Timer
	createErr error
	updateErr error
	deleteErr error
	created   *domain.Timer
}

func (f *fakeTimerStore) Create(_ context.Context, t *domain.Timer) error {
	if f.createErr != nil {
		return f.createErr
	}
	t.ID = 1
	f.created = t
	f.timer = t
	return nil
}

func (f *fakeTimerStore) Get(_ context.Context) (*domain.Timer, error) {
	if f.timer == nil {
		return nil, postgres.ErrNotFound
	}
	return f.timer, nil
}

func (f *fakeTimerStore) Update(_ context.Context, t *domain.Timer) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.timer == nil {
		return postgres.ErrNotFound
	}
	f.timer = t
	return nil
}

func (f *fakeTimerStore) Delete(_ context.Context) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.timer == nil {
		return postgres.ErrNotFound
	}
	f.timer = nil
	return nil
}

type fakeAdmin struct {
	adminWallets map[string]bool
	setPaused    *bool
	addedAdmin   string
}

func (f *fakeAdmin) RequireAdmin(_ context.Context, wallet string) error {
	if f.adminWallets[strings.ToLower(wallet)] {
		return nil
	}
	return admin.ErrNotAdmin
}

func (f *fakeAdmin) ICOParams(_ context.Context) (*domain.SaleParams, error) {
	return &domain.SaleParams{
		PriceUSD:      decimal.RequireFromString("0.007"),
		RewardPercent: 3,
	}, nil
}

func (f *fakeAdmin) SetPrice(_ context.Context, price decimal.Decimal, validUntil time.Time, reason string) (*domain.Price, error) {
	return &domain.Price{ID: 7, Token: "NEFE", Price: price, ValidUntil: validUntil, Reason: reason}, nil
}

func (f *fakeAdmin) SetPaused(_ context.Context, paused bool) error {
	f.setPaused = &paused
	return nil
}

func (f *fakeAdmin) Releases(_ context.Context) ([]domain.ReleaseSlot, error) {
	return []domain.ReleaseSlot{}, nil
}

func (f *fakeAdmin) SetReleases(_ context.Context, slots []domain.ReleaseSlot) ([]domain.ReleaseSlot, error) {
	return slots, nil
}

func (f *fakeAdmin) AdminSet(_ context.Context) (*domain.AdminSet, error) {
	return &domain.AdminSet{SuperAdmin: "0xsuper"}, nil
}

func (f *fakeAdmin) AddAdmin(_ context.Context, wallet string) error {
	f.addedAdmin = wallet
	return nil
}

func (f *fakeAdmin) RemoveAdmin(_ context.Context, wallet string) error {
	if wallet == "0xsuper" {
		return admin.ErrRemoveSuperAdmin
	}
	return nil
}

func (f *fakeAdmin) ChangeSuperAdmin(_ context.Context, actor, _ string) error {
	if actor != "0xsuper" {
		return admin.ErrNotSuperAdmin
	}
	return nil
}

type fakeStats struct{}

func (fakeStats) Overview() stats.Windows       { return stats.Windows{} }
func (fakeStats) AveragePrice() decimal.Decimal { return decimal.RequireFromString("0.007") }

type fakeTimerBcast struct {
	published []*domain.Timer
}

func (f *fakeTimerBcast) PublishTimer(t *domain.Timer) error {
	f.published = append(f.published, t)
	return nil
}

// --- test env ---

const testAdminWallet = "0x2222222222222222222222222222222222222222"

type testEnv struct {
	h      *Handler
	txs    *fakeTxStore
	prices *fakePriceStore
	timers *fakeTimerStore
	admin  *fakeAdmin
	bcast  *fakeTimerBcast
}

func newTestEnv() *testEnv {
	env := &testEnv{
		txs:    &fakeTxStore{},
		prices: &fakePriceStore{},
		timers: &fakeTimerStore{},
		admin:  &fakeAdmin{adminWallets: map[string]bool{testAdminWallet: true}},
		bcast:  &fakeTimerBcast{},
	}

	h := NewHandler(newTestLogger())
	h.Txs = env.txs
	h.Prices = env.prices
	h.Timers = env.timers
	h.Admin = env.admin
	h.Stats = fakeStats{}
	h.Bcast = env.bcast
	env.h = h

	return env
}

func (e *testEnv) router() chi.Router {
	r := chi.NewRouter()
	r.Post("/api/purchase", e.h.Purchase)
	r.Get("/api/transactions", e.h.ListTransactions)
	r.Get("/api/transactions/{id}", e.h.GetTransaction)
	r.Delete("/api/transactions/{id}", e.h.DeleteTransaction)
	r.Get("/api/prices", e.h.ActivePrice)
	r.Post("/api/prices", e.h.SetPrice)
	r.Get("/api/timers", e.h.GetTimer)
	r.Post("/api/timers", e.h.CreateTimer)
	r.Put("/api/timers", e.h.UpdateTimer)
	r.Delete("/api/timers", e.h.DeleteTimer)
	r.Get("/api/stats/overview", e.h.StatsOverview)
	return r
}

func asAdmin(req *http.Request) *http.Request {
	return req.WithContext(mw.ContextWithIdentity(req.Context(), "admin", testAdminWallet))
}

func asWallet(req *http.Request, wallet string) *http.Request {
	return req.WithContext(mw.ContextWithIdentity(req.Context(), "user", wallet))
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

// --- timers ---

func validTimerBody() map[string]any {
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	return map[string]any{
		"name":      "ICO phase one",
		"startTime": start,
		"endTime":   start.Add(24 * time.Hour),
		"isActive":  true,
		"type":      "ICO",
	}
}

func TestCreateTimer_Success(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/timers", jsonBody(t, validTimerBody())))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, env.timers.created)
	assert.Equal(t, "ICO phase one", env.timers.created.Name)
	assert.Len(t, env.bcast.published, 1)
}

func TestCreateTimer_SecondCreateRejected(t *testing.T) {
	env := newTestEnv()
	env.timers.createErr = postgres.ErrTimerExists
	router := env.router()

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/timers", jsonBody(t, validTimerBody())))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "timer_exists")
}

func TestCreateTimer_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{
			name:   "missing_name",
			mutate: func(b map[string]any) { b["name"] = "" },
		},
		{
			name:   "end_before_start",
			mutate: func(b map[string]any) { b["endTime"] = time.Now().Add(-time.Hour) },
		},
		{
			name:   "unknown_type",
			mutate: func(b map[string]any) { b["type"] = "LOTTERY" },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			router := env.router()

			body := validTimerBody()
			tc.mutate(body)

			req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/timers", jsonBody(t, body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, env.timers.created)
		})
	}
}

func TestCreateTimer_NonAdminForbidden(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := asWallet(httptest.NewRequest(http.MethodPost, "/api/timers", jsonBody(t, validTimerBody())), "0x9999999999999999999999999999999999999999")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateTimer_NoWalletClaim(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := httptest.NewRequest(http.MethodPost, "/api/timers", jsonBody(t, validTimerBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateTimer_NotFound(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := asAdmin(httptest.NewRequest(http.MethodPut, "/api/timers", jsonBody(t, validTimerBody())))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTimer_ThenGetReturns404(t *testing.T) {
	env := newTestEnv()
	env.timers.timer = &domain.Timer{ID: 1, Slot: domain.TimerSingletonSlot, Name: "phase"}
	router := env.router()

	req := asAdmin(httptest.NewRequest(http.MethodDelete, "/api/timers", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/timers", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- prices ---

func TestActivePrice_NewestOnly(t *testing.T) {
	env := newTestEnv()
	env.prices.active = &domain.Price{ID: 3, Token: "NEFE", Price: decimal.RequireFromString("0.009")}
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"0.009"`)
}

func TestActivePrice_NoneConfigured(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestSetPrice_RejectsNonPositive(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	for _, price := range []string{"0", "-1", "abc"} {
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/prices", jsonBody(t, map[string]any{"price": price})))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "price %q", price)
	}
}

func TestSetPrice_Success(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/prices", jsonBody(t, map[string]any{
		"price":  "0.009",
		"reason": "phase two",
	})))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "phase two")
}

// --- transactions ---

func TestListTransactions_PriceIDFilter(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?priceId=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.txs.gotFilter.PriceID)
	assert.Equal(t, int64(7), *env.txs.gotFilter.PriceID)

	// Garbage values are ignored, not treated as zero.
	req = httptest.NewRequest(http.MethodGet, "/api/transactions?priceId=abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.txs.gotFilter.PriceID)
}

func TestListTransactions_Pagination(t *testing.T) {
	env := newTestEnv()
	env.txs.items = []domain.Transaction{{ID: 1, Hash: "0xaa"}}
	env.txs.total = 42
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?page=3&page_size=10&currency=USDT", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 3, env.txs.gotFilter.Page)
	assert.Equal(t, 10, env.txs.gotFilter.PageSize)
	assert.Equal(t, domain.CurrencyUSDT, env.txs.gotFilter.Currency)

	var resp struct {
		Data struct {
			Total int64 `json:"total"`
			Page  int   `json:"page"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Data.Total)
	assert.Equal(t, 3, resp.Data.Page)
}

func TestListTransactions_PageSizeClamped(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?page_size=5000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, env.txs.gotFilter.PageSize)
}

func TestGetTransaction_NotFound(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTransaction_AdminOnly(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	req := asWallet(httptest.NewRequest(http.MethodDelete, "/api/transactions/7", nil), "0x9999999999999999999999999999999999999999")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.txs.deletedID)

	req = asAdmin(httptest.NewRequest(http.MethodDelete, "/api/transactions/7", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), env.txs.deletedID)
}

// --- purchase ---

func TestPurchase_Success(t *testing.T) {
	env := newTestEnv()
	env.h.Purchases = &fakePurchases{
		res: &purchase.Result{
			State:        purchase.StateDone,
			PurchaseHash: "0xbb",
			TokenAmount:  decimal.RequireFromString("14285.714285"),
		},
	}
	router := env.router()

	req := httptest.NewRequest(http.MethodPost, "/api/purchase", jsonBody(t, map[string]any{
		"amountUsd": "100",
		"currency":  "USDT",
		"wallet":    "0x1111111111111111111111111111111111111111",
	}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "0xbb")
}

func TestPurchase_BadJSON(t *testing.T) {
	env := newTestEnv()
	env.h.Purchases = &fakePurchases{}
	router := env.router()

	req := httptest.NewRequest(http.MethodPost, "/api/purchase", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseStatus_Mapping(t *testing.T) {
	testCases := []struct {
		code purchase.Code
		want int
	}{
		{purchase.CodeInvalidAmount, http.StatusBadRequest},
		{purchase.CodeWrongNetwork, http.StatusBadRequest},
		{purchase.CodeSalePaused, http.StatusConflict},
		{purchase.CodeInsufficientFunds, http.StatusConflict},
		{purchase.CodeWalletRateLimited, http.StatusTooManyRequests},
		{purchase.CodeApprovalFailed, http.StatusBadGateway},
		{purchase.CodePurchaseFailed, http.StatusBadGateway},
		{purchase.CodePersistFailed, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, purchaseStatus(tc.code), string(tc.code))
	}
}

func TestStatsOverview_AdminOnly(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/overview", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/stats/overview", nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "avgPrice24h")
}
