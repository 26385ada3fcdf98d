package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/domain"
	"tecnoico/internal/purchase"
	"tecnoico/internal/stats"
	"tecnoico/internal/stores/postgres"
)

// Contract surfaces the handlers drive. Wired with the real services in
// app wiring; faked in handler tests.

type PurchaseRunner interface {
	Purchase(ctx context.Context, req *purchase.Request) (*purchase.Result, error)
}

type TxStore interface {
	List(ctx context.Context, f postgres.TxFilter) ([]domain.Transaction, int64, error)
	ListAll(ctx context.Context, f postgres.TxFilter) ([]domain.Transaction, error)
	ByID(ctx context.Context, id int64) (*domain.Transaction, error)
	Delete(ctx context.Context, id int64) error
}

type PriceStore interface {
	Active(ctx context.Context, token string) (*domain.Price, error)
	History(ctx context.Context, token string, limit int) ([]domain.Price, error)
}

type TimerStore interface {
	Create(ctx context.Context, t *domain.Timer) error
	Get(ctx context.Context) (*domain.Timer, error)
	Update(ctx context.Context, t *domain.Timer) error
	Delete(ctx context.Context) error
}

type AdminService interface {
	RequireAdmin(ctx context.Context, wallet string) error
	ICOParams(ctx context.Context) (*domain.SaleParams, error)
	SetPrice(ctx context.Context, price decimal.Decimal, validUntil time.Time, reason string) (*domain.Price, error)
	SetPaused(ctx context.Context, paused bool) error
	Releases(ctx context.Context) ([]domain.ReleaseSlot, error)
	SetReleases(ctx context.Context, slots []domain.ReleaseSlot) ([]domain.ReleaseSlot, error)
	AdminSet(ctx context.Context) (*domain.AdminSet, error)
	AddAdmin(ctx context.Context, wallet string) error
	RemoveAdmin(ctx context.Context, wallet string) error
	ChangeSuperAdmin(ctx context.Context, actor, wallet string) error
}

type StatsSource interface {
	Overview() stats.Windows
	AveragePrice() decimal.Decimal
}

type TimerBroadcaster interface {
	PublishTimer(t *domain.Timer) error
}

// ReadinessChecker pings the external dependencies a request path needs.
type ReadinessChecker interface {
	CheckDependency(ctx context.Context) error
}

type Handler struct {
	Log       logger.Logger
	Purchases PurchaseRunner
	Txs       TxStore
	Prices    PriceStore
	Timers    TimerStore
	Admin     AdminService
	Stats     StatsSource
	Bcast     TimerBroadcaster
	Readiness ReadinessChecker

	TokenSymbol string
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{Log: log, TokenSymbol: "NEFE"}
}
