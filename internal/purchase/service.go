package purchase

import (
	"context"

	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/metrics"
)

// Service spins up one Workflow per request. The workflow itself is
// single-use; the service carries the shared wiring.
type Service struct {
	log     logger.Logger
	backend Backend
	settler Settler
	prices  PriceRef
	opts    Opts
}

func NewService(log logger.Logger, backend Backend, settler Settler, prices PriceRef, opts Opts) *Service {
	return &Service{
		log:     log,
		backend: backend,
		settler: settler,
		prices:  prices,
		opts:    opts,
	}
}

func (s *Service) Purchase(ctx context.Context, req *Request) (*Result, error) {
	timer := metrics.NewPurchaseTimer()
	defer timer.ObserveDuration()

	w := New(s.log, s.backend, s.settler, s.prices, s.opts)
	res, err := w.Run(ctx, req)
	if res != nil {
		metrics.PurchasesTotal.WithLabelValues(string(res.State)).Inc()
		if res.Err != nil {
			metrics.PurchaseErrors.WithLabelValues(string(res.Err.Code)).Inc()
		}
	}
	return res, err
}
