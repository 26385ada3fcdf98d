package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/dedupe"
	"tecnoico/internal/domain"
	"tecnoico/internal/metrics"
	"tecnoico/internal/stores/postgres"
)

// TxStore is the slice of the transaction repository the pipeline needs.
type TxStore interface {
	Create(ctx context.Context, tx *domain.Transaction) error
}

// OutboxStore holds settlements whose primary write failed.
type OutboxStore interface {
	Enqueue(ctx context.Context, e *domain.OutboxEntry) error
}

// Broadcaster fans settled purchases out to subscribers.
type Broadcaster interface {
	PublishSettlement(s *domain.Settlement) error
}

// EventSink receives settled purchases for analytics.
type EventSink interface {
	Record(s *domain.Settlement, deferred bool)
}

// Encapsulates the business logic for landing a confirmed purchase off
// chain. The only orchestration point: dedupe → insert → broadcast → sink.
// The on-chain transaction is already final when Settle is called, so the
// pipeline never returns an error it can absorb: a failed insert goes to the
// outbox, a failed broadcast is logged and dropped.
type Service struct {
	log     logger.Logger
	deduper dedupe.Deduper
	txs     TxStore
	outbox  OutboxStore
	bcast   Broadcaster
	sink    EventSink

	baseBackoff time.Duration
}

func NewService(
	log logger.Logger,
	deduper dedupe.Deduper,
	txs TxStore,
	outbox OutboxStore,
	bcast Broadcaster,
	sink EventSink,
	baseBackoff time.Duration,
) *Service {
	if baseBackoff <= 0 {
		baseBackoff = 5 * time.Second
	}

	return &Service{
		log:         log,
		deduper:     deduper,
		txs:         txs,
		outbox:      outbox,
		bcast:       bcast,
		sink:        sink,
		baseBackoff: baseBackoff,
	}
}

// Settle lands one confirmed purchase. deferred=true means the record went
// to the outbox instead of the transactions table; an error means neither
// store took it.
func (s *Service) Settle(ctx context.Context, rec *domain.Settlement) (bool, error) {
	hash, err := domain.NormalizeHash(rec.Hash)
	if err != nil {
		return false, fmt.Errorf("settlement hash: %w", err)
	}
	rec.Hash = hash

	seen, err := s.deduper.Seen(ctx, hash)
	if err != nil {
		// Dedupe is the fast path only; the unique index below still
		// protects against duplicates.
		s.log.Warnf("Dedupe check failed for %s, relying on store constraint: %v", hash, err)
	}
	if seen {
		s.log.Debugf("Duplicate settlement ignored: %s", hash)
		metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	if err = s.txs.Create(ctx, toTransaction(rec)); err != nil {
		if errors.Is(err, postgres.ErrDuplicateHash) {
			s.log.Debugf("Settlement already recorded: %s", hash)
			metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			return false, nil
		}

		s.log.Errorf("Primary write failed for %s, deferring to outbox: %v", hash, err)
		if oerr := s.enqueue(ctx, rec, err); oerr != nil {
			return false, fmt.Errorf("settle %s: store failed (%v) and outbox failed: %w", hash, err, oerr)
		}
		s.finish(rec, true)
		return true, nil
	}

	s.finish(rec, false)
	return false, nil
}

// finish runs the non-critical tail: broadcast and analytics. Errors are
// logged, never surfaced.
func (s *Service) finish(rec *domain.Settlement, deferred bool) {
	if deferred {
		metrics.SettlementsTotal.WithLabelValues("deferred").Inc()
	} else {
		metrics.SettlementsTotal.WithLabelValues("direct").Inc()
	}

	if s.bcast != nil {
		if err := s.bcast.PublishSettlement(rec); err != nil {
			s.log.Errorf("Failed to broadcast settlement %s: %v", rec.Hash, err)
		}
	}

	if s.sink != nil {
		s.sink.Record(rec, deferred)
	}

	s.log.Debugf("Settlement processed: %s (wallet=%s, usd=%s)",
		rec.Hash, rec.WalletAddress, rec.AmountUSD)
}

func (s *Service) enqueue(ctx context.Context, rec *domain.Settlement, cause error) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	msg := cause.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}

	return s.outbox.Enqueue(ctx, &domain.OutboxEntry{
		Hash:        rec.Hash,
		Payload:     payload,
		Status:      domain.OutboxPending,
		Attempts:    0,
		NextAttempt: time.Now().Add(s.baseBackoff),
		LastError:   msg,
	})
}

func toTransaction(rec *domain.Settlement) *domain.Transaction {
	return &domain.Transaction{
		Type:          domain.TxBuy,
		Amount:        rec.TokenAmount.Add(rec.RewardAmount),
		Price:         rec.PriceUSD,
		Currency:      rec.Currency,
		Status:        domain.TxCompleted,
		Date:          rec.SettledAt,
		Hash:          rec.Hash,
		WalletAddress: rec.WalletAddress,
		PriceID:       rec.PriceID,
	}
}
