package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
	"tecnoico/internal/domain"
	"tecnoico/internal/stores/postgres"
)

// OutboxQueue is the repository surface the retry worker drives.
type OutboxQueue interface {
	Due(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastErr string, dead bool) error
}

// OutboxWorker drains the settlement outbox: each due entry is retried
// against the transactions table with exponential backoff until it lands,
// turns out to be a duplicate, or exhausts its attempts.
type OutboxWorker struct {
	log   logger.Logger
	queue OutboxQueue
	txs   TxStore
	bcast Broadcaster
	sink  EventSink

	interval    time.Duration
	baseBackoff time.Duration
	maxAttempts int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewOutboxWorker(
	log logger.Logger,
	queue OutboxQueue,
	txs TxStore,
	bcast Broadcaster,
	sink EventSink,
	cfg config.SettlementConfig,
) *OutboxWorker {
	if cfg.OutboxInterval <= 0 {
		cfg.OutboxInterval = 10 * time.Second
	}
	if cfg.OutboxBaseBackoff <= 0 {
		cfg.OutboxBaseBackoff = 5 * time.Second
	}
	if cfg.OutboxMaxAttempts <= 0 {
		cfg.OutboxMaxAttempts = 10
	}

	return &OutboxWorker{
		log:         log,
		queue:       queue,
		txs:         txs,
		bcast:       bcast,
		sink:        sink,
		interval:    cfg.OutboxInterval,
		baseBackoff: cfg.OutboxBaseBackoff,
		maxAttempts: cfg.OutboxMaxAttempts,
		stopCh:      make(chan struct{}),
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
}

func (w *OutboxWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain runs one pass over the due entries. Exposed for tests and for a
// final flush during shutdown.
func (w *OutboxWorker) Drain(ctx context.Context) {
	entries, err := w.queue.Due(ctx, time.Now(), 50)
	if err != nil {
		w.log.Errorf("Outbox poll failed: %v", err)
		return
	}

	for i := range entries {
		w.retry(ctx, &entries[i])
	}
}

func (w *OutboxWorker) retry(ctx context.Context, e *domain.OutboxEntry) {
	var rec domain.Settlement
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		// Unreadable payload never becomes readable; park it.
		w.log.Errorf("Outbox entry %d has a corrupt payload, marking dead: %v", e.ID, err)
		_ = w.queue.MarkFailed(ctx, e.ID, e.Attempts+1, time.Now(), "corrupt payload: "+err.Error(), true)
		return
	}

	err := w.txs.Create(ctx, toTransaction(&rec))
	if err == nil || errors.Is(err, postgres.ErrDuplicateHash) {
		if markErr := w.queue.MarkDone(ctx, e.ID); markErr != nil {
			w.log.Errorf("Failed to mark outbox entry %d done: %v", e.ID, markErr)
			return
		}

		if err == nil {
			if w.bcast != nil {
				if berr := w.bcast.PublishSettlement(&rec); berr != nil {
					w.log.Errorf("Failed to broadcast deferred settlement %s: %v", rec.Hash, berr)
				}
			}
			if w.sink != nil {
				w.sink.Record(&rec, true)
			}
		}

		w.log.Infof("Deferred settlement landed: %s (attempts=%d)", rec.Hash, e.Attempts+1)
		return
	}

	attempts := e.Attempts + 1
	dead := attempts >= w.maxAttempts
	next := time.Now().Add(w.backoff(attempts))

	if dead {
		w.log.Errorf("Outbox entry %d exhausted %d attempts, marking dead: %v", e.ID, attempts, err)
	} else {
		w.log.Warnf("Outbox retry %d/%d failed for %s: %v", attempts, w.maxAttempts, rec.Hash, err)
	}

	if markErr := w.queue.MarkFailed(ctx, e.ID, attempts, next, err.Error(), dead); markErr != nil {
		w.log.Errorf("Failed to update outbox entry %d: %v", e.ID, markErr)
	}
}

// backoff doubles per attempt, capped at ~17 doublings to avoid overflow.
func (w *OutboxWorker) backoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift > 17 {
		shift = 17
	}
	return w.baseBackoff * (1 << shift)
}
