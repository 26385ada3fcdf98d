package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
)

// SaleEventRow is one settled purchase flattened for the analytics table.
type SaleEventRow struct {
	EventTime     time.Time
	TxHash        string
	WalletAddress string
	Currency      string
	AmountUSD     string // Decimal(20,6) — send string
	TokenAmount   string // Decimal(38,18) — send string
	RewardAmount  string // Decimal(38,18) — send string
	PriceUSD      string // Decimal(20,6)  — send string
	BlockNumber   uint64
	Deferred      bool // convert to UInt8
	SchemaVersion uint16
}

// Writer batches sale events into ClickHouse off the settlement hot path.
type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan SaleEventRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan SaleEventRow, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row SaleEventRow) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]SaleEventRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []SaleEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO sale_events (
				event_time,
				tx_hash,
				wallet_address,
				currency,
				amount_usd,
				token_amount,
				reward_amount,
				price_usd,
				block_number,
				deferred,
				schema_version
			)
		`)
		if err != nil {
			lastErr = err
			goto retry
		}

		for i := range rows {
			r := &rows[i]
			var deferred uint8
			if r.Deferred {
				deferred = 1
			}

			if err = batch.Append(
				r.EventTime,
				r.TxHash,
				r.WalletAddress,
				r.Currency,
				r.AmountUSD,
				r.TokenAmount,
				r.RewardAmount,
				r.PriceUSD,
				r.BlockNumber,
				deferred,
				r.SchemaVersion,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				goto retry
			}
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			goto retry
		}
		// success
		return nil

	retry:
		if attempt == w.cfg.Writer.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
