package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tecnoico/internal/domain"
)

type OutboxRepo struct {
	db *gorm.DB
}

func NewOutboxRepo(db *gorm.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Enqueue stores a failed settlement for later retry. A duplicate hash means
// the settlement is already queued; that is not an error.
func (r *OutboxRepo) Enqueue(ctx context.Context, e *domain.OutboxEntry) error {
	err := r.db.WithContext(ctx).Create(e).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// Due returns pending entries whose next attempt time has passed, oldest
// first.
func (r *OutboxRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []domain.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt <= ?", domain.OutboxPending, now).
		Order("next_attempt ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *OutboxRepo) MarkDone(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("id = ?", id).
		Update("status", domain.OutboxDone).Error
}

// MarkFailed records a failed attempt and schedules the next one, or parks
// the entry as dead once attempts are exhausted.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastErr string, dead bool) error {
	status := domain.OutboxPending
	if dead {
		status = domain.OutboxDead
	}
	if len(lastErr) > 512 {
		lastErr = lastErr[:512]
	}

	return r.db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"attempts":     attempts,
			"next_attempt": nextAttempt,
			"last_error":   lastErr,
		}).Error
}

// PendingCount feeds the readiness probe and metrics.
func (r *OutboxRepo) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("status = ?", domain.OutboxPending).
		Count(&n).Error
	return n, err
}
