package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tecnoico/internal/domain"
)

type PriceRepo struct {
	db *gorm.DB
}

func NewPriceRepo(db *gorm.DB) *PriceRepo {
	return &PriceRepo{db: db}
}

// Create appends a new price row. Rows are immutable; a price change is a
// new row, never an update.
func (r *PriceRepo) Create(ctx context.Context, p *domain.Price) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// Active returns the most recent price for the token.
func (r *PriceRepo) Active(ctx context.Context, token string) (*domain.Price, error) {
	var p domain.Price
	err := r.db.WithContext(ctx).
		Where("token = ?", token).
		Order("created_at DESC, id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveID is the settlement pipeline's view: just the reference, nil when
// no price row exists yet.
func (r *PriceRepo) ActiveID(ctx context.Context, token string) (*int64, error) {
	p, err := r.Active(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p.ID, nil
}

// History returns price rows for a token, newest first, capped at limit.
func (r *PriceRepo) History(ctx context.Context, token string, limit int) ([]domain.Price, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	var prices []domain.Price
	q := r.db.WithContext(ctx).Model(&domain.Price{})
	if token != "" {
		q = q.Where("token = ?", token)
	}
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&prices).Error
	if err != nil {
		return nil, err
	}
	return prices, nil
}
