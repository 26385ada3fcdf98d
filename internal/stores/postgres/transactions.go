package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tecnoico/internal/domain"
)

// ErrDuplicateHash reports that a transaction with the same hash already
// exists. The unique index on hash is the hard idempotency constraint.
var ErrDuplicateHash = errors.New("transaction hash already recorded")

var ErrNotFound = errors.New("record not found")

type TransactionRepo struct {
	db *gorm.DB
}

func NewTransactionRepo(db *gorm.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	err := r.db.WithContext(ctx).Create(tx).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateHash
	}
	return err
}

func (r *TransactionRepo) ByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).First(&tx, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepo) ByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Transaction{}).Where("hash = ?", hash).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TxFilter narrows List results. Zero values mean "no constraint".
type TxFilter struct {
	Type     domain.TxType
	Status   domain.TxStatus
	Currency domain.Currency
	Wallet   string
	PriceID  *int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps pagination into safe bounds.
func (f *TxFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}

func (f *TxFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Currency != "" {
		q = q.Where("currency = ?", f.Currency)
	}
	if f.Wallet != "" {
		q = q.Where("wallet_address = ?", f.Wallet)
	}
	if f.PriceID != nil {
		q = q.Where("price_id = ?", *f.PriceID)
	}
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", f.To)
	}
	return q
}

// List returns one page of transactions, newest first, plus the total count
// for the filter.
func (r *TransactionRepo) List(ctx context.Context, f TxFilter) ([]domain.Transaction, int64, error) {
	f.Normalize()

	q := f.apply(r.db.WithContext(ctx).Model(&domain.Transaction{}))

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []domain.Transaction
	err := q.Order("date DESC, id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&txs).Error
	if err != nil {
		return nil, 0, err
	}

	return txs, total, nil
}

// ListAll returns every transaction matching the filter, newest first. Meant
// for the admin export endpoint; pagination does not apply.
func (r *TransactionRepo) ListAll(ctx context.Context, f TxFilter) ([]domain.Transaction, error) {
	q := f.apply(r.db.WithContext(ctx).Model(&domain.Transaction{}))

	var txs []domain.Transaction
	if err := q.Order("date DESC, id DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *TransactionRepo) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&domain.Transaction{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
