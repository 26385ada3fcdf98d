package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tecnoico/internal/domain"
)

// ErrTimerExists reports the singleton constraint: at most one timer row may
// exist, enforced by the unique index on the slot column.
var ErrTimerExists = errors.New("a timer already exists")

type TimerRepo struct {
	db *gorm.DB
}

func NewTimerRepo(db *gorm.DB) *TimerRepo {
	return &TimerRepo{db: db}
}

// Create inserts the timer row. Slot is forced to the singleton slot so two
// concurrent creates collapse into a uniqueness violation at the store.
func (r *TimerRepo) Create(ctx context.Context, t *domain.Timer) error {
	t.Slot = domain.TimerSingletonSlot
	err := r.db.WithContext(ctx).Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTimerExists
	}
	return err
}

// Get returns the timer, or ErrNotFound when none exists.
func (r *TimerRepo) Get(ctx context.Context) (*domain.Timer, error) {
	var t domain.Timer
	err := r.db.WithContext(ctx).Where("slot = ?", domain.TimerSingletonSlot).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Update replaces the mutable fields of the existing timer.
func (r *TimerRepo) Update(ctx context.Context, t *domain.Timer) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Timer{}).
		Where("slot = ?", domain.TimerSingletonSlot).
		Updates(map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"start_time":  t.StartTime,
			"end_time":    t.EndTime,
			"is_active":   t.IsActive,
			"type":        t.Type,
			"metadata":    t.Metadata,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the timer, freeing the slot for a future create.
func (r *TimerRepo) Delete(ctx context.Context) error {
	res := r.db.WithContext(ctx).
		Where("slot = ?", domain.TimerSingletonSlot).
		Delete(&domain.Timer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
