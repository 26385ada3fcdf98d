package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tecnoico/internal/config"
	"tecnoico/internal/domain"
)

// Open connects and migrates the schema. Silent mode: SQL noise off, errors
// still surface.
func Open(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err = db.AutoMigrate(
		&domain.Transaction{},
		&domain.Price{},
		&domain.Timer{},
		&domain.OutboxEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}
