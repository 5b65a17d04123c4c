// Package storage owns database connectivity and schema migration.
package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cardcore/authorization"
	"cardcore/bank"
	"cardcore/bank/fineract"
	"cardcore/cards"
	"cardcore/ledger"
	"cardcore/processor"
)

// Open connects to the configured database. TranslateError is required: the
// idempotency paths detect duplicate-key races through gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	switch driver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// AutoMigrate creates or updates every table the card core owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&cards.Card{},
		&bank.AccountMapping{},
		&authorization.Authorization{},
		&ledger.Entry{},
		&processor.TransactionMapping{},
		&fineract.AuthHold{},
	)
}
