package authorization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cardcore/money"
)

// Store wraps the authorization table queries. It also implements
// rules.History so policy rules can consult past activity.
type Store struct {
	db *gorm.DB
}

// NewStore wires the store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByID loads an authorization by its internal id.
func (s *Store) FindByID(ctx context.Context, authorizationID string) (Authorization, error) {
	return findByID(s.db.WithContext(ctx), authorizationID)
}

func findByID(tx *gorm.DB, authorizationID string) (Authorization, error) {
	var auth Authorization
	if err := tx.First(&auth, "authorization_id = ?", authorizationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, fmt.Errorf("load authorization %s: %w", authorizationID, err)
	}
	return auth, nil
}

// FindByIdempotencyKey returns the record persisted under key, or nil.
func FindByIdempotencyKey(tx *gorm.DB, key string) (*Authorization, error) {
	var auth Authorization
	if err := tx.First(&auth, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup authorization by idempotency key: %w", err)
	}
	return &auth, nil
}

// SumApprovedSince totals APPROVED amounts for the card in one currency since
// the cutoff. Amounts in other currencies do not count toward the cap.
func (s *Store) SumApprovedSince(ctx context.Context, cardID string, currency money.Currency, since time.Time) (money.Money, error) {
	var total decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&Authorization{}).
		Where("card_id = ? AND status = ? AND currency = ? AND created_at >= ?",
			cardID, StatusApproved, string(currency), since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return money.Money{}, fmt.Errorf("sum approved authorizations: %w", err)
	}
	if !total.Valid {
		return money.Zero(currency), nil
	}
	return money.New(total.Decimal, currency)
}

// CountSince counts authorizations of any status for the card since the
// cutoff.
func (s *Store) CountSince(ctx context.Context, cardID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Authorization{}).
		Where("card_id = ? AND created_at >= ?", cardID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count authorizations: %w", err)
	}
	return count, nil
}
