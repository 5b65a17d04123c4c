// Package settlement drives the post-authorization lifecycle: clearing
// finalises the debit, release cancels the hold, reversal refunds a cleared
// transaction. Every operation is idempotent on its ledger key and serialises
// on the authorization row lock.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cardcore/authorization"
	"cardcore/bank"
	"cardcore/idempotency"
	"cardcore/ledger"
	"cardcore/money"
	"cardcore/observability"
)

var (
	// ErrExceedsAuthorized is returned when a clearing amount is greater than
	// the originally authorized amount.
	ErrExceedsAuthorized = errors.New("clearing amount exceeds authorized amount")

	// ErrExceedsCleared is returned when a reversal amount is greater than the
	// cleared amount.
	ErrExceedsCleared = errors.New("reversal amount exceeds cleared amount")
)

// Service owns the settlement pipeline.
type Service struct {
	db      *gorm.DB
	adapter bank.AccountAdapter
	ledger  *ledger.Service
	log     *slog.Logger
}

// NewService wires the settlement pipeline.
func NewService(db *gorm.DB, adapter bank.AccountAdapter, ledgerSvc *ledger.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, adapter: adapter, ledger: ledgerSvc, log: log}
}

// Clear finalises an APPROVED authorization for amount, which may be less
// than the authorized amount. The CBS debit must succeed before any local
// state moves; a CBS failure aborts the whole step so a retry sees APPROVED
// again.
func (s *Service) Clear(ctx context.Context, authorizationID string, amount money.Money, key string) (authorization.Authorization, error) {
	if err := idempotency.Validate(key); err != nil {
		return authorization.Authorization{}, err
	}
	if !amount.IsPositive() {
		return authorization.Authorization{}, fmt.Errorf("clearing amount must be positive, got %s", amount)
	}

	var result authorization.Authorization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := s.replayed(tx, authorizationID, key, &result)
		if err != nil || done {
			return err
		}

		auth, err := lockAuthorization(tx, authorizationID)
		if err != nil {
			return err
		}
		authorized, err := auth.Money()
		if err != nil {
			return err
		}
		exceeds, err := amount.GreaterThan(authorized)
		if err != nil {
			return fmt.Errorf("clear %s: %w", authorizationID, err)
		}
		if exceeds {
			return fmt.Errorf("clear %s for %s against %s: %w", authorizationID, amount, authorized, ErrExceedsAuthorized)
		}
		if err := auth.Clear(amount); err != nil {
			return err
		}

		start := time.Now()
		debitErr := s.adapter.CommitDebit(ctx, auth.AccountRef, amount, authorizationID)
		observability.ObserveBankCall("commitDebit", time.Since(start), debitErr)
		if debitErr != nil {
			return fmt.Errorf("commit debit for %s: %w", authorizationID, debitErr)
		}

		if err := tx.Save(auth).Error; err != nil {
			return fmt.Errorf("persist cleared authorization %s: %w", authorizationID, err)
		}
		if _, err := s.ledger.RecordClearing(tx, auth.AccountRef, auth.CardID, amount, authorizationID, key); err != nil {
			return err
		}
		result = *auth
		return nil
	})

	observability.RecordSettlement("clear", err)
	if err != nil {
		return authorization.Authorization{}, err
	}
	s.log.Info("authorization cleared",
		"authorizationId", authorizationID,
		"amount", amount.String(),
		"status", string(result.Status))
	return result, nil
}

// Release cancels an APPROVED authorization without a debit. The hold release
// at the CBS is best effort: a failure is logged and left to reconciliation,
// and the local state still advances so the card's spend capacity frees up.
func (s *Service) Release(ctx context.Context, authorizationID, key string) (authorization.Authorization, error) {
	if err := idempotency.Validate(key); err != nil {
		return authorization.Authorization{}, err
	}

	var result authorization.Authorization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := s.replayed(tx, authorizationID, key, &result)
		if err != nil || done {
			return err
		}

		auth, err := lockAuthorization(tx, authorizationID)
		if err != nil {
			return err
		}
		if auth.Status == authorization.StatusReleased {
			result = *auth
			return nil
		}
		held, err := auth.Money()
		if err != nil {
			return err
		}
		if err := auth.Release(); err != nil {
			return err
		}

		start := time.Now()
		releaseErr := s.adapter.ReleaseHold(ctx, auth.AccountRef, held, authorizationID)
		observability.ObserveBankCall("releaseHold", time.Since(start), releaseErr)
		if releaseErr != nil {
			s.log.Error("hold release failed at bank core; reconciliation will retry",
				"authorizationId", authorizationID,
				"accountRef", auth.AccountRef,
				"err", releaseErr)
		}

		if err := tx.Save(auth).Error; err != nil {
			return fmt.Errorf("persist released authorization %s: %w", authorizationID, err)
		}
		if _, err := s.ledger.RecordAuthRelease(tx, auth.AccountRef, auth.CardID, held, authorizationID, key); err != nil {
			return err
		}
		result = *auth
		return nil
	})

	observability.RecordSettlement("release", err)
	if err != nil {
		return authorization.Authorization{}, err
	}
	s.log.Info("authorization released", "authorizationId", authorizationID)
	return result, nil
}

// Reverse refunds a CLEARED authorization for amount, which may be a partial
// refund. Either way the record lands on the terminal REVERSED status; the
// ledger entry carries the refunded amount.
func (s *Service) Reverse(ctx context.Context, authorizationID string, amount money.Money, key string) (authorization.Authorization, error) {
	if err := idempotency.Validate(key); err != nil {
		return authorization.Authorization{}, err
	}
	if !amount.IsPositive() {
		return authorization.Authorization{}, fmt.Errorf("reversal amount must be positive, got %s", amount)
	}

	var result authorization.Authorization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := s.replayed(tx, authorizationID, key, &result)
		if err != nil || done {
			return err
		}

		auth, err := lockAuthorization(tx, authorizationID)
		if err != nil {
			return err
		}
		cleared, ok, err := auth.ClearedMoney()
		if err != nil {
			return err
		}
		if ok {
			exceeds, err := amount.GreaterThan(cleared)
			if err != nil {
				return fmt.Errorf("reverse %s: %w", authorizationID, err)
			}
			if exceeds {
				return fmt.Errorf("reverse %s for %s against cleared %s: %w", authorizationID, amount, cleared, ErrExceedsCleared)
			}
		}
		if err := auth.Reverse(); err != nil {
			return err
		}

		if err := tx.Save(auth).Error; err != nil {
			return fmt.Errorf("persist reversed authorization %s: %w", authorizationID, err)
		}
		if _, err := s.ledger.RecordReversal(tx, auth.AccountRef, auth.CardID, amount, authorizationID, key); err != nil {
			return err
		}
		result = *auth
		return nil
	})

	observability.RecordSettlement("reverse", err)
	if err != nil {
		return authorization.Authorization{}, err
	}
	s.log.Info("authorization reversed",
		"authorizationId", authorizationID,
		"amount", amount.String())
	return result, nil
}

// replayed consults the ledger decision cache. When key already produced an
// entry, the stored authorization is returned as-is and no work repeats.
func (s *Service) replayed(tx *gorm.DB, authorizationID, key string, result *authorization.Authorization) (bool, error) {
	entry, err := ledger.FindByIdempotencyKey(tx, key)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	s.log.Info("duplicate settlement request",
		"authorizationId", authorizationID,
		"idempotencyKey", key,
		"transactionType", string(entry.TransactionType))
	var auth authorization.Authorization
	if err := tx.First(&auth, "authorization_id = ?", authorizationID).Error; err != nil {
		return false, fmt.Errorf("load authorization %s: %w", authorizationID, err)
	}
	*result = auth
	return true, nil
}

func lockAuthorization(tx *gorm.DB, authorizationID string) (*authorization.Authorization, error) {
	var auth authorization.Authorization
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&auth, "authorization_id = ?", authorizationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authorization.ErrNotFound
		}
		return nil, fmt.Errorf("lock authorization %s: %w", authorizationID, err)
	}
	return &auth, nil
}
