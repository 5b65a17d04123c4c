package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cardcore/idempotency"
	"cardcore/money"
)

// Service appends audit entries. Every record operation is gated by the
// idempotency key: a repeat call returns the original transaction id without
// writing a second row.
type Service struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewService wires the ledger service.
func NewService(db *gorm.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log}
}

// FindByIdempotencyKey returns the entry recorded under key, if any. Used by
// the settlement pipeline as its decision cache.
func FindByIdempotencyKey(tx *gorm.DB, key string) (*Entry, error) {
	var entry Entry
	if err := tx.First(&entry, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup ledger entry: %w", err)
	}
	return &entry, nil
}

// Record appends one entry inside the supplied transaction scope. Callers
// thread the pipeline's unit of work through tx so the entry commits or rolls
// back with the rest of the step.
func (s *Service) Record(tx *gorm.DB, entryType EntryType, txnType TransactionType,
	accountRef, cardID, authorizationID string, amount money.Money, description, key string) (string, error) {

	if err := idempotency.Validate(key); err != nil {
		return "", err
	}
	if existing, err := FindByIdempotencyKey(tx, key); err != nil {
		return "", err
	} else if existing != nil {
		s.log.Info("duplicate ledger record suppressed", "idempotencyKey", key, "transactionType", string(txnType))
		return existing.TransactionID, nil
	}

	entry := Entry{
		TransactionID:   uuid.NewString(),
		AccountRef:      accountRef,
		EntryType:       entryType,
		Amount:          amount.Amount(),
		Currency:        string(amount.Currency()),
		TransactionType: txnType,
		AuthorizationID: authorizationID,
		CardID:          cardID,
		Description:     description,
		IdempotencyKey:  key,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return "", fmt.Errorf("append ledger entry: %w", err)
	}

	s.log.Info("ledger entry recorded",
		"transactionId", entry.TransactionID,
		"transactionType", string(txnType),
		"accountRef", accountRef,
		"amount", amount.String())
	return entry.TransactionID, nil
}

// RecordAuthHold notes a hold placement. No funds move.
func (s *Service) RecordAuthHold(tx *gorm.DB, accountRef, cardID string, amount money.Money, authorizationID, key string) (string, error) {
	return s.Record(tx, EntryDebit, TxnAuthHold, accountRef, cardID, authorizationID, amount, "Authorization hold", key)
}

// RecordAuthRelease notes a hold cancellation.
func (s *Service) RecordAuthRelease(tx *gorm.DB, accountRef, cardID string, amount money.Money, authorizationID, key string) (string, error) {
	return s.Record(tx, EntryCredit, TxnAuthRelease, accountRef, cardID, authorizationID, amount, "Authorization release", key)
}

// RecordClearing notes the finalised debit of a cleared authorization.
func (s *Service) RecordClearing(tx *gorm.DB, accountRef, cardID string, amount money.Money, authorizationID, key string) (string, error) {
	return s.Record(tx, EntryDebit, TxnClearingCommit, accountRef, cardID, authorizationID, amount, "Clearing settlement", key)
}

// RecordReversal notes funds returning after a cleared transaction reverses.
func (s *Service) RecordReversal(tx *gorm.DB, accountRef, cardID string, amount money.Money, authorizationID, key string) (string, error) {
	return s.Record(tx, EntryCredit, TxnReversal, accountRef, cardID, authorizationID, amount, "Transaction reversal", key)
}

// RecordDeposit notes a deposit observed on the account.
func (s *Service) RecordDeposit(ctx context.Context, accountRef string, amount money.Money, description, key string) (string, error) {
	var txnID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.Record(tx, EntryCredit, TxnDeposit, accountRef, "", "", amount, description, key)
		txnID = id
		return err
	})
	return txnID, err
}

// RecordWithdrawal notes a withdrawal observed on the account.
func (s *Service) RecordWithdrawal(ctx context.Context, accountRef string, amount money.Money, description, key string) (string, error) {
	var txnID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.Record(tx, EntryDebit, TxnWithdrawal, accountRef, "", "", amount, description, key)
		txnID = id
		return err
	})
	return txnID, err
}

// AccountLedger returns the audit trail for an account, newest first.
func (s *Service) AccountLedger(ctx context.Context, accountRef string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("account_ref = ?", accountRef).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query account ledger: %w", err)
	}
	return entries, nil
}
