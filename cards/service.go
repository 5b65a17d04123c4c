package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cardcore/bank"
	"cardcore/observability/logging"
)

// Service manages issuance and lifecycle. Issuance verifies the backing CBS
// account by querying its balance through the adapter before linking.
type Service struct {
	db      *gorm.DB
	adapter bank.AccountAdapter
	log     *slog.Logger
}

// NewService wires the card service.
func NewService(db *gorm.DB, adapter bank.AccountAdapter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, adapter: adapter, log: log}
}

// IssueRequest carries everything needed to issue a card against an existing
// CBS account.
type IssueRequest struct {
	CardholderName string
	Last4          string
	ExpirationDate time.Time
	OwnerID        string
	BankClientRef  string
	BankAccountRef string
	CreatedBy      string
}

// Issue creates a FROZEN card and its immutable account mapping in one local
// transaction. The CBS account must exist; an unreachable or unknown account
// aborts issuance.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Card, error) {
	card, err := NewCard(req.CardholderName, req.Last4, req.ExpirationDate, req.OwnerID)
	if err != nil {
		return Card{}, err
	}

	if _, err := s.adapter.AvailableBalance(ctx, req.BankAccountRef); err != nil {
		return Card{}, fmt.Errorf("verify backing account %s: %w", req.BankAccountRef, err)
	}

	mapping, err := bank.NewAccountMapping(card.CardID, req.BankClientRef, req.BankAccountRef, s.adapter.Name(), req.CreatedBy)
	if err != nil {
		return Card{}, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&card).Error; err != nil {
			return fmt.Errorf("create card: %w", err)
		}
		if err := tx.Create(&mapping).Error; err != nil {
			return fmt.Errorf("create account mapping: %w", err)
		}
		return nil
	}); err != nil {
		return Card{}, err
	}

	s.log.Info("card issued",
		"cardId", card.CardID,
		"ownerId", card.OwnerID,
		"bankAccountRef", logging.MaskAccountRef(mapping.BankAccountRef),
		"adapter", s.adapter.Name())
	return card, nil
}

// Get loads a card by id.
func (s *Service) Get(ctx context.Context, cardID string) (Card, error) {
	var card Card
	if err := s.db.WithContext(ctx).First(&card, "card_id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Card{}, ErrNotFound
		}
		return Card{}, fmt.Errorf("load card %s: %w", cardID, err)
	}
	return card, nil
}

// ListByOwner returns all cards for an owner, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Card, error) {
	var result []Card
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&result).Error; err != nil {
		return nil, fmt.Errorf("list cards for owner %s: %w", ownerID, err)
	}
	return result, nil
}

// Freeze suspends the card.
func (s *Service) Freeze(ctx context.Context, cardID string) error {
	return s.transition(ctx, cardID, "freeze", (*Card).Freeze)
}

// Unfreeze reactivates a frozen card.
func (s *Service) Unfreeze(ctx context.Context, cardID string) error {
	return s.transition(ctx, cardID, "unfreeze", (*Card).Unfreeze)
}

// Activate moves a freshly issued (FROZEN) card to ACTIVE.
func (s *Service) Activate(ctx context.Context, cardID string) error {
	return s.transition(ctx, cardID, "activate", (*Card).Unfreeze)
}

// Close terminates the card permanently.
func (s *Service) Close(ctx context.Context, cardID string) error {
	return s.transition(ctx, cardID, "close", (*Card).Close)
}

// transition applies a lifecycle change under a row lock. Lifecycle changes do
// not coordinate with in-flight authorizations; the next authorization sees
// the new state.
func (s *Service) transition(ctx context.Context, cardID, action string, apply func(*Card) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card Card
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&card, "card_id = ?", cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock card %s: %w", cardID, err)
		}
		if err := apply(&card); err != nil {
			return err
		}
		if err := tx.Save(&card).Error; err != nil {
			return fmt.Errorf("save card %s: %w", cardID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("card state changed", "cardId", cardID, "action", action)
	return nil
}
