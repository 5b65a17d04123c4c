package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"cardcore/bank"
	"cardcore/cards"
	"cardcore/idempotency"
	"cardcore/ledger"
	"cardcore/observability"
	"cardcore/observability/logging"
	"cardcore/rules"
)

// Service is the authorization pipeline: idempotency gate, card validation,
// policy rules, CBS hold, durable decision. Every decision is persisted with
// its reason before returning so processor retries stay consistent.
type Service struct {
	db      *gorm.DB
	store   *Store
	adapter bank.AccountAdapter
	engine  *rules.Engine
	ledger  *ledger.Service
	log     *slog.Logger
	now     func() time.Time
}

// NewService wires the pipeline. now is overridable for tests.
func NewService(db *gorm.DB, store *Store, adapter bank.AccountAdapter, engine *rules.Engine, ledgerSvc *ledger.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:      db,
		store:   store,
		adapter: adapter,
		engine:  engine,
		ledger:  ledgerSvc,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authorize runs the full pipeline. Policy declines and CBS refusals return a
// DECLINED response, not an error; errors are reserved for malformed input
// and local storage faults.
func (s *Service) Authorize(ctx context.Context, req Request) (Response, error) {
	if err := idempotency.Validate(req.IdempotencyKey); err != nil {
		return Response{}, err
	}
	if !req.Amount.IsPositive() {
		return Response{}, fmt.Errorf("authorization amount must be positive, got %s", req.Amount)
	}

	var (
		resp           Response
		holdPlaced     bool
		heldAccountRef string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Decision cache: duplicate processor webhooks always observe the
		// original decision, with no further work.
		cached, err := FindByIdempotencyKey(tx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if cached != nil {
			s.log.Info("duplicate authorization request",
				"authorizationId", cached.AuthorizationID,
				"idempotencyKey", req.IdempotencyKey)
			resp = responseFrom(cached)
			return nil
		}

		var card cards.Card
		if err := tx.First(&card, "card_id = ?", req.CardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp, err = s.persistDecline(tx, req, "UNKNOWN", "Card not found")
				return err
			}
			return fmt.Errorf("load card %s: %w", req.CardID, err)
		}
		if !card.Active() {
			resp, err = s.persistDecline(tx, req, "UNKNOWN", fmt.Sprintf("Card is not active: %s", card.State))
			return err
		}
		if card.Expired(s.now()) {
			resp, err = s.persistDecline(tx, req, "UNKNOWN", "Card is expired")
			return err
		}

		mapping, err := bank.FindMappingByCardID(tx, card.CardID)
		if err != nil {
			if errors.Is(err, bank.ErrMappingNotFound) {
				resp, err = s.persistDecline(tx, req, "UNKNOWN", "No bank account linked to card")
				return err
			}
			return err
		}

		// Policy runs before any CBS round-trip: a decline here consumes no
		// external resources.
		result := s.engine.Evaluate(ctx, rules.Request{
			CardID:               req.CardID,
			Amount:               req.Amount,
			MerchantName:         req.MerchantName,
			MerchantCategoryCode: req.MerchantCategoryCode,
			Now:                  s.now(),
		})
		if !result.Approved {
			resp, err = s.persistDecline(tx, req, mapping.BankAccountRef, result.Reason)
			return err
		}

		holdStart := time.Now()
		holdErr := s.adapter.PlaceHold(ctx, mapping.BankAccountRef, req.Amount, req.AuthorizationID)
		observability.ObserveBankCall("placeHold", time.Since(holdStart), holdErr)
		if holdErr != nil {
			var insufficient *bank.InsufficientFundsError
			if errors.As(holdErr, &insufficient) {
				resp, err = s.persistDecline(tx, req, mapping.BankAccountRef, "Insufficient funds")
				return err
			}
			s.log.Error("bank core rejected hold",
				"authorizationId", req.AuthorizationID,
				"accountRef", logging.MaskAccountRef(mapping.BankAccountRef),
				"err", holdErr)
			resp, err = s.persistDecline(tx, req, mapping.BankAccountRef, fmt.Sprintf("Bank declined: %s", holdErr))
			return err
		}
		holdPlaced = true
		heldAccountRef = mapping.BankAccountRef

		auth := s.newRecord(req, mapping.BankAccountRef)
		auth.Status = StatusApproved
		if err := tx.Create(&auth).Error; err != nil {
			return fmt.Errorf("persist authorization: %w", err)
		}
		if _, err := s.ledger.RecordAuthHold(tx, mapping.BankAccountRef, req.CardID, req.Amount, req.AuthorizationID, req.IdempotencyKey); err != nil {
			return err
		}

		resp = Approved(req.AuthorizationID)
		return nil
	})

	if err != nil {
		// Any rolled-back attempt that placed a hold must release it. The
		// loser of a same-key race placed its hold under an authorization id
		// that never persisted, so nothing downstream can find it.
		if holdPlaced {
			s.compensateHold(ctx, req, heldAccountRef)
		}
		// A concurrent request with the same key won the insert; the cache
		// now holds the decision.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if cached, lookupErr := FindByIdempotencyKey(s.db.WithContext(ctx), req.IdempotencyKey); lookupErr == nil && cached != nil {
				return responseFrom(cached), nil
			}
		}
		return Response{}, err
	}

	observability.RecordAuthorization(string(resp.Status))
	s.log.Info("authorization decided",
		"authorizationId", resp.AuthorizationID,
		"cardId", req.CardID,
		"status", string(resp.Status),
		"amount", req.Amount.String())
	return resp, nil
}

// Get loads an authorization by id.
func (s *Service) Get(ctx context.Context, authorizationID string) (Authorization, error) {
	return s.store.FindByID(ctx, authorizationID)
}

func (s *Service) newRecord(req Request, accountRef string) Authorization {
	now := s.now()
	return Authorization{
		AuthorizationID:      req.AuthorizationID,
		CardID:               req.CardID,
		AccountRef:           accountRef,
		Amount:               req.Amount.Amount(),
		Currency:             string(req.Amount.Currency()),
		MerchantName:         req.MerchantName,
		MerchantCategoryCode: req.MerchantCategoryCode,
		MerchantCity:         req.MerchantCity,
		MerchantCountry:      req.MerchantCountry,
		IdempotencyKey:       req.IdempotencyKey,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (s *Service) persistDecline(tx *gorm.DB, req Request, accountRef, reason string) (Response, error) {
	auth := s.newRecord(req, accountRef)
	auth.Decline(reason)
	if err := tx.Create(&auth).Error; err != nil {
		return Response{}, fmt.Errorf("persist declined authorization: %w", err)
	}
	return Declined(req.AuthorizationID, reason), nil
}

// compensateHold releases a hold whose local record failed to commit. This is
// the one place the design must not leak a hold; a failed compensation is
// logged with the hold reference for reconciliation.
func (s *Service) compensateHold(ctx context.Context, req Request, accountRef string) {
	if err := s.adapter.ReleaseHold(ctx, accountRef, req.Amount, req.AuthorizationID); err != nil {
		s.log.Error("hold compensation failed; manual reconciliation required",
			"authorizationId", req.AuthorizationID,
			"idempotencyKey", req.IdempotencyKey,
			"err", err)
		return
	}
	s.log.Warn("hold released after local transaction rollback",
		"authorizationId", req.AuthorizationID)
}

func responseFrom(auth *Authorization) Response {
	if auth.Status == StatusDeclined {
		return Declined(auth.AuthorizationID, auth.DeclineReason)
	}
	// Any post-APPROVED status proves the original decision was APPROVED.
	return Approved(auth.AuthorizationID)
}
