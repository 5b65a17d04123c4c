package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cardcore/authorization"
	"cardcore/cards"
	"cardcore/money"
	"cardcore/settlement"
)

// Adapter dispatches webhooks from one processor into the authorization and
// settlement pipelines. The internal authorization id is always minted here;
// the processor's transaction id never leaks past the mapping table.
type Adapter struct {
	db     *gorm.DB
	auth   *authorization.Service
	settle *settlement.Service
	name   string
	log    *slog.Logger
}

// NewAdapter wires the adapter for the named processor.
func NewAdapter(db *gorm.DB, auth *authorization.Service, settle *settlement.Service, name string, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{db: db, auth: auth, settle: settle, name: name, log: log}
}

// Name identifies the processor this adapter serves.
func (a *Adapter) Name() string { return a.name }

// HandleAuthorization translates an authorization webhook and runs the
// pipeline. Unresolvable card tokens flow through as unknown cards so the
// decline is persisted like any other. The network is waiting for a decision,
// so any fault on the path comes back as a synthetic DECLINED instead of an
// error; the fault itself is logged for follow-up.
func (a *Adapter) HandleAuthorization(ctx context.Context, hook AuthorizationWebhook) (authorization.Response, error) {
	resp, err := a.authorize(ctx, hook)
	if err != nil {
		a.log.Error("authorization webhook fault; answering with a decline",
			"processor", a.name,
			"processorTransactionId", hook.ProcessorTransactionID,
			"err", err)
		return authorization.Declined(uuid.NewString(), "System error during authorization"), nil
	}
	return resp, nil
}

func (a *Adapter) authorize(ctx context.Context, hook AuthorizationWebhook) (authorization.Response, error) {
	amount, err := parseAmount(hook.Amount, hook.Currency)
	if err != nil {
		return authorization.Response{}, err
	}

	cardID := a.resolveCardToken(ctx, hook.CardToken)
	authorizationID := uuid.NewString()
	resp, err := a.auth.Authorize(ctx, authorization.Request{
		AuthorizationID:      authorizationID,
		CardID:               cardID,
		Amount:               amount,
		MerchantName:         hook.MerchantName,
		MerchantCategoryCode: hook.MerchantCategoryCode,
		MerchantCity:         hook.MerchantCity,
		MerchantCountry:      hook.MerchantCountry,
		IdempotencyKey:       hook.IdempotencyKey,
	})
	if err != nil {
		return authorization.Response{}, err
	}

	if resp.Status == authorization.StatusApproved {
		if err := a.storeMapping(ctx, hook.ProcessorTransactionID, resp.AuthorizationID, hook.CardToken); err != nil {
			return authorization.Response{}, err
		}
	}
	return resp, nil
}

// HandleClearing resolves the processor transaction and clears it.
func (a *Adapter) HandleClearing(ctx context.Context, hook ClearingWebhook) (authorization.Authorization, error) {
	amount, err := parseAmount(hook.Amount, hook.Currency)
	if err != nil {
		return authorization.Authorization{}, err
	}
	authorizationID, err := a.resolveTransaction(ctx, hook.ProcessorTransactionID)
	if err != nil {
		return authorization.Authorization{}, err
	}
	return a.settle.Clear(ctx, authorizationID, amount, hook.IdempotencyKey)
}

// HandleReversal resolves the processor transaction and reverses it.
func (a *Adapter) HandleReversal(ctx context.Context, hook ReversalWebhook) (authorization.Authorization, error) {
	amount, err := parseAmount(hook.Amount, hook.Currency)
	if err != nil {
		return authorization.Authorization{}, err
	}
	authorizationID, err := a.resolveTransaction(ctx, hook.ProcessorTransactionID)
	if err != nil {
		return authorization.Authorization{}, err
	}
	return a.settle.Reverse(ctx, authorizationID, amount, hook.IdempotencyKey)
}

// resolveCardToken maps the processor's card token to an internal card id.
// When nothing matches, the raw token goes forward and the pipeline records
// the card-not-found decline.
func (a *Adapter) resolveCardToken(ctx context.Context, token string) string {
	var card cards.Card
	err := a.db.WithContext(ctx).
		Where("last4 = ?", token).
		Order("created_at DESC").
		First(&card).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			a.log.Error("card token lookup failed", "processor", a.name, "err", err)
		}
		return token
	}
	return card.CardID
}

func (a *Adapter) resolveTransaction(ctx context.Context, processorTransactionID string) (string, error) {
	var mapping TransactionMapping
	err := a.db.WithContext(ctx).
		First(&mapping, "processor_transaction_id = ?", processorTransactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownTransaction, processorTransactionID)
		}
		return "", fmt.Errorf("resolve processor transaction %s: %w", processorTransactionID, err)
	}
	return mapping.AuthorizationID, nil
}

func (a *Adapter) storeMapping(ctx context.Context, processorTransactionID, authorizationID, cardToken string) error {
	mapping := TransactionMapping{
		ID:                     uuid.New(),
		ProcessorTransactionID: processorTransactionID,
		AuthorizationID:        authorizationID,
		CardToken:              cardToken,
		Processor:              a.name,
	}
	if err := a.db.WithContext(ctx).Create(&mapping).Error; err != nil {
		// A retried webhook already stored the mapping.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("store processor transaction mapping: %w", err)
	}
	return nil
}

func parseAmount(raw decimal.Decimal, currency string) (money.Money, error) {
	parsed, err := money.ParseCurrency(currency)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(raw, parsed)
}
