// Package processor adapts card-network webhooks from the processor into
// internal pipeline calls. The processor speaks in its own transaction ids and
// card tokens; this package owns the translation table between those and the
// internal identifiers.
package processor

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownTransaction is returned when a clearing or reversal webhook names
// a processor transaction that never produced an approved authorization.
var ErrUnknownTransaction = errors.New("unknown processor transaction")

// TransactionMapping links a processor transaction id to the internal
// authorization it produced, keeping the card token it arrived under. Rows
// exist only for APPROVED authorizations; declines have nothing to settle.
type TransactionMapping struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProcessorTransactionID string    `gorm:"uniqueIndex;size:128"`
	AuthorizationID        string    `gorm:"size:64;index"`
	CardToken              string    `gorm:"size:64;index"`
	Processor              string    `gorm:"size:32"`
	CreatedAt              time.Time
}

func (TransactionMapping) TableName() string { return "processor_transaction_mapping" }

// AuthorizationWebhook is the processor's authorization request. CardToken is
// the processor's card reference, resolved locally to a card.
type AuthorizationWebhook struct {
	ProcessorTransactionID string          `json:"processorTransactionId"`
	CardToken              string          `json:"cardToken"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	MerchantName           string          `json:"merchantName"`
	MerchantCategoryCode   string          `json:"merchantCategoryCode"`
	MerchantCity           string          `json:"merchantCity"`
	MerchantCountry        string          `json:"merchantCountry"`
	IdempotencyKey         string          `json:"idempotencyKey"`
}

// ClearingWebhook finalises a previously approved transaction, possibly for a
// smaller amount.
type ClearingWebhook struct {
	ProcessorTransactionID string          `json:"processorTransactionId"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	IdempotencyKey         string          `json:"idempotencyKey"`
}

// ReversalWebhook refunds a cleared transaction, fully or partially.
type ReversalWebhook struct {
	ProcessorTransactionID string          `json:"processorTransactionId"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	IdempotencyKey         string          `json:"idempotencyKey"`
}
