// Package ledger keeps an append-only audit trail of coordination events.
// It is never a source of truth for balances; the CBS owns those.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"cardcore/money"
)

// EntryType marks the direction of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// TransactionType classifies the coordination event an entry records.
type TransactionType string

const (
	TxnAuthHold       TransactionType = "AUTH_HOLD"
	TxnAuthRelease    TransactionType = "AUTH_RELEASE"
	TxnClearingCommit TransactionType = "CLEARING_COMMIT"
	TxnReversal       TransactionType = "REVERSAL"
	TxnDeposit        TransactionType = "DEPOSIT"
	TxnWithdrawal     TransactionType = "WITHDRAWAL"
)

// Entry is immutable after insert. The unique idempotency key doubles as the
// settlement pipeline's decision cache.
type Entry struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionID   string          `gorm:"size:64;index" json:"transactionId"`
	AccountRef      string          `gorm:"size:128;index" json:"accountRef"`
	EntryType       EntryType       `gorm:"size:8" json:"entryType"`
	Amount          decimal.Decimal `gorm:"type:numeric(19,2)" json:"amount"`
	Currency        string          `gorm:"size:8" json:"currency"`
	TransactionType TransactionType `gorm:"size:24;index" json:"transactionType"`
	AuthorizationID string          `gorm:"size:64;index" json:"authorizationId,omitempty"`
	CardID          string          `gorm:"size:64;index" json:"cardId,omitempty"`
	Description     string          `gorm:"size:255" json:"description,omitempty"`
	IdempotencyKey  string          `gorm:"uniqueIndex;size:64" json:"idempotencyKey"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Money reconstructs the typed amount.
func (e Entry) Money() (money.Money, error) {
	return money.New(e.Amount, money.Currency(e.Currency))
}
