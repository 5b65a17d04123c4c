// Package authorization owns the durable authorization record and the
// pipeline that coordinates card validation, policy rules, and CBS holds.
package authorization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cardcore/money"
)

// Status is the lifecycle state of an authorization.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusCleared  Status = "CLEARED"
	StatusReleased Status = "RELEASED"
	StatusReversed Status = "REVERSED"
)

var (
	// ErrNotFound is returned when an authorization id resolves to nothing.
	ErrNotFound = errors.New("authorization not found")

	// ErrInvalidState is returned when a settlement operation is not
	// permitted for the record's current status.
	ErrInvalidState = errors.New("operation not permitted in current authorization state")
)

// Authorization is the durable per-authorization record. It only tracks
// status for correlation; the CBS owns the money.
type Authorization struct {
	AuthorizationID      string              `gorm:"primaryKey;size:64" json:"authorizationId"`
	CardID               string              `gorm:"size:64;index:idx_authorizations_card_created" json:"cardId"`
	AccountRef           string              `gorm:"size:128;index" json:"accountRef"`
	Amount               decimal.Decimal     `gorm:"type:numeric(19,2)" json:"amount"`
	Currency             string              `gorm:"size:8" json:"currency"`
	ClearedAmount        decimal.NullDecimal `gorm:"type:numeric(19,2)" json:"clearedAmount,omitempty"`
	Status               Status              `gorm:"size:16;index" json:"status"`
	MerchantName         string              `gorm:"size:255" json:"merchantName"`
	MerchantCategoryCode string              `gorm:"size:4" json:"merchantCategoryCode,omitempty"`
	MerchantCity         string              `gorm:"size:128" json:"merchantCity,omitempty"`
	MerchantCountry      string              `gorm:"size:2" json:"merchantCountry,omitempty"`
	DeclineReason        string              `gorm:"size:255" json:"declineReason,omitempty"`
	IdempotencyKey       string              `gorm:"uniqueIndex;size:64" json:"idempotencyKey"`
	CreatedAt            time.Time           `gorm:"index:idx_authorizations_card_created" json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func (Authorization) TableName() string { return "authorizations" }

// Money reconstructs the typed authorized amount.
func (a *Authorization) Money() (money.Money, error) {
	return money.New(a.Amount, money.Currency(a.Currency))
}

// ClearedMoney reconstructs the typed cleared amount, if present.
func (a *Authorization) ClearedMoney() (money.Money, bool, error) {
	if !a.ClearedAmount.Valid {
		return money.Money{}, false, nil
	}
	m, err := money.New(a.ClearedAmount.Decimal, money.Currency(a.Currency))
	return m, true, err
}

// Decline records the reason and moves to DECLINED.
func (a *Authorization) Decline(reason string) {
	a.Status = StatusDeclined
	a.DeclineReason = reason
	a.UpdatedAt = time.Now().UTC()
}

// Clear finalises the authorization with the cleared amount. Requires a prior
// APPROVED.
func (a *Authorization) Clear(cleared money.Money) error {
	if a.Status != StatusApproved {
		return fmt.Errorf("%w: cannot clear %s authorization %s", ErrInvalidState, a.Status, a.AuthorizationID)
	}
	a.Status = StatusCleared
	a.ClearedAmount = decimal.NullDecimal{Decimal: cleared.Amount(), Valid: true}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Release cancels an APPROVED authorization without a debit.
func (a *Authorization) Release() error {
	if a.Status != StatusApproved {
		return fmt.Errorf("%w: cannot release %s authorization %s", ErrInvalidState, a.Status, a.AuthorizationID)
	}
	a.Status = StatusReleased
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Reverse refunds a CLEARED authorization. Partial and full reversals both
// land on the terminal REVERSED status; the ledger keeps the amounts.
func (a *Authorization) Reverse() error {
	if a.Status != StatusCleared {
		return fmt.Errorf("%w: cannot reverse %s authorization %s", ErrInvalidState, a.Status, a.AuthorizationID)
	}
	a.Status = StatusReversed
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Request is an internal authorization request. The inbound processor adapter
// assigns AuthorizationID; the idempotency key comes from the caller.
type Request struct {
	AuthorizationID      string
	CardID               string
	Amount               money.Money
	MerchantName         string
	MerchantCategoryCode string
	MerchantCity         string
	MerchantCountry      string
	IdempotencyKey       string
}

// Response reports the decision. Duplicate requests always observe the
// original decision.
type Response struct {
	AuthorizationID string `json:"authorizationId"`
	Status          Status `json:"status"`
	DeclineReason   string `json:"declineReason,omitempty"`
}

// Approved builds an APPROVED response.
func Approved(authorizationID string) Response {
	return Response{AuthorizationID: authorizationID, Status: StatusApproved}
}

// Declined builds a DECLINED response with its reason.
func Declined(authorizationID, reason string) Response {
	return Response{AuthorizationID: authorizationID, Status: StatusDeclined, DeclineReason: reason}
}
