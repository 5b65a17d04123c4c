package fineract

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cardcore/money"
)

// HoldStatus is the lifecycle of one shadow hold.
type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldCommitted HoldStatus = "COMMITTED"
	HoldReleased  HoldStatus = "RELEASED"
)

// AuthHold is the local record of a shadow journal hold. The unique index on
// AuthorizationID is what makes PlaceHold idempotent under concurrent retries.
type AuthHold struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuthorizationID string          `gorm:"uniqueIndex;size:64"`
	AccountRef      string          `gorm:"size:128;index"`
	JournalEntryID  string          `gorm:"size:64"`
	Amount          decimal.Decimal `gorm:"type:numeric(19,2)"`
	Currency        string          `gorm:"size:8"`
	Status          HoldStatus      `gorm:"size:16;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AuthHold) TableName() string { return "fineract_auth_holds" }

// Money reconstructs the typed held amount.
func (h *AuthHold) Money() (money.Money, error) {
	return money.New(h.Amount, money.Currency(h.Currency))
}
