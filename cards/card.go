// Package cards owns the card lifecycle. Cards never hold money; they are
// payment instruments mapped to CBS accounts.
package cards

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a card.
type State string

const (
	StateActive State = "ACTIVE"
	StateFrozen State = "FROZEN"
	StateClosed State = "CLOSED"
)

var (
	// ErrNotFound is returned when a card id resolves to nothing.
	ErrNotFound = errors.New("card not found")

	// ErrInvalidTransition is returned for lifecycle operations the current
	// state does not permit. CLOSED is terminal.
	ErrInvalidTransition = errors.New("invalid card state transition")
)

// Card is a payment instrument. Only last4 is kept for display; the PAN is
// never stored here.
type Card struct {
	CardID         string    `gorm:"primaryKey;size:64" json:"cardId"`
	CardholderName string    `gorm:"size:255" json:"cardholderName"`
	Last4          string    `gorm:"size:4;index" json:"last4"`
	ExpirationDate time.Time `json:"expirationDate"`
	State          State     `gorm:"size:16;index" json:"state"`
	OwnerID        string    `gorm:"size:128;index" json:"ownerId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Card) TableName() string { return "cards" }

// NewCard builds a card in FROZEN state. Issued cards are activated
// explicitly once the account mapping is in place.
func NewCard(cardholderName, last4 string, expiration time.Time, ownerID string) (Card, error) {
	cardholderName = strings.TrimSpace(cardholderName)
	last4 = strings.TrimSpace(last4)
	if cardholderName == "" {
		return Card{}, fmt.Errorf("cardholder name required")
	}
	if len(last4) != 4 {
		return Card{}, fmt.Errorf("last4 must be exactly 4 digits, got %q", last4)
	}
	for _, r := range last4 {
		if r < '0' || r > '9' {
			return Card{}, fmt.Errorf("last4 must be exactly 4 digits, got %q", last4)
		}
	}
	now := time.Now().UTC()
	return Card{
		CardID:         uuid.NewString(),
		CardholderName: cardholderName,
		Last4:          last4,
		ExpirationDate: expiration.UTC(),
		State:          StateFrozen,
		OwnerID:        strings.TrimSpace(ownerID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Active reports whether the card can authorize.
func (c *Card) Active() bool { return c.State == StateActive }

// Expired reports whether the card is past its expiration date. The card is
// good through end of day UTC on the expiration date itself.
func (c *Card) Expired(now time.Time) bool {
	endOfDay := time.Date(
		c.ExpirationDate.Year(), c.ExpirationDate.Month(), c.ExpirationDate.Day(),
		23, 59, 59, int(time.Second-time.Nanosecond), time.UTC,
	)
	return now.UTC().After(endOfDay)
}

// Freeze suspends the card. Any state but CLOSED may freeze.
func (c *Card) Freeze() error {
	if c.State == StateClosed {
		return fmt.Errorf("%w: cannot freeze card %s in state %s", ErrInvalidTransition, c.CardID, c.State)
	}
	c.State = StateFrozen
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Unfreeze returns a FROZEN card to ACTIVE.
func (c *Card) Unfreeze() error {
	if c.State != StateFrozen {
		return fmt.Errorf("%w: cannot unfreeze card %s in state %s", ErrInvalidTransition, c.CardID, c.State)
	}
	c.State = StateActive
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Close terminates the card. CLOSED is terminal.
func (c *Card) Close() error {
	if c.State == StateClosed {
		return fmt.Errorf("%w: card %s already closed", ErrInvalidTransition, c.CardID)
	}
	c.State = StateClosed
	c.UpdatedAt = time.Now().UTC()
	return nil
}
