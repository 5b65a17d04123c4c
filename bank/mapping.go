package bank

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrMappingNotFound is returned when no CBS account is linked to a card.
var ErrMappingNotFound = errors.New("no bank account linked to card")

// AccountMapping links a card to exactly one CBS client/account pair. Many
// cards may share one account; a card never remaps after creation.
type AccountMapping struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CardID         string    `gorm:"uniqueIndex;size:64" json:"cardId"`
	BankClientRef  string    `gorm:"size:128" json:"bankClientRef"`
	BankAccountRef string    `gorm:"size:128" json:"bankAccountRef"`
	CoreType       string    `gorm:"size:64" json:"coreType"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `gorm:"size:128" json:"createdBy"`
}

// TableName pins the table the correctness-critical unique index lives on.
func (AccountMapping) TableName() string { return "bank_account_mappings" }

// NewAccountMapping builds an immutable card-to-account link.
func NewAccountMapping(cardID, clientRef, accountRef, coreType, createdBy string) (AccountMapping, error) {
	cardID = strings.TrimSpace(cardID)
	accountRef = strings.TrimSpace(accountRef)
	if cardID == "" {
		return AccountMapping{}, fmt.Errorf("card id required")
	}
	if accountRef == "" {
		return AccountMapping{}, fmt.Errorf("bank account ref required")
	}
	return AccountMapping{
		ID:             uuid.New(),
		CardID:         cardID,
		BankClientRef:  strings.TrimSpace(clientRef),
		BankAccountRef: accountRef,
		CoreType:       strings.TrimSpace(coreType),
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      strings.TrimSpace(createdBy),
	}, nil
}

// FindMappingByCardID loads the mapping for a card inside the supplied
// transaction scope.
func FindMappingByCardID(tx *gorm.DB, cardID string) (AccountMapping, error) {
	var mapping AccountMapping
	if err := tx.First(&mapping, "card_id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccountMapping{}, ErrMappingNotFound
		}
		return AccountMapping{}, fmt.Errorf("load account mapping: %w", err)
	}
	return mapping, nil
}
