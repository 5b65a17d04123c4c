package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cardcore/money"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	return db
}

func usd(t *testing.T, raw string) money.Money {
	t.Helper()
	m, err := money.Parse(raw, money.USD)
	require.NoError(t, err)
	return m
}

func TestRecordIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, nil)
	key := uuid.NewString()

	var firstID string
	err := db.Transaction(func(tx *gorm.DB) error {
		id, err := svc.RecordAuthHold(tx, "sav-1", "card-1", usd(t, "50.00"), "auth-1", key)
		firstID = id
		return err
	})
	require.NoError(t, err)

	var secondID string
	err = db.Transaction(func(tx *gorm.DB) error {
		id, err := svc.RecordAuthHold(tx, "sav-1", "card-1", usd(t, "50.00"), "auth-1", key)
		secondID = id
		return err
	})
	require.NoError(t, err)
	require.Equal(t, firstID, secondID)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRecordRejectsBadKey(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RecordClearing(tx, "sav-1", "card-1", usd(t, "50.00"), "auth-1", "nope")
		return err
	})
	require.Error(t, err)
}

func TestDepositAndWithdrawalEntries(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, nil)
	ctx := context.Background()

	_, err := svc.RecordDeposit(ctx, "sav-1", usd(t, "500.00"), "Payroll", uuid.NewString())
	require.NoError(t, err)
	_, err = svc.RecordWithdrawal(ctx, "sav-1", usd(t, "120.00"), "ATM", uuid.NewString())
	require.NoError(t, err)

	entries, err := svc.AccountLedger(ctx, "sav-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	types := map[TransactionType]EntryType{}
	for _, e := range entries {
		types[e.TransactionType] = e.EntryType
	}
	require.Equal(t, EntryCredit, types[TxnDeposit])
	require.Equal(t, EntryDebit, types[TxnWithdrawal])
}

func TestEntryMoneyRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, nil)

	var txnID string
	err := db.Transaction(func(tx *gorm.DB) error {
		id, err := svc.RecordReversal(tx, "sav-1", "card-1", usd(t, "30.00"), "auth-1", uuid.NewString())
		txnID = id
		return err
	})
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, db.First(&entry, "transaction_id = ?", txnID).Error)
	m, err := entry.Money()
	require.NoError(t, err)
	require.Equal(t, "30.00 USD", m.String())
}
