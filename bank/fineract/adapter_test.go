package fineract

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cardcore/bank"
	"cardcore/money"
)

type fakeCore struct {
	balance     money.Money
	postErr     error
	journals    int
	reversed    []string
	withdrawals []money.Money
}

func (f *fakeCore) AccountBalance(ctx context.Context, accountRef string) (money.Money, error) {
	return f.balance, nil
}

func (f *fakeCore) PostJournalEntry(ctx context.Context, amount money.Money, debitGL, creditGL int64, reference, comment string) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.journals++
	return fmt.Sprintf("journal-%d", f.journals), nil
}

func (f *fakeCore) ReverseJournalEntry(ctx context.Context, journalEntryID, comment string) (string, error) {
	f.reversed = append(f.reversed, journalEntryID)
	return "reversal-" + journalEntryID, nil
}

func (f *fakeCore) Withdraw(ctx context.Context, accountRef string, amount money.Money, reference string) error {
	f.withdrawals = append(f.withdrawals, amount)
	return nil
}

func (f *fakeCore) Ping(ctx context.Context) error { return nil }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuthHold{}))
	return db
}

func usd(t *testing.T, raw string) money.Money {
	t.Helper()
	m, err := money.New(decimal.RequireFromString(raw), money.USD)
	require.NoError(t, err)
	return m
}

func TestPlaceHoldNetsAvailableBalance(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "1000.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "600.00"), uuid.NewString()))

	available, err := adapter.AvailableBalance(ctx, "sav-1")
	require.NoError(t, err)
	require.Equal(t, "400.00 USD", available.String())

	// The second hold exceeds what is left after the first.
	err = adapter.PlaceHold(ctx, "sav-1", usd(t, "500.00"), uuid.NewString())
	var insufficient *bank.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "400.00 USD", insufficient.Available.String())
	require.Equal(t, 1, core.journals)
}

func TestAvailabilitySeesUncommittedHolds(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "1000.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()

	// The availability check inside PlaceHold runs on the open transaction,
	// so a hold inserted there already counts against the balance.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		hold := AuthHold{
			ID:              uuid.New(),
			AuthorizationID: uuid.NewString(),
			AccountRef:      "sav-1",
			JournalEntryID:  "journal-seed",
			Amount:          decimal.RequireFromString("600.00"),
			Currency:        "USD",
			Status:          HoldActive,
		}
		if err := tx.Create(&hold).Error; err != nil {
			return err
		}
		available, err := adapter.availableBalance(ctx, tx, "sav-1")
		require.NoError(t, err)
		require.Equal(t, "400.00 USD", available.String())
		return nil
	}))
}

func TestPlaceHoldIdempotent(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "100.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()
	ref := uuid.NewString()

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "50.00"), ref))
	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "50.00"), ref))
	require.Equal(t, 1, core.journals)

	var count int64
	require.NoError(t, db.Model(&AuthHold{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCommitDebitPartial(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "100.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()
	ref := uuid.NewString()

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "100.00"), ref))
	require.NoError(t, adapter.CommitDebit(ctx, "sav-1", usd(t, "75.00"), ref))

	require.Len(t, core.reversed, 1)
	require.Equal(t, "journal-1", core.reversed[0])
	require.Len(t, core.withdrawals, 1)
	require.Equal(t, "75.00 USD", core.withdrawals[0].String())

	var hold AuthHold
	require.NoError(t, db.First(&hold, "authorization_id = ?", ref).Error)
	require.Equal(t, HoldCommitted, hold.Status)

	// Repeat commit is a no-op.
	require.NoError(t, adapter.CommitDebit(ctx, "sav-1", usd(t, "75.00"), ref))
	require.Len(t, core.withdrawals, 1)
}

func TestCommitDebitWithoutHold(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewAdapter(db, &fakeCore{balance: usd(t, "100.00")}, 10, 20, nil)

	err := adapter.CommitDebit(context.Background(), "sav-1", usd(t, "10.00"), uuid.NewString())
	var coreErr *bank.CoreError
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, "commitDebit", coreErr.Op)
}

func TestCommitDebitExceedingHold(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "200.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()
	ref := uuid.NewString()

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "50.00"), ref))

	err := adapter.CommitDebit(ctx, "sav-1", usd(t, "60.00"), ref)
	var coreErr *bank.CoreError
	require.ErrorAs(t, err, &coreErr)
	require.Empty(t, core.withdrawals)
}

func TestReleaseHold(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "100.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()
	ref := uuid.NewString()

	// Releasing an unknown reference is safe.
	require.NoError(t, adapter.ReleaseHold(ctx, "sav-1", usd(t, "40.00"), uuid.NewString()))

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "40.00"), ref))
	require.NoError(t, adapter.ReleaseHold(ctx, "sav-1", usd(t, "40.00"), ref))
	require.Len(t, core.reversed, 1)

	available, err := adapter.AvailableBalance(ctx, "sav-1")
	require.NoError(t, err)
	require.Equal(t, "100.00 USD", available.String())

	// Repeat release is a no-op.
	require.NoError(t, adapter.ReleaseHold(ctx, "sav-1", usd(t, "40.00"), ref))
	require.Len(t, core.reversed, 1)
}

func TestReleaseCommittedHoldFails(t *testing.T) {
	db := setupTestDB(t)
	core := &fakeCore{balance: usd(t, "100.00")}
	adapter := NewAdapter(db, core, 10, 20, nil)
	ctx := context.Background()
	ref := uuid.NewString()

	require.NoError(t, adapter.PlaceHold(ctx, "sav-1", usd(t, "40.00"), ref))
	require.NoError(t, adapter.CommitDebit(ctx, "sav-1", usd(t, "40.00"), ref))

	err := adapter.ReleaseHold(ctx, "sav-1", usd(t, "40.00"), ref)
	var coreErr *bank.CoreError
	require.ErrorAs(t, err, &coreErr)
}
