package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cardcore/authorization"
	"cardcore/ledger"
	"cardcore/money"
)

type fakeAdapter struct {
	commitErr  error
	releaseErr error
	commits    []money.Money
	releases   []string
}

func (f *fakeAdapter) AvailableBalance(ctx context.Context, accountRef string) (money.Money, error) {
	return money.Zero(money.USD), nil
}

func (f *fakeAdapter) PlaceHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	return nil
}

func (f *fakeAdapter) CommitDebit(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, amount)
	return nil
}

func (f *fakeAdapter) ReleaseHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.releases = append(f.releases, referenceID)
	return nil
}

func (f *fakeAdapter) Name() string                     { return "fake" }
func (f *fakeAdapter) Healthy(ctx context.Context) bool { return true }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&authorization.Authorization{}, &ledger.Entry{}))
	return db
}

func usd(t *testing.T, raw string) money.Money {
	t.Helper()
	m, err := money.New(decimal.RequireFromString(raw), money.USD)
	require.NoError(t, err)
	return m
}

func seedApproved(t *testing.T, db *gorm.DB, amount string) authorization.Authorization {
	t.Helper()
	auth := authorization.Authorization{
		AuthorizationID: uuid.NewString(),
		CardID:          "card-1",
		AccountRef:      "sav-1",
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		Status:          authorization.StatusApproved,
		MerchantName:    "Coffee Corner",
		IdempotencyKey:  uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, db.Create(&auth).Error)
	return auth
}

func TestClearPartialAmount(t *testing.T) {
	db := setupTestDB(t)
	adapter := &fakeAdapter{}
	svc := NewService(db, adapter, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "100.00")

	cleared, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "75.00"), uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, authorization.StatusCleared, cleared.Status)
	require.True(t, cleared.ClearedAmount.Valid)
	require.True(t, cleared.ClearedAmount.Decimal.Equal(decimal.RequireFromString("75.00")))

	require.Len(t, adapter.commits, 1)
	require.Equal(t, "75.00 USD", adapter.commits[0].String())

	var entries []ledger.Entry
	require.NoError(t, db.Where("authorization_id = ?", auth.AuthorizationID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.TxnClearingCommit, entries[0].TransactionType)
}

func TestClearIdempotentOnKey(t *testing.T) {
	db := setupTestDB(t)
	adapter := &fakeAdapter{}
	svc := NewService(db, adapter, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "50.00")
	key := uuid.NewString()

	first, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "50.00"), key)
	require.NoError(t, err)
	second, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "50.00"), key)
	require.NoError(t, err)

	require.Equal(t, first.Status, second.Status)
	require.Len(t, adapter.commits, 1)

	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestClearExceedsAuthorized(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")

	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "40.01"), uuid.NewString())
	require.ErrorIs(t, err, ErrExceedsAuthorized)
}

func TestClearRequiresApproved(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")
	require.NoError(t, db.Model(&authorization.Authorization{}).
		Where("authorization_id = ?", auth.AuthorizationID).
		Update("status", authorization.StatusDeclined).Error)

	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "10.00"), uuid.NewString())
	require.ErrorIs(t, err, authorization.ErrInvalidState)
}

func TestClearAbortsWhenBankFails(t *testing.T) {
	db := setupTestDB(t)
	adapter := &fakeAdapter{commitErr: errors.New("core offline")}
	svc := NewService(db, adapter, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")

	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "40.00"), uuid.NewString())
	require.Error(t, err)

	var reloaded authorization.Authorization
	require.NoError(t, db.First(&reloaded, "authorization_id = ?", auth.AuthorizationID).Error)
	require.Equal(t, authorization.StatusApproved, reloaded.Status)

	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestReleaseAdvancesDespiteBankError(t *testing.T) {
	db := setupTestDB(t)
	adapter := &fakeAdapter{releaseErr: errors.New("core offline")}
	svc := NewService(db, adapter, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")

	released, err := svc.Release(context.Background(), auth.AuthorizationID, uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, authorization.StatusReleased, released.Status)

	var entries []ledger.Entry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.TxnAuthRelease, entries[0].TransactionType)
}

func TestReleaseAlreadyReleased(t *testing.T) {
	db := setupTestDB(t)
	adapter := &fakeAdapter{}
	svc := NewService(db, adapter, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")

	_, err := svc.Release(context.Background(), auth.AuthorizationID, uuid.NewString())
	require.NoError(t, err)

	// A second release under a fresh key observes the released record and
	// touches nothing.
	again, err := svc.Release(context.Background(), auth.AuthorizationID, uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, authorization.StatusReleased, again.Status)
	require.Len(t, adapter.releases, 1)
}

func TestReleaseRequiresApproved(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "40.00")
	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "40.00"), uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), auth.AuthorizationID, uuid.NewString())
	require.ErrorIs(t, err, authorization.ErrInvalidState)
}

func TestReversePartialAfterClear(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "100.00")

	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "100.00"), uuid.NewString())
	require.NoError(t, err)

	reversed, err := svc.Reverse(context.Background(), auth.AuthorizationID, usd(t, "30.00"), uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, authorization.StatusReversed, reversed.Status)

	var entries []ledger.Entry
	require.NoError(t, db.Where("transaction_type = ?", ledger.TxnReversal).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Amount.Equal(decimal.RequireFromString("30.00")))
}

func TestReverseExceedsCleared(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "100.00")

	_, err := svc.Clear(context.Background(), auth.AuthorizationID, usd(t, "60.00"), uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), auth.AuthorizationID, usd(t, "60.01"), uuid.NewString())
	require.ErrorIs(t, err, ErrExceedsCleared)
}

func TestReverseRequiresCleared(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)
	auth := seedApproved(t, db, "100.00")

	_, err := svc.Reverse(context.Background(), auth.AuthorizationID, usd(t, "10.00"), uuid.NewString())
	require.ErrorIs(t, err, authorization.ErrInvalidState)
}

func TestSettlementUnknownAuthorization(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeAdapter{}, ledger.NewService(db, nil), nil)

	_, err := svc.Clear(context.Background(), uuid.NewString(), usd(t, "10.00"), uuid.NewString())
	require.ErrorIs(t, err, authorization.ErrNotFound)
}
