package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cardcore/bank"
	"cardcore/money"
)

func usd(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.Parse(s, money.USD)
	require.NoError(t, err)
	return m
}

func TestHoldReducesAvailableBalance(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "1000.00")))

	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "50.00"), "ref-1"))

	available, err := a.AvailableBalance(ctx, "ACC1")
	require.NoError(t, err)
	require.True(t, available.Equal(usd(t, "950.00")))

	total, ok := a.TotalBalance("ACC1")
	require.True(t, ok)
	require.True(t, total.Equal(usd(t, "1000.00")))
}

func TestPlaceHoldIdempotent(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "100.00")))

	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "60.00"), "ref-1"))
	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "60.00"), "ref-1"))

	available, err := a.AvailableBalance(ctx, "ACC1")
	require.NoError(t, err)
	require.True(t, available.Equal(usd(t, "40.00")))
}

func TestPlaceHoldInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "100.00")))

	err := a.PlaceHold(ctx, "ACC1", usd(t, "200.00"), "ref-1")
	var insufficient *bank.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(usd(t, "100.00")))
}

func TestCommitDebitPartial(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "1000.00")))
	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "100.00"), "ref-1"))

	require.NoError(t, a.CommitDebit(ctx, "ACC1", usd(t, "75.00"), "ref-1"))

	total, _ := a.TotalBalance("ACC1")
	require.True(t, total.Equal(usd(t, "925.00")))

	// Repeat commit is a no-op.
	require.NoError(t, a.CommitDebit(ctx, "ACC1", usd(t, "75.00"), "ref-1"))
	total, _ = a.TotalBalance("ACC1")
	require.True(t, total.Equal(usd(t, "925.00")))
}

func TestCommitDebitWithoutHold(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "1000.00")))

	err := a.CommitDebit(ctx, "ACC1", usd(t, "10.00"), "missing")
	var coreErr *bank.CoreError
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, "commitDebit", coreErr.Op)
}

func TestCommitDebitExceedingHold(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "1000.00")))
	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "50.00"), "ref-1"))

	err := a.CommitDebit(ctx, "ACC1", usd(t, "51.00"), "ref-1")
	var coreErr *bank.CoreError
	require.ErrorAs(t, err, &coreErr)
}

func TestReleaseRestoresAvailableBalance(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Deposit("ACC1", usd(t, "500.00")))
	require.NoError(t, a.PlaceHold(ctx, "ACC1", usd(t, "100.00"), "ref-1"))

	require.NoError(t, a.ReleaseHold(ctx, "ACC1", usd(t, "100.00"), "ref-1"))

	available, err := a.AvailableBalance(ctx, "ACC1")
	require.NoError(t, err)
	require.True(t, available.Equal(usd(t, "500.00")))

	// Releasing an unknown reference is safe.
	require.NoError(t, a.ReleaseHold(ctx, "ACC1", usd(t, "1.00"), "nope"))
}
