package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cardcore/money"
)

type stubHistory struct {
	approvedSum money.Money
	sumErr      error
	count       int64
	countErr    error
}

func (s *stubHistory) SumApprovedSince(context.Context, string, money.Currency, time.Time) (money.Money, error) {
	return s.approvedSum, s.sumErr
}

func (s *stubHistory) CountSince(context.Context, string, time.Time) (int64, error) {
	return s.count, s.countErr
}

func usd(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.Parse(s, money.USD)
	require.NoError(t, err)
	return m
}

func request(t *testing.T, amount, mcc string) Request {
	t.Helper()
	return Request{
		CardID:               "card-1",
		Amount:               usd(t, amount),
		MerchantName:         "Coffee Shop",
		MerchantCategoryCode: mcc,
		Now:                  time.Now().UTC(),
	}
}

func TestTransactionLimitBoundary(t *testing.T) {
	rule := &TransactionLimit{Limit: decimal.RequireFromString("1000.00")}

	// Exactly at the limit approves.
	require.True(t, rule.Evaluate(context.Background(), request(t, "1000.00", "")).Approved)
	// Strictly greater declines.
	result := rule.Evaluate(context.Background(), request(t, "1000.01", ""))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "exceeds limit")
}

func TestDailySpendLimit(t *testing.T) {
	history := &stubHistory{approvedSum: usd(t, "4950.00")}
	rule := &DailySpendLimit{History: history, Limit: decimal.RequireFromString("5000.00")}

	// 4950 + 50 = 5000, at the limit: approve.
	require.True(t, rule.Evaluate(context.Background(), request(t, "50.00", "")).Approved)

	// 4950 + 50.01 exceeds: decline.
	result := rule.Evaluate(context.Background(), request(t, "50.01", ""))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "Daily spend limit exceeded")
}

func TestMCCBlocking(t *testing.T) {
	rule := NewMCCBlocking([]string{"7995", "6211"})

	result := rule.Evaluate(context.Background(), request(t, "10.00", "7995"))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "blocked")

	require.True(t, rule.Evaluate(context.Background(), request(t, "10.00", "5814")).Approved)
	require.True(t, rule.Evaluate(context.Background(), request(t, "10.00", "")).Approved)
}

func TestVelocityThreshold(t *testing.T) {
	history := &stubHistory{count: 5}
	rule := &Velocity{History: history, MaxPerMinute: 5}

	// At the threshold declines (>=, not >).
	result := rule.Evaluate(context.Background(), request(t, "10.00", ""))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "Velocity limit exceeded")

	// One below approves.
	history.count = 4
	require.True(t, rule.Evaluate(context.Background(), request(t, "10.00", "")).Approved)
}

func TestEngineFirstDeclineWins(t *testing.T) {
	blocked := NewMCCBlocking([]string{"7995"})
	limit := &TransactionLimit{Limit: decimal.RequireFromString("1.00")}
	engine := NewEngine(nil, blocked, limit)

	// MCC rule is registered first and declines; the limit rule never runs,
	// so its reason is not the one reported.
	result := engine.Evaluate(context.Background(), request(t, "500.00", "7995"))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "blocked")

	// Order matters: with limit first, its reason wins.
	engine = NewEngine(nil, limit, blocked)
	result = engine.Evaluate(context.Background(), request(t, "500.00", "7995"))
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "exceeds limit")
}

func TestEngineApprovesWhenAllPass(t *testing.T) {
	engine := NewEngine(nil,
		&TransactionLimit{Limit: decimal.RequireFromString("1000.00")},
		NewMCCBlocking([]string{"7995"}),
	)
	require.True(t, engine.Evaluate(context.Background(), request(t, "50.00", "5814")).Approved)
}

func TestTransactionLimitUnsupportedCurrencyDeclines(t *testing.T) {
	rule := &TransactionLimit{Limit: decimal.RequireFromString("1000.00")}
	req := request(t, "10.00", "")
	eur, err := money.Parse("10.00", money.EUR)
	require.NoError(t, err)
	req.Amount = eur

	// EUR is supported, so this approves; the decline path needs a currency
	// outside the closed set, which Parse refuses to build. Exercise the
	// mismatch through the daily rule instead.
	require.True(t, rule.Evaluate(context.Background(), req).Approved)

	history := &stubHistory{approvedSum: usd(t, "0.00")}
	daily := &DailySpendLimit{History: history, Limit: decimal.RequireFromString("5000.00")}
	result := daily.Evaluate(context.Background(), req)
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "currency not supported")
}
