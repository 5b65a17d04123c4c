package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cardcore/money"
)

// TransactionLimit declines single transactions above a per-transaction cap.
// The cap is compared in the presented currency; an unsupported currency
// declines rather than erroring.
type TransactionLimit struct {
	Limit decimal.Decimal
}

func (r *TransactionLimit) Name() string { return "TransactionLimit" }

func (r *TransactionLimit) Evaluate(_ context.Context, req Request) Result {
	limit, err := money.New(r.Limit, req.Amount.Currency())
	if err != nil {
		return Decline(fmt.Sprintf("currency not supported: %s", req.Amount.Currency()))
	}
	over, err := req.Amount.GreaterThan(limit)
	if err != nil {
		return Decline(fmt.Sprintf("currency not supported: %s", req.Amount.Currency()))
	}
	if over {
		return Decline(fmt.Sprintf("Transaction amount %s exceeds limit %s",
			req.Amount.Amount(), r.Limit))
	}
	return Approve()
}

// DailySpendLimit caps the total APPROVED spend per card per UTC day.
type DailySpendLimit struct {
	History History
	Limit   decimal.Decimal
}

func (r *DailySpendLimit) Name() string { return "DailySpendLimit" }

func (r *DailySpendLimit) Evaluate(ctx context.Context, req Request) Result {
	now := req.Now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	spent, err := r.History.SumApprovedSince(ctx, req.CardID, req.Amount.Currency(), startOfDay)
	if err != nil {
		return Decline("unable to evaluate daily spend")
	}
	total, err := spent.Add(req.Amount)
	if err != nil {
		return Decline(fmt.Sprintf("currency not supported: %s", req.Amount.Currency()))
	}
	if total.Amount().GreaterThan(r.Limit) {
		return Decline(fmt.Sprintf("Daily spend limit exceeded. Spent today: %s, Limit: %s",
			spent.Amount(), r.Limit))
	}
	return Approve()
}

// MCCBlocking declines merchants whose category code is on the blocklist.
type MCCBlocking struct {
	Blocked map[string]struct{}
}

// NewMCCBlocking builds the rule from a list of 4-digit MCCs.
func NewMCCBlocking(mccs []string) *MCCBlocking {
	blocked := make(map[string]struct{}, len(mccs))
	for _, mcc := range mccs {
		blocked[mcc] = struct{}{}
	}
	return &MCCBlocking{Blocked: blocked}
}

func (r *MCCBlocking) Name() string { return "MCCBlocking" }

func (r *MCCBlocking) Evaluate(_ context.Context, req Request) Result {
	if req.MerchantCategoryCode == "" {
		return Approve()
	}
	if _, blocked := r.Blocked[req.MerchantCategoryCode]; blocked {
		return Decline(fmt.Sprintf("Merchant category %s is blocked", req.MerchantCategoryCode))
	}
	return Approve()
}

// Velocity declines when the card has already seen MaxPerMinute
// authorizations in the rolling 60 seconds before the request. At the
// threshold the request declines (>=, not >).
type Velocity struct {
	History      History
	MaxPerMinute int
}

func (r *Velocity) Name() string { return "Velocity" }

func (r *Velocity) Evaluate(ctx context.Context, req Request) Result {
	cutoff := req.Now.UTC().Add(-time.Minute)
	count, err := r.History.CountSince(ctx, req.CardID, cutoff)
	if err != nil {
		return Decline("unable to evaluate velocity")
	}
	if count >= int64(r.MaxPerMinute) {
		return Decline(fmt.Sprintf("Velocity limit exceeded: %d transactions in last minute (max: %d)",
			count, r.MaxPerMinute))
	}
	return Approve()
}
