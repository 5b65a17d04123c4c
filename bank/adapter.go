// Package bank defines the vendor-neutral contract against the external core
// banking system (CBS). The CBS is the authoritative ledger; the card core
// never mirrors balances locally.
package bank

import (
	"context"
	"fmt"

	"cardcore/money"
)

// AccountAdapter is the contract every CBS integration implements. All calls
// are synchronous; implementations are expected to be safe for concurrent use
// and to enforce their own idempotency on referenceID.
type AccountAdapter interface {
	// AvailableBalance returns the real-time available balance, net of any
	// live holds.
	AvailableBalance(ctx context.Context, accountRef string) (money.Money, error)

	// PlaceHold reserves amount against the account. Idempotent on
	// referenceID: a repeat call with the same reference succeeds without
	// placing a second hold. Returns *InsufficientFundsError when available
	// funds do not cover the amount, *CoreError on CBS-side failures.
	PlaceHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error

	// CommitDebit finalises the debit tied to a previously placed hold.
	// amount may be less than the held amount (partial clearing); exceeding
	// it or committing without a hold is a *CoreError. Repeat calls after a
	// successful commit are no-ops.
	CommitDebit(ctx context.Context, accountRef string, amount money.Money, referenceID string) error

	// ReleaseHold cancels the hold without debiting. Safe and idempotent even
	// when no hold exists for the reference.
	ReleaseHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error

	// Name identifies the adapter for logging and configuration binding.
	Name() string

	// Healthy reports adapter connectivity. Observability only; never on the
	// authorization path.
	Healthy(ctx context.Context) bool
}

// InsufficientFundsError reports that the CBS could not cover a hold.
type InsufficientFundsError struct {
	AccountRef string
	Required   money.Money
	Available  money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: required %s, available %s",
		e.AccountRef, e.Required, e.Available)
}

// CoreError wraps any CBS-side failure, including transport errors and
// timeouts, with the account and operation it occurred on.
type CoreError struct {
	AccountRef string
	Op         string
	Err        error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("bank core %s failed for account %s: %v", e.Op, e.AccountRef, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }
