// Package rules evaluates policy before any external resource is committed.
// Declines here cost nothing: no CBS round-trip has happened yet.
package rules

import (
	"context"
	"log/slog"
	"time"

	"cardcore/money"
)

// Request is the policy view of an authorization attempt.
type Request struct {
	CardID               string
	Amount               money.Money
	MerchantName         string
	MerchantCategoryCode string
	Now                  time.Time
}

// Result is the outcome of a rule or of the whole engine. A decline carries
// the reason surfaced to the processor.
type Result struct {
	Approved bool
	Reason   string
}

// Approve returns an approving result.
func Approve() Result { return Result{Approved: true} }

// Decline returns a declining result with the given reason.
func Decline(reason string) Result { return Result{Approved: false, Reason: reason} }

// Rule is a single independent policy check. Rules are stateless apart from
// queries against the history they were constructed with.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, req Request) Result
}

// History exposes the authorization-store queries rules may consult.
type History interface {
	// SumApprovedSince totals APPROVED authorization amounts for the card in
	// the given currency created at or after since.
	SumApprovedSince(ctx context.Context, cardID string, currency money.Currency, since time.Time) (money.Money, error)

	// CountSince counts authorizations of any status for the card created at
	// or after since.
	CountSince(ctx context.Context, cardID string, since time.Time) (int64, error)
}

// Engine runs rules in registration order; the first decline wins and
// short-circuits the rest.
type Engine struct {
	rules []Rule
	log   *slog.Logger
}

// NewEngine composes an ordered rule pipeline. Adding a rule is implementing
// Rule and registering it here; the pipeline never changes.
func NewEngine(log *slog.Logger, rules ...Rule) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{rules: rules, log: log}
}

// Evaluate runs every rule until one declines.
func (e *Engine) Evaluate(ctx context.Context, req Request) Result {
	for _, rule := range e.rules {
		result := rule.Evaluate(ctx, req)
		if !result.Approved {
			e.log.Info("rule declined authorization",
				"rule", rule.Name(),
				"cardId", req.CardID,
				"reason", result.Reason)
			return result
		}
	}
	return Approve()
}
