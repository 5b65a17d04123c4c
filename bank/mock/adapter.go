// Package mock provides an in-memory AccountAdapter for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"sync"

	"cardcore/bank"
	"cardcore/money"
)

type holdState int

const (
	holdActive holdState = iota
	holdCommitted
	holdReleased
)

type hold struct {
	accountRef string
	amount     money.Money
	state      holdState
}

// Adapter keeps balances and holds in memory. Safe for concurrent use.
type Adapter struct {
	mu       sync.Mutex
	balances map[string]money.Money
	holds    map[string]*hold
}

// New returns an empty mock adapter.
func New() *Adapter {
	return &Adapter{
		balances: make(map[string]money.Money),
		holds:    make(map[string]*hold),
	}
}

// Deposit credits the account, creating it if needed. Test/setup helper.
func (a *Adapter) Deposit(accountRef string, amount money.Money) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	current, ok := a.balances[accountRef]
	if !ok {
		a.balances[accountRef] = amount
		return nil
	}
	sum, err := current.Add(amount)
	if err != nil {
		return err
	}
	a.balances[accountRef] = sum
	return nil
}

// TotalBalance returns the posted balance ignoring holds. Test helper.
func (a *Adapter) TotalBalance(accountRef string) (money.Money, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.balances[accountRef]
	return m, ok
}

func (a *Adapter) available(accountRef string) (money.Money, error) {
	balance, ok := a.balances[accountRef]
	if !ok {
		return money.Money{}, &bank.CoreError{
			AccountRef: accountRef,
			Op:         "getAvailableBalance",
			Err:        fmt.Errorf("unknown account"),
		}
	}
	for _, h := range a.holds {
		if h.accountRef != accountRef || h.state != holdActive {
			continue
		}
		remaining, err := balance.Sub(h.amount)
		if err != nil {
			return money.Money{}, err
		}
		balance = remaining
	}
	return balance, nil
}

func (a *Adapter) AvailableBalance(_ context.Context, accountRef string) (money.Money, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available(accountRef)
}

func (a *Adapter) PlaceHold(_ context.Context, accountRef string, amount money.Money, referenceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.holds[referenceID]; exists {
		return nil
	}
	available, err := a.available(accountRef)
	if err != nil {
		return err
	}
	short, err := available.LessThan(amount)
	if err != nil {
		return &bank.CoreError{AccountRef: accountRef, Op: "placeHold", Err: err}
	}
	if short {
		return &bank.InsufficientFundsError{AccountRef: accountRef, Required: amount, Available: available}
	}
	a.holds[referenceID] = &hold{accountRef: accountRef, amount: amount, state: holdActive}
	return nil
}

func (a *Adapter) CommitDebit(_ context.Context, accountRef string, amount money.Money, referenceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.holds[referenceID]
	if !ok {
		return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: fmt.Errorf("no hold for reference %s", referenceID)}
	}
	if h.state == holdCommitted {
		return nil
	}
	if h.state != holdActive {
		return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: fmt.Errorf("hold for reference %s is not active", referenceID)}
	}
	over, err := amount.GreaterThan(h.amount)
	if err != nil {
		return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: err}
	}
	if over {
		return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: fmt.Errorf("commit amount %s exceeds held %s", amount, h.amount)}
	}
	balance := a.balances[h.accountRef]
	debited, err := balance.Sub(amount)
	if err != nil {
		return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: err}
	}
	a.balances[h.accountRef] = debited
	h.state = holdCommitted
	return nil
}

func (a *Adapter) ReleaseHold(_ context.Context, _ string, _ money.Money, referenceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.holds[referenceID]
	if !ok {
		return nil
	}
	if h.state == holdActive {
		h.state = holdReleased
	}
	return nil
}

func (a *Adapter) Name() string { return "mock" }

func (a *Adapter) Healthy(_ context.Context) bool { return true }
