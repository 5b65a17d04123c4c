package fineract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cardcore/bank"
	"cardcore/money"
	"cardcore/observability/logging"
)

// CoreClient is the slice of the Fineract API the adapter needs. *Client
// implements it; tests substitute a fake.
type CoreClient interface {
	AccountBalance(ctx context.Context, accountRef string) (money.Money, error)
	PostJournalEntry(ctx context.Context, amount money.Money, debitGL, creditGL int64, reference, comment string) (string, error)
	ReverseJournalEntry(ctx context.Context, journalEntryID, comment string) (string, error)
	Withdraw(ctx context.Context, accountRef string, amount money.Money, reference string) error
	Ping(ctx context.Context) error
}

// Adapter implements bank.AccountAdapter against a Fineract-style CBS. The CBS
// has no hold primitive, so a hold is a journal entry moving funds from the
// savings control account to a holds liability account, paired with a local
// AuthHold row that carries the idempotency and lifecycle state.
type Adapter struct {
	db        *gorm.DB
	core      CoreClient
	savingsGL int64
	holdsGL   int64
	log       *slog.Logger
}

// NewAdapter wires the adapter. savingsGL and holdsGL are the two legs every
// shadow journal posts between.
func NewAdapter(db *gorm.DB, core CoreClient, savingsGL, holdsGL int64, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{db: db, core: core, savingsGL: savingsGL, holdsGL: holdsGL, log: log}
}

// Name identifies the adapter in logs and configuration.
func (a *Adapter) Name() string { return "fineract" }

// Healthy reports CBS reachability.
func (a *Adapter) Healthy(ctx context.Context) bool {
	return a.core.Ping(ctx) == nil
}

// AvailableBalance is the CBS balance net of ACTIVE shadow holds. The CBS
// cannot subtract holds it does not know about, so the adapter does.
func (a *Adapter) AvailableBalance(ctx context.Context, accountRef string) (money.Money, error) {
	return a.availableBalance(ctx, a.db.WithContext(ctx), accountRef)
}

// availableBalance computes availability through tx so that callers holding an
// open transaction see the same hold snapshot their writes will join.
func (a *Adapter) availableBalance(ctx context.Context, tx *gorm.DB, accountRef string) (money.Money, error) {
	balance, err := a.core.AccountBalance(ctx, accountRef)
	if err != nil {
		return money.Money{}, &bank.CoreError{AccountRef: accountRef, Op: "availableBalance", Err: err}
	}
	held, err := activeHoldTotal(tx, accountRef, balance.Currency())
	if err != nil {
		return money.Money{}, err
	}
	available, err := balance.Sub(held)
	if err != nil {
		return money.Money{}, &bank.CoreError{AccountRef: accountRef, Op: "availableBalance", Err: err}
	}
	return available, nil
}

// PlaceHold reserves amount via a shadow journal entry. Idempotent on
// referenceID: a hold that already exists for the reference is a success.
func (a *Adapter) PlaceHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findHold(tx, referenceID)
		if err != nil {
			return err
		}
		if existing != nil {
			a.log.Info("hold already placed", "referenceId", referenceID, "status", string(existing.Status))
			return nil
		}

		available, err := a.availableBalance(ctx, tx, accountRef)
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

		journalID, err := a.core.PostJournalEntry(ctx, amount, a.savingsGL, a.holdsGL,
			referenceID, fmt.Sprintf("Card authorization hold %s", referenceID))
		if err != nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "placeHold", Err: err}
		}

		hold := AuthHold{
			ID:              uuid.New(),
			AuthorizationID: referenceID,
			AccountRef:      accountRef,
			JournalEntryID:  journalID,
			Amount:          amount.Amount(),
			Currency:        string(amount.Currency()),
			Status:          HoldActive,
		}
		if err := tx.Create(&hold).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Concurrent retry won the insert; its journal entry stands and
				// ours must be unwound.
				if _, revErr := a.core.ReverseJournalEntry(ctx, journalID, "duplicate hold"); revErr != nil {
					a.log.Error("orphaned hold journal entry", "journalEntryId", journalID, "err", revErr)
				}
				return nil
			}
			return fmt.Errorf("persist hold %s: %w", referenceID, err)
		}

		a.log.Info("hold placed",
			"referenceId", referenceID,
			"accountRef", logging.MaskAccountRef(accountRef),
			"amount", amount.String(),
			"journalEntryId", journalID)
		return nil
	})
}

// CommitDebit finalises the debit for a held authorization: the shadow journal
// is reversed and a real withdrawal for the cleared amount is posted. amount
// may be less than the held amount. Repeat commits are no-ops.
func (a *Adapter) CommitDebit(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hold, err := lockHold(tx, referenceID)
		if err != nil {
			return err
		}
		if hold == nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit",
				Err: fmt.Errorf("no hold for reference %s", referenceID)}
		}
		switch hold.Status {
		case HoldCommitted:
			a.log.Info("debit already committed", "referenceId", referenceID)
			return nil
		case HoldReleased:
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit",
				Err: fmt.Errorf("hold %s already released", referenceID)}
		}

		held, err := hold.Money()
		if err != nil {
			return err
		}
		exceeds, err := amount.GreaterThan(held)
		if err != nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: err}
		}
		if exceeds {
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit",
				Err: fmt.Errorf("commit amount %s exceeds held %s", amount, held)}
		}

		if _, err := a.core.ReverseJournalEntry(ctx, hold.JournalEntryID,
			fmt.Sprintf("Release hold for clearing %s", referenceID)); err != nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: err}
		}
		if err := a.core.Withdraw(ctx, accountRef, amount, referenceID); err != nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "commitDebit", Err: err}
		}

		hold.Status = HoldCommitted
		if err := tx.Save(hold).Error; err != nil {
			return fmt.Errorf("mark hold %s committed: %w", referenceID, err)
		}

		a.log.Info("debit committed",
			"referenceId", referenceID,
			"accountRef", logging.MaskAccountRef(accountRef),
			"amount", amount.String())
		return nil
	})
}

// ReleaseHold reverses the shadow journal without debiting. Missing and
// already-released holds are no-ops so release retries stay safe.
func (a *Adapter) ReleaseHold(ctx context.Context, accountRef string, amount money.Money, referenceID string) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hold, err := lockHold(tx, referenceID)
		if err != nil {
			return err
		}
		if hold == nil || hold.Status == HoldReleased {
			a.log.Info("no active hold to release", "referenceId", referenceID)
			return nil
		}
		if hold.Status == HoldCommitted {
			return &bank.CoreError{AccountRef: accountRef, Op: "releaseHold",
				Err: fmt.Errorf("hold %s already committed", referenceID)}
		}

		if _, err := a.core.ReverseJournalEntry(ctx, hold.JournalEntryID,
			fmt.Sprintf("Release card authorization hold %s", referenceID)); err != nil {
			return &bank.CoreError{AccountRef: accountRef, Op: "releaseHold", Err: err}
		}

		hold.Status = HoldReleased
		if err := tx.Save(hold).Error; err != nil {
			return fmt.Errorf("mark hold %s released: %w", referenceID, err)
		}

		a.log.Info("hold released", "referenceId", referenceID, "accountRef", logging.MaskAccountRef(accountRef))
		return nil
	})
}

func activeHoldTotal(tx *gorm.DB, accountRef string, currency money.Currency) (money.Money, error) {
	var total decimal.NullDecimal
	err := tx.
		Model(&AuthHold{}).
		Where("account_ref = ? AND status = ? AND currency = ?", accountRef, HoldActive, string(currency)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return money.Money{}, fmt.Errorf("sum active holds for %s: %w", accountRef, err)
	}
	if !total.Valid {
		return money.Zero(currency), nil
	}
	return money.New(total.Decimal, currency)
}

func findHold(tx *gorm.DB, referenceID string) (*AuthHold, error) {
	var hold AuthHold
	if err := tx.First(&hold, "authorization_id = ?", referenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup hold %s: %w", referenceID, err)
	}
	return &hold, nil
}

func lockHold(tx *gorm.DB, referenceID string) (*AuthHold, error) {
	var hold AuthHold
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&hold, "authorization_id = ?", referenceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock hold %s: %w", referenceID, err)
	}
	return &hold, nil
}
