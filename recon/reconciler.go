// Package recon sweeps up holds the settlement pipeline could not release at
// the CBS. Release advances local state even when the bank call fails, so a
// hold can stay ACTIVE at the CBS with no live authorization behind it; this
// loop retries those until they clear.
package recon

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"cardcore/authorization"
	"cardcore/bank"
	"cardcore/bank/fineract"
)

// Reconciler retries orphaned hold releases.
type Reconciler struct {
	db      *gorm.DB
	adapter bank.AccountAdapter
	log     *slog.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(db *gorm.DB, adapter bank.AccountAdapter, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, adapter: adapter, log: log}
}

// Run releases every orphaned hold it can and returns the number released.
// Failures are logged and retried on the next run.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	orphans, err := r.orphanedHolds(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, hold := range orphans {
		amount, err := hold.Money()
		if err != nil {
			r.log.Error("orphaned hold has unusable amount",
				"authorizationId", hold.AuthorizationID, "err", err)
			continue
		}
		if err := r.adapter.ReleaseHold(ctx, hold.AccountRef, amount, hold.AuthorizationID); err != nil {
			r.log.Error("orphaned hold release failed",
				"authorizationId", hold.AuthorizationID,
				"accountRef", hold.AccountRef,
				"err", err)
			continue
		}
		released++
		r.log.Info("orphaned hold released",
			"authorizationId", hold.AuthorizationID,
			"accountRef", hold.AccountRef,
			"amount", amount.String())
	}
	if len(orphans) > 0 {
		r.log.Info("reconciliation pass finished", "orphans", len(orphans), "released", released)
	}
	return released, nil
}

// orphanedHolds returns holds still ACTIVE at the CBS whose authorization has
// already moved past the hold locally.
func (r *Reconciler) orphanedHolds(ctx context.Context) ([]fineract.AuthHold, error) {
	var holds []fineract.AuthHold
	err := r.db.WithContext(ctx).
		Joins("JOIN authorizations ON authorizations.authorization_id = fineract_auth_holds.authorization_id").
		Where("fineract_auth_holds.status = ?", fineract.HoldActive).
		Where("authorizations.status = ?", authorization.StatusReleased).
		Find(&holds).Error
	if err != nil {
		return nil, err
	}
	return holds, nil
}

// Start runs the reconciler on a fixed cadence until the context is
// cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.log.Error("reconciliation pass failed", "err", err)
			}
		}
	}
}
