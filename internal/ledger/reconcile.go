package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reconcile finalizes every entry still held after olderThan. Holds are
// normally finalized within one request, so a stale hold means the process
// died or the store failed mid-request. Entries whose result was delivered
// are settled with their recorded usage; the rest are refunded.
func (l *Ledger) Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileResult, error) {
	cutoff := l.now().UTC().Add(-olderThan)
	stale, err := l.store.ListHeldBefore(ctx, cutoff)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list stale holds: %w", err)
	}

	var res ReconcileResult
	var errs []error
	for _, entry := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if entry.Delivered() {
			if _, err := l.Settle(ctx, entry, *entry.PendingUsage); err != nil {
				if errors.Is(err, ErrAlreadyFinalized) {
					res.Skipped++
					continue
				}
				errs = append(errs, err)
				continue
			}
			res.Settled++
			continue
		}

		if _, err := l.Refund(ctx, entry); err != nil {
			switch {
			case errors.Is(err, ErrAlreadyFinalized):
				// Finalized by its request between listing and refunding.
				res.Skipped++
			case errors.Is(err, ErrDelivered):
				// Delivered since listing; the next sweep settles it.
				res.Skipped++
			default:
				errs = append(errs, err)
			}
			continue
		}
		res.Refunded++
		res.Points += entry.Held
	}

	if res.Refunded > 0 || res.Settled > 0 {
		l.logger.Info("reconciled stale holds",
			"refunded", res.Refunded, "points", res.Points, "settled", res.Settled, "cutoff", cutoff)
	}
	return res, errors.Join(errs...)
}

// RunReconciler calls Reconcile every interval until ctx is cancelled.
func (l *Ledger) RunReconciler(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reconcile(ctx, olderThan); err != nil && ctx.Err() == nil {
				l.logger.Error("reconcile stale holds", "error", err)
			}
		}
	}
}
