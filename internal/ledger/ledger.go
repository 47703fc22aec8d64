// Package ledger pre-authorizes, settles and refunds metered requests
// against per-user point balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/models"
)

const entryIDPrefix = "hold"

const (
	maxConflictRetries = 3
	conflictBackoff    = 20 * time.Millisecond
)

// Ledger applies the pricing table to a Store.
type Ledger struct {
	store   Store
	pricing config.Pricing
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithClock overrides time.Now, mostly for reconciliation tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a Ledger backed by store.
func New(store Store, pricing config.Pricing, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		pricing: pricing,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SettleResult describes a completed settlement.
type SettleResult struct {
	Entry        models.LedgerEntry `json:"entry"`
	Actual       int64              `json:"actual"`
	Delta        int64              `json:"delta"`
	BalanceAfter int64              `json:"balance_after"`
	// Owed is the debt left behind when a settlement overdraws the account.
	Owed int64 `json:"owed,omitempty"`
}

// ReconcileResult summarizes one reconciliation sweep. Points counts
// refunded points only.
type ReconcileResult struct {
	Refunded int   `json:"refunded"`
	Points   int64 `json:"points"`
	Settled  int   `json:"settled"`
	Skipped  int   `json:"skipped"`
}

// Pricing returns the table the ledger bills with.
func (l *Ledger) Pricing() config.Pricing {
	return l.pricing
}

// HoldAmount returns the hold a request against model reserves.
func (l *Ledger) HoldAmount(model string) int64 {
	return HoldAmount(l.pricing.For(model), l.pricing.PreChargeMultiplier)
}

// Preauthorize reserves the model's hold amount from the user's balance.
func (l *Ledger) Preauthorize(ctx context.Context, userID, segmentID, model string) (models.LedgerEntry, error) {
	return l.PreauthorizeAmount(ctx, userID, segmentID, model, l.HoldAmount(model))
}

// PreauthorizeAmount reserves an explicit amount.
func (l *Ledger) PreauthorizeAmount(ctx context.Context, userID, segmentID, model string, amount int64) (models.LedgerEntry, error) {
	if amount < 0 {
		return models.LedgerEntry{}, fmt.Errorf("%w: hold of %d", ErrInvalidAmount, amount)
	}
	if userID == "" {
		return models.LedgerEntry{}, fmt.Errorf("%w: missing user", ErrInvalidAmount)
	}

	tid, err := typeid.Generate(entryIDPrefix)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("generate entry id: %w", err)
	}

	entry := models.LedgerEntry{
		ID:        tid.String(),
		UserID:    userID,
		SegmentID: segmentID,
		RequestID: uuid.NewString(),
		Model:     model,
		Held:      amount,
		Status:    models.EntryHeld,
		CreatedAt: l.now().UTC(),
	}

	start := time.Now()
	err = l.retry(ctx, func() error {
		return l.store.CreateHold(ctx, entry)
	})
	l.metrics.RecordTiming(metrics.OpLedger, time.Since(start))
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			l.metrics.RecordOutcome(metrics.OpLedger, "declined")
			l.logger.Info("preauthorization declined", "user", userID, "segment", segmentID, "hold", amount)
			return models.LedgerEntry{}, err
		}
		return models.LedgerEntry{}, fmt.Errorf("create hold: %w", err)
	}

	l.metrics.RecordOutcome(metrics.OpLedger, "held")
	l.logger.Debug("hold created", "entry", entry.ID, "user", userID, "segment", segmentID, "hold", amount)
	return entry, nil
}

// Cost returns what a request against model with usage is charged.
func (l *Ledger) Cost(model string, usage models.Usage) int64 {
	return ActualCost(usage, l.pricing.For(model), l.pricing)
}

// Settle charges the entry at its actual cost and reconciles the difference
// against the hold. The balance may go negative. The usage is recorded on the
// entry first, so if finalization fails the reconciler settles it later
// instead of refunding.
func (l *Ledger) Settle(ctx context.Context, entry models.LedgerEntry, usage models.Usage) (SettleResult, error) {
	current, err := l.store.GetEntry(ctx, entry.ID)
	if err != nil {
		return SettleResult{}, fmt.Errorf("load entry %s: %w", entry.ID, err)
	}
	if current.Status != models.EntryHeld {
		return SettleResult{}, fmt.Errorf("settle %s (%s): %w", entry.ID, current.Status, ErrAlreadyFinalized)
	}
	if current.Delivered() {
		usage = *current.PendingUsage
	} else {
		err = l.retry(ctx, func() error {
			return l.store.MarkDelivered(ctx, current.ID, usage)
		})
		if err != nil {
			return SettleResult{}, fmt.Errorf("mark %s delivered: %w", current.ID, err)
		}
	}

	actual := ActualCost(usage, l.pricing.For(current.Model), l.pricing)
	delta := actual - current.Held

	var (
		updated models.LedgerEntry
		balance int64
	)
	start := time.Now()
	err = l.retry(ctx, func() error {
		var ferr error
		updated, balance, ferr = l.store.FinalizeEntry(ctx, current.ID, models.EntrySettled, actual, -delta, l.now().UTC())
		return ferr
	})
	l.metrics.RecordTiming(metrics.OpLedger, time.Since(start))
	if err != nil {
		return SettleResult{}, fmt.Errorf("settle %s: %w", current.ID, err)
	}

	res := SettleResult{Entry: updated, Actual: actual, Delta: delta, BalanceAfter: balance}
	if balance < 0 {
		res.Owed = -balance
		l.logger.Warn("settlement overdrew account",
			"entry", current.ID, "user", current.UserID, "actual", actual, "held", current.Held, "owed", res.Owed)
	}

	l.metrics.RecordOutcome(metrics.OpLedger, "settled")
	l.logger.Debug("entry settled", "entry", current.ID, "held", current.Held, "actual", actual, "delta", delta, "balance", balance)
	return res, nil
}

// Refund returns the full hold to the user.
func (l *Ledger) Refund(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	current, err := l.store.GetEntry(ctx, entry.ID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("load entry %s: %w", entry.ID, err)
	}
	if current.Status != models.EntryHeld {
		return current, fmt.Errorf("refund %s (%s): %w", entry.ID, current.Status, ErrAlreadyFinalized)
	}
	if current.Delivered() {
		return current, fmt.Errorf("refund %s: %w", entry.ID, ErrDelivered)
	}

	var updated models.LedgerEntry
	start := time.Now()
	err = l.retry(ctx, func() error {
		var ferr error
		updated, _, ferr = l.store.FinalizeEntry(ctx, current.ID, models.EntryRefunded, 0, current.Held, l.now().UTC())
		return ferr
	})
	l.metrics.RecordTiming(metrics.OpLedger, time.Since(start))
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("refund %s: %w", current.ID, err)
	}

	l.metrics.RecordOutcome(metrics.OpLedger, "refunded")
	l.logger.Debug("entry refunded", "entry", current.ID, "user", current.UserID, "held", current.Held)
	return updated, nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Credit tops up the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit of %d", ErrInvalidAmount, amount)
	}
	var balance int64
	err := l.retry(ctx, func() error {
		var cerr error
		balance, cerr = l.store.Credit(ctx, userID, amount)
		return cerr
	})
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", userID, err)
	}
	l.logger.Info("account credited", "user", userID, "amount", amount, "balance", balance)
	return balance, nil
}

func (l *Ledger) Entry(ctx context.Context, id string) (models.LedgerEntry, error) {
	return l.store.GetEntry(ctx, id)
}

func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return l.store.ListEntries(ctx, userID, limit)
}

// retry re-runs fn while the store reports a transaction conflict.
func (l *Ledger) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * conflictBackoff):
			}
			l.logger.Debug("retrying ledger transaction", "attempt", attempt, "error", err)
		}
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
