package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
)

func surrealLedger(c *Client) *ledger.Ledger {
	p := config.DefaultPricing()
	p.Models = map[string]config.ModelPrice{
		"m": {BaseCost: 3, InputCostPer1K: 23},
	}
	return ledger.New(c, p)
}

func TestLedgerSettleAndOverdraw(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()
	l := surrealLedger(c)

	bal, err := l.Credit(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	entry, err := l.Preauthorize(ctx, "alice", "seg-1", "m")
	require.NoError(t, err)
	assert.Equal(t, int64(4), entry.Held)

	bal, err = c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)

	res, err := l.Settle(ctx, entry, models.Usage{InputTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(23), res.Actual)
	assert.Equal(t, int64(-13), res.BalanceAfter)
	assert.Equal(t, int64(13), res.Owed)
	assert.Equal(t, models.EntrySettled, res.Entry.Status)
	assert.NotNil(t, res.Entry.FinalizedAt)

	_, err = l.Refund(ctx, entry)
	assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)

	_, err = l.Preauthorize(ctx, "alice", "seg-2", "m")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestLedgerFinalizeCompareAndSet(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()
	l := surrealLedger(c)

	_, err := l.Credit(ctx, "bob", 10)
	require.NoError(t, err)
	entry, err := l.Preauthorize(ctx, "bob", "seg-1", "m")
	require.NoError(t, err)

	refunded, err := l.Refund(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.EntryRefunded, refunded.Status)

	// Straight to the store, bypassing the ledger's pre-check.
	_, _, err = c.FinalizeEntry(ctx, entry.ID, models.EntrySettled, 4, 0, time.Now())
	assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)

	_, _, err = c.FinalizeEntry(ctx, "hold_missing", models.EntrySettled, 4, 0, time.Now())
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	bal, err := c.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
}

func TestLedgerSettlesDeliveredEntryFromStoredUsage(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()
	l := surrealLedger(c)

	_, err := l.Credit(ctx, "dave", 30)
	require.NoError(t, err)
	entry, err := l.Preauthorize(ctx, "dave", "seg-1", "m")
	require.NoError(t, err)

	require.NoError(t, c.MarkDelivered(ctx, entry.ID, models.Usage{InputTokens: 1000}))
	got, err := c.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, got.Delivered())
	assert.Equal(t, int64(1000), got.PendingUsage.InputTokens)

	_, err = l.Refund(ctx, entry)
	assert.ErrorIs(t, err, ledger.ErrDelivered)

	// The recorded usage wins over what the caller passes.
	res, err := l.Settle(ctx, entry, models.Usage{})
	require.NoError(t, err)
	assert.Equal(t, int64(23), res.Actual)
	assert.Equal(t, int64(7), res.BalanceAfter)

	err = c.MarkDelivered(ctx, entry.ID, models.Usage{})
	assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)
	err = c.MarkDelivered(ctx, "hold_missing", models.Usage{})
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestLedgerConcurrentHolds(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()
	l := surrealLedger(c)

	_, err := l.Credit(ctx, "carol", 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Preauthorize(ctx, "carol", "seg", "m"); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	bal, err := c.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bal, int64(0))
	assert.Equal(t, int64(20)-int64(granted.Load())*4, bal)
	assert.LessOrEqual(t, granted.Load(), int32(5))
}

func TestLedgerEntriesAndReconcile(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	p := config.DefaultPricing()
	l := ledger.New(c, p, ledger.WithClock(func() time.Time { return now }))

	_, err := l.Credit(ctx, "dave", 100)
	require.NoError(t, err)

	old, err := l.PreauthorizeAmount(ctx, "dave", "seg-1", "", 5)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	recent, err := l.PreauthorizeAmount(ctx, "dave", "seg-2", "", 7)
	require.NoError(t, err)

	entries, err := l.Entries(ctx, "dave", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, recent.ID, entries[0].ID)
	assert.Equal(t, old.ID, entries[1].ID)

	res, err := l.Reconcile(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refunded)
	assert.Equal(t, int64(5), res.Points)

	got, err := l.Entry(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryRefunded, got.Status)

	bal, err := l.Balance(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(93), bal)
}
