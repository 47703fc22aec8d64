package ledger

import (
	"context"
	"time"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// Store persists accounts and ledger entries. Implementations must make
// CreateHold and FinalizeEntry atomic: a hold either debits the balance and
// records the entry or does neither, and finalization is a compare-and-set
// on the held status.
type Store interface {
	// CreateHold debits entry.Held from the user's balance and records the
	// entry. Returns ErrInsufficientBalance if the balance is lower than the hold.
	CreateHold(ctx context.Context, entry models.LedgerEntry) error

	// FinalizeEntry moves a held entry to status, records the settled amount
	// and adds balanceDelta to the user's balance. Returns the updated entry
	// and the balance after the adjustment, or ErrAlreadyFinalized.
	FinalizeEntry(ctx context.Context, id string, status models.EntryStatus, settled, balanceDelta int64, at time.Time) (models.LedgerEntry, int64, error)

	// MarkDelivered records the usage of a delivered result on a held entry,
	// before settlement. Returns ErrAlreadyFinalized if it is not held.
	MarkDelivered(ctx context.Context, id string, usage models.Usage) error

	// Balance returns the user's balance, zero for unknown users.
	Balance(ctx context.Context, userID string) (int64, error)

	// Credit adds amount to the user's balance and returns the new balance.
	Credit(ctx context.Context, userID string, amount int64) (int64, error)

	GetEntry(ctx context.Context, id string) (models.LedgerEntry, error)

	// ListEntries returns a user's entries, newest first. limit <= 0 means all.
	ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)

	// ListHeldBefore returns held entries created before cutoff.
	ListHeldBefore(ctx context.Context, cutoff time.Time) ([]models.LedgerEntry, error)
}
