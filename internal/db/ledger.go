package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
)

var _ ledger.Store = (*Client)(nil)

type accountRow struct {
	ID      surrealmodels.RecordID `json:"id"`
	Balance int64                  `json:"balance"`
	Updated time.Time              `json:"updated"`
}

type ledgerEntryRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	UserID       string                 `json:"user_id"`
	SegmentID    string                 `json:"segment_id"`
	RequestID    string                 `json:"request_id"`
	Model        string                 `json:"model"`
	Held         int64                  `json:"held"`
	Settled      int64                  `json:"settled"`
	Status       string                 `json:"status"`
	Created      time.Time              `json:"created"`
	Finalized    *time.Time             `json:"finalized,omitempty"`
	PendingUsage *string                `json:"pending_usage,omitempty"` // JSON-encoded models.Usage
}

func (r ledgerEntryRow) toModel() (models.LedgerEntry, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	var pending *models.Usage
	if r.PendingUsage != nil {
		var u models.Usage
		if err := json.Unmarshal([]byte(*r.PendingUsage), &u); err != nil {
			return models.LedgerEntry{}, fmt.Errorf("decode pending usage of %s: %w", id, err)
		}
		pending = &u
	}
	return models.LedgerEntry{
		ID:           id,
		UserID:       r.UserID,
		SegmentID:    r.SegmentID,
		RequestID:    r.RequestID,
		Model:        r.Model,
		Held:         r.Held,
		Settled:      r.Settled,
		Status:       models.EntryStatus(r.Status),
		CreatedAt:    r.Created,
		FinalizedAt:  r.Finalized,
		PendingUsage: pending,
	}, nil
}

func toEntries(rs []ledgerEntryRow) ([]models.LedgerEntry, error) {
	out := make([]models.LedgerEntry, 0, len(rs))
	for _, r := range rs {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateHold debits the account and records the held entry in one
// transaction. The conditional UPDATE only matches when the balance covers
// the hold, so concurrent holds cannot overdraw.
func (c *Client) CreateHold(ctx context.Context, entry models.LedgerEntry) error {
	_, err := query[any](ctx, c, `
		BEGIN TRANSACTION;
		LET $acc = (UPDATE type::record("account", $user)
			SET balance -= $amount, updated = time::now()
			WHERE balance >= $amount RETURN AFTER);
		IF array::len($acc) = 0 { THROW "insufficient balance"; };
		CREATE type::record("ledger_entry", $id) CONTENT {
			user_id: $user,
			segment_id: $segment,
			request_id: $request,
			model: $model,
			held: $amount,
			settled: 0,
			status: "held",
			created: $created
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":      entry.ID,
		"user":    entry.UserID,
		"segment": entry.SegmentID,
		"request": entry.RequestID,
		"model":   entry.Model,
		"amount":  entry.Held,
		"created": entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

type finalizeResult struct {
	Entry   *ledgerEntryRow `json:"entry"`
	Balance int64           `json:"balance"`
}

// FinalizeEntry is a compare-and-set on status = "held" followed by the
// balance adjustment, in one transaction.
func (c *Client) FinalizeEntry(ctx context.Context, id string, status models.EntryStatus, settled, balanceDelta int64, at time.Time) (models.LedgerEntry, int64, error) {
	results, err := query[*finalizeResult](ctx, c, `
		BEGIN TRANSACTION;
		IF (SELECT VALUE id FROM ONLY type::record("ledger_entry", $id)) = NONE {
			THROW "record not found";
		};
		LET $e = (UPDATE type::record("ledger_entry", $id)
			SET status = $status, settled = $settled, finalized = $at
			WHERE status = "held" RETURN AFTER);
		IF array::len($e) = 0 { THROW "entry not held"; };
		LET $acc = (UPSERT type::record("account", $e[0].user_id)
			SET balance = (balance ?? 0) + $delta, updated = time::now() RETURN AFTER);
		RETURN { entry: $e[0], balance: $acc[0].balance };
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":      id,
		"status":  string(status),
		"settled": settled,
		"delta":   balanceDelta,
		"at":      at,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.LedgerEntry{}, 0, fmt.Errorf("finalize %s: %w", id, ledger.ErrEntryNotFound)
		}
		return models.LedgerEntry{}, 0, fmt.Errorf("finalize %s: %w", id, err)
	}

	// The RETURN statement is the last result of the transaction.
	if results == nil || len(*results) == 0 {
		return models.LedgerEntry{}, 0, fmt.Errorf("finalize %s: empty result", id)
	}
	res := (*results)[len(*results)-1].Result
	if res == nil || res.Entry == nil {
		return models.LedgerEntry{}, 0, fmt.Errorf("finalize %s: missing entry in result", id)
	}
	entry, err := res.Entry.toModel()
	if err != nil {
		return models.LedgerEntry{}, 0, fmt.Errorf("finalize %s: %w", id, err)
	}
	return entry, res.Balance, nil
}

// MarkDelivered stores the usage on a held entry. The existence check and
// the status guard mirror FinalizeEntry so the same sentinels come back.
func (c *Client) MarkDelivered(ctx context.Context, id string, usage models.Usage) error {
	raw, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	_, err = query[any](ctx, c, `
		BEGIN TRANSACTION;
		IF (SELECT VALUE id FROM ONLY type::record("ledger_entry", $id)) = NONE {
			THROW "record not found";
		};
		LET $e = (UPDATE type::record("ledger_entry", $id)
			SET pending_usage = $usage
			WHERE status = "held" RETURN AFTER);
		IF array::len($e) = 0 { THROW "entry not held"; };
		COMMIT TRANSACTION;
	`, map[string]any{"id": id, "usage": string(raw)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("mark delivered %s: %w", id, ledger.ErrEntryNotFound)
		}
		return fmt.Errorf("mark delivered %s: %w", id, err)
	}
	return nil
}

// Balance returns the user's balance. Unknown users have a zero balance.
func (c *Client) Balance(ctx context.Context, userID string) (int64, error) {
	results, err := query[[]accountRow](ctx, c, `
		SELECT * FROM type::record("account", $user)
	`, map[string]any{"user": userID})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	acc, _ := first(results)
	return acc.Balance, nil
}

func (c *Client) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	results, err := query[[]accountRow](ctx, c, `
		UPSERT type::record("account", $user)
			SET balance = (balance ?? 0) + $amount, updated = time::now()
			RETURN AFTER
	`, map[string]any{"user": userID, "amount": amount})
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	acc, ok := first(results)
	if !ok {
		return 0, fmt.Errorf("credit account %s: no row returned", userID)
	}
	return acc.Balance, nil
}

func (c *Client) GetEntry(ctx context.Context, id string) (models.LedgerEntry, error) {
	results, err := query[[]ledgerEntryRow](ctx, c, `
		SELECT * FROM type::record("ledger_entry", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("get entry: %w", err)
	}
	row, ok := first(results)
	if !ok {
		return models.LedgerEntry{}, ledger.ErrEntryNotFound
	}
	return row.toModel()
}

func (c *Client) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	limitClause := ""
	if limit > 0 {
		limitClause = fmt.Sprintf("LIMIT %d", limit)
	}
	results, err := query[[]ledgerEntryRow](ctx, c, fmt.Sprintf(`
		SELECT * FROM ledger_entry WHERE user_id = $user
		ORDER BY created DESC, id DESC %s
	`, limitClause), map[string]any{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return toEntries(rows(results))
}

func (c *Client) ListHeldBefore(ctx context.Context, cutoff time.Time) ([]models.LedgerEntry, error) {
	results, err := query[[]ledgerEntryRow](ctx, c, `
		SELECT * FROM ledger_entry WHERE status = "held" AND created < $cutoff
		ORDER BY created DESC
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("list held entries: %w", err)
	}
	return toEntries(rows(results))
}
