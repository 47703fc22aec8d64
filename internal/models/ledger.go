package models

import "time"

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryHeld     EntryStatus = "held"
	EntrySettled  EntryStatus = "settled"
	EntryRefunded EntryStatus = "refunded"
)

// LedgerEntry is one metered operation: a pre-authorized hold that ends
// either settled at actual cost or refunded in full.
type LedgerEntry struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	SegmentID   string      `json:"segment_id"`
	RequestID   string      `json:"request_id"`
	Model       string      `json:"model,omitempty"`
	Held        int64       `json:"held"`
	Settled     int64       `json:"settled"`
	Status      EntryStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
	// PendingUsage is set once the result was delivered. A held entry that
	// carries it is owed a settlement and must never be refunded.
	PendingUsage *Usage `json:"pending_usage,omitempty"`
}

// Delivered reports whether the entry's result reached the caller.
func (e LedgerEntry) Delivered() bool {
	return e.PendingUsage != nil
}

// Terminal reports whether the entry has been settled or refunded.
func (e LedgerEntry) Terminal() bool {
	return e.Status == EntrySettled || e.Status == EntryRefunded
}

// Account is a user's spendable balance in points. It can go negative when
// a settlement charges more than was held.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
