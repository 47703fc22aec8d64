package ledger

import "errors"

var (
	// ErrInsufficientBalance is returned when a hold would overdraw the account.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrAlreadyFinalized is returned when settling or refunding an entry that
	// is no longer held.
	ErrAlreadyFinalized = errors.New("ledger: entry already finalized")
	ErrEntryNotFound    = errors.New("ledger: entry not found")
	ErrInvalidAmount    = errors.New("ledger: invalid amount")
	// ErrDelivered is returned when refunding an entry whose result was
	// delivered. It can only be settled.
	ErrDelivered = errors.New("ledger: result delivered, entry awaits settlement")
	// ErrConflict marks a store transaction that lost a race and may be retried.
	ErrConflict = errors.New("ledger: transaction conflict")
)
