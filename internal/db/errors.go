// Package db provides error types for database operations.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/lingostream/internal/ledger"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	// It also matches ledger.ErrConflict so the ledger retries it.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Messages thrown from SurrealQL transactions.
const (
	throwInsufficientBalance = "insufficient balance"
	throwNotHeld             = "entry not held"
	throwNotFound            = "record not found"
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	// A failed transaction reports one QueryError per statement, and the
	// thrown one is not necessarily first, so match on the full text.
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, throwInsufficientBalance):
		return fmt.Errorf("%w: %s", ledger.ErrInsufficientBalance, queryErr.Message)
	case strings.Contains(msg, throwNotHeld):
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyFinalized, queryErr.Message)
	case strings.Contains(msg, throwNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, queryErr.Message)
	case strings.Contains(msg, "Transaction conflict"), strings.Contains(msg, "transaction conflict"):
		return fmt.Errorf("%w: %w: %s", ErrTransactionConflict, ledger.ErrConflict, queryErr.Message)
	}
	return err
}
