/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error types in one place. Callers match with errors.Is/As;
  the leave package wraps these with request-level context.

ERROR CATEGORIES:
  1. Balance errors   - reservation rejected (insufficient balance)
  2. Lineage errors   - reservation missing or already settled
  3. Store errors     - idempotency and concurrency failures
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a reservation exceeds the
	// available balance. Surfaced to the employee; the request stays draft.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrReservationNotFound is returned when commit/release cannot find an
	// open reservation for the causal reference.
	ErrReservationNotFound = errors.New("no open reservation for reference")

	// ErrReservationSettled is returned when a reservation was already
	// committed or released. A request never has two settlements.
	ErrReservationSettled = errors.New("reservation already settled")

	// ErrReservationExists is returned when a second reservation is attempted
	// for a causal reference that already holds an open one.
	ErrReservationExists = errors.New("open reservation already exists for reference")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned when a concurrent writer invalidated
	// the balance this operation was computed against. Callers retry.
	ErrConcurrencyConflict = errors.New("concurrent ledger modification")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the shortage that rejected a reservation.
type InsufficientBalanceError struct {
	Account   Account
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s, shortfall %s",
		e.Account, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the caller's request
// rather than a fault in the ledger.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrReservationExists) ||
		errors.Is(err, ErrReservationSettled) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
