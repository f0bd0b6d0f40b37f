package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input (inverted date range, unknown
	// leave type, zero-day request). Rejected before any ledger interaction.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when an action is not legal from the
	// request's current state (approving a draft, recalling a pending
	// request). A programming or authorization error, never ignored.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound is returned when the request does not exist.
	ErrNotFound = errors.New("leave request not found")

	// ErrForbidden is returned when the acting user is not allowed to
	// perform the transition (cancel is owner-only, recall approver-only).
	ErrForbidden = errors.New("action not permitted for this user")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports which field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionError reports the attempted action and the state that
// refused it.
type InvalidTransitionError struct {
	RequestID string
	From      Status
	Action    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s request %s in status %q", e.Action, e.RequestID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
