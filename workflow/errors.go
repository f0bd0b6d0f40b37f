package workflow

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMisconfigured is returned when a resolved policy cannot be
	// satisfied (no applicable policy, no eligible approvers). Fatal to
	// submission; surfaced immediately rather than left pending.
	ErrMisconfigured = errors.New("workflow misconfigured")

	// ErrInvalidDecision is returned when a decision is not a legal action
	// right now: wrong approver, duplicate vote, out-of-order sequential
	// approval, or decision against a non-open request. A programming or
	// authorization error, never a workflow rejection.
	ErrInvalidDecision = errors.New("invalid approval decision")

	// ErrExpired is returned when a decision arrives after the approval
	// window lapsed. Detected lazily on the next read/write.
	ErrExpired = errors.New("approval request expired")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// MisconfigurationError explains why a policy cannot run.
type MisconfigurationError struct {
	ConfigID      string
	LeaveTypeCode string
	Reason        string
}

func (e *MisconfigurationError) Error() string {
	if e.ConfigID != "" {
		return fmt.Sprintf("workflow config %s misconfigured: %s", e.ConfigID, e.Reason)
	}
	return fmt.Sprintf("workflow resolution for %q failed: %s", e.LeaveTypeCode, e.Reason)
}

func (e *MisconfigurationError) Unwrap() error { return ErrMisconfigured }

// InvalidDecisionError explains why a decision was refused.
type InvalidDecisionError struct {
	ApprovalID string
	ApproverID string
	Reason     string
}

func (e *InvalidDecisionError) Error() string {
	return fmt.Sprintf("decision by %s on %s refused: %s", e.ApproverID, e.ApprovalID, e.Reason)
}

func (e *InvalidDecisionError) Unwrap() error { return ErrInvalidDecision }
