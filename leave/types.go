/*
Package leave implements the leave-request lifecycle.

PURPOSE:
  A leave request is born as a draft, reserves its days on the balance
  ledger at submission, and is then driven by approval decisions until it
  reaches a terminal state. This package owns the request record and the
  state machine; the approval semantics live in the workflow package and
  the balance arithmetic in the ledger package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: the single closed status enum shared by the state machine and
    the HTTP surface (never re-derived per screen)
  - Request: the leave request record
  - Type: a leave type and the balance bucket it draws from

SEE ALSO:
  - statemachine.go: the transitions
  - days.go: working-day computation
  - events.go: domain-event emission
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
)

// =============================================================================
// STATUS - Closed enum
// =============================================================================

type Status string

const (
	StatusDraft               Status = "draft"
	StatusPending             Status = "pending"
	StatusApproved            Status = "approved"
	StatusApprovedConditional Status = "approved_conditional"
	StatusRejected            Status = "rejected"
	StatusCancelled           Status = "cancelled"
	StatusRecalled            Status = "recalled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusApprovedConditional,
		StatusRejected, StatusCancelled, StatusRecalled:
		return true
	}
	return false
}

// Terminal reports whether no further workflow transitions apply. Rejected
// and cancelled requests are only semi-terminal: an approver may reopen them.
func (s Status) Terminal() bool {
	return s == StatusRecalled
}

// =============================================================================
// LEAVE TYPE - Catalog entry mapping a request to a balance bucket
// =============================================================================

// Type describes one requestable leave type and which ledger bucket it
// draws from. ROL draws hours; everything else draws days.
type Type struct {
	Code string
	Name string

	BalanceType ledger.BalanceType

	// HoursPerDay converts working days to hours for hour-tracked buckets.
	// Ignored for day-tracked buckets.
	HoursPerDay decimal.Decimal
}

// DefaultTypes is the built-in leave type catalog. Vacation draws from the
// current-year bucket by default; the state machine prefers the expiring
// previous-year bucket when it can cover the whole request.
func DefaultTypes() map[string]Type {
	eight := decimal.NewFromInt(8)
	return map[string]Type{
		"vacation": {Code: "vacation", Name: "Vacation", BalanceType: ledger.VacationAC},
		"rol":      {Code: "rol", Name: "ROL", BalanceType: ledger.ROL, HoursPerDay: eight},
		"permit":   {Code: "permit", Name: "Paid permit", BalanceType: ledger.Permits},
	}
}

// =============================================================================
// REQUEST - The leave request record
// =============================================================================

type Request struct {
	ID            string
	EmployeeID    string
	LeaveTypeCode string

	// Date range, date-only at UTC midnight. Half-day flags shave half a
	// working day off the matching boundary.
	StartDate    time.Time
	EndDate      time.Time
	HalfDayStart bool
	HalfDayEnd   bool

	// DaysRequested is derived from the range minus calendar exclusions;
	// half-day boundaries yield .5 increments.
	DaysRequested decimal.Decimal

	// Amount is what was (or will be) reserved, in the bucket's unit: equal
	// to DaysRequested for day buckets, DaysRequested x hours-per-day for
	// hour buckets.
	Amount decimal.Decimal

	// BalanceType is the bucket the reservation was taken from. Fixed at
	// submission (the AP-first preference is resolved then, not replayed).
	BalanceType ledger.BalanceType

	Status Status

	EmployeeNotes string
	ApproverNotes string

	// Conditional approval handshake.
	HasConditions       bool
	ConditionType       string
	ConditionDetails    string
	ConditionAccepted   *bool
	ConditionAcceptedAt *time.Time

	AttachmentRef string

	// Workflow binding, set at submission.
	WorkflowConfigID  string
	ApprovalRequestID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner reports whether userID owns this request.
func (r *Request) Owner(userID string) bool {
	return r.EmployeeID == userID
}

// Account returns the ledger account this request draws from.
func (r *Request) Account() ledger.Account {
	return ledger.NewAccount(r.EmployeeID, r.BalanceType)
}

// Started reports whether the leave period has begun as of now.
func (r *Request) Started(now time.Time) bool {
	return !now.Before(r.StartDate)
}

// Ended reports whether the leave period is fully in the past as of now.
func (r *Request) Ended(now time.Time) bool {
	return now.After(r.EndDate.Add(24 * time.Hour))
}
