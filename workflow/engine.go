/*
engine.go - Approval decision evaluation

PURPOSE:
  The Engine drives one ApprovalRequest from OPEN to a terminal state by
  folding the ordered decision history against the bound policy snapshot.
  It owns no storage and no clock: callers pass `now` so expiry can be
  evaluated lazily on every read/write instead of via a background timer.

TRANSITION RULES (evaluated after every new decision):
  ANY:        first APPROVE satisfies (subject to the MinApprovers floor);
              first REJECT rejects.
  ALL:        every eligible approver must approve; any REJECT rejects
              immediately (short-circuit).
  SEQUENTIAL: approvals only count in slot order - an out-of-order approval
              is an invalid action, not a workflow rejection. Any REJECT by
              an eligible approver rejects.
  MAJORITY:   approvals > eligible/2 satisfies (MinApprovers raises the
              threshold); rejections reaching the complementary threshold
              reject. Ties stay OPEN until broken.

  APPROVE_CONDITIONAL moves the request to AWAITING_CONDITION: the workflow
  is not satisfied until the employee explicitly accepts the conditions
  (ResolveCondition).
*/
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// APPROVAL REQUEST - Running tally of decisions against a snapshot
// =============================================================================

type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusSatisfied         Status = "SATISFIED"
	StatusRejected          Status = "REJECTED"
	StatusExpired           Status = "EXPIRED"
	StatusAwaitingCondition Status = "AWAITING_CONDITION"
)

// Terminal reports whether no further decisions are accepted.
func (s Status) Terminal() bool {
	return s == StatusSatisfied || s == StatusRejected || s == StatusExpired
}

type DecisionKind string

const (
	DecisionApprove            DecisionKind = "APPROVE"
	DecisionReject             DecisionKind = "REJECT"
	DecisionApproveConditional DecisionKind = "APPROVE_CONDITIONAL"
)

// Decision is one approver's recorded vote.
type Decision struct {
	ApproverID string
	Kind       DecisionKind
	Notes      string
	At         time.Time
}

// ApprovalRequest is the running tally of decisions against a bound
// workflow snapshot. One leave request has at most one active
// ApprovalRequest; reopening creates a fresh one.
type ApprovalRequest struct {
	ID        string
	Snapshot  Snapshot
	Decisions []Decision
	Status    Status
	CreatedAt time.Time
	DecidedAt *time.Time
}

func NewApprovalRequest(snapshot Snapshot) *ApprovalRequest {
	return &ApprovalRequest{
		ID:        "appr-" + uuid.NewString(),
		Snapshot:  snapshot,
		Status:    StatusOpen,
		CreatedAt: snapshot.TakenAt,
	}
}

// NextApprover returns who must act next under SEQUENTIAL mode ("" when not
// sequential or nothing is pending).
func (ar *ApprovalRequest) NextApprover() string {
	if ar.Snapshot.Mode != ModeSequential || ar.Status != StatusOpen {
		return ""
	}
	idx := ar.countKind(DecisionApprove)
	if idx >= len(ar.Snapshot.Approvers) {
		return ""
	}
	return ar.Snapshot.Approvers[idx]
}

func (ar *ApprovalRequest) countKind(kind DecisionKind) int {
	n := 0
	for _, d := range ar.Decisions {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func (ar *ApprovalRequest) hasDecided(approverID string) bool {
	for _, d := range ar.Decisions {
		if d.ApproverID == approverID {
			return true
		}
	}
	return false
}

func (ar *ApprovalRequest) eligible(approverID string) bool {
	for _, a := range ar.Snapshot.Approvers {
		if a == approverID {
			return true
		}
	}
	return false
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct{}

// CheckExpiry lazily expires an open approval request. Returns true if the
// status changed to EXPIRED.
func (e *Engine) CheckExpiry(ar *ApprovalRequest, now time.Time) bool {
	if ar.Status != StatusOpen || !ar.Snapshot.Expired(now) {
		return false
	}
	ar.Status = StatusExpired
	ar.DecidedAt = &now
	return true
}

// Apply records one decision and re-evaluates the workflow. Returns the
// resulting status. Invalid actions (ineligible approver, duplicate vote,
// out-of-order sequential approval, decision on a settled request) return
// an InvalidDecisionError and leave the request untouched.
func (e *Engine) Apply(ar *ApprovalRequest, d Decision, now time.Time) (Status, error) {
	if e.CheckExpiry(ar, now) {
		return ar.Status, &InvalidDecisionError{
			ApprovalID: ar.ID, ApproverID: d.ApproverID,
			Reason: ErrExpired.Error(),
		}
	}
	if ar.Status != StatusOpen {
		return ar.Status, &InvalidDecisionError{
			ApprovalID: ar.ID, ApproverID: d.ApproverID,
			Reason: "approval request is " + string(ar.Status),
		}
	}
	if !ar.eligible(d.ApproverID) {
		return ar.Status, &InvalidDecisionError{
			ApprovalID: ar.ID, ApproverID: d.ApproverID,
			Reason: "approver not in eligible set",
		}
	}
	if ar.hasDecided(d.ApproverID) {
		return ar.Status, &InvalidDecisionError{
			ApprovalID: ar.ID, ApproverID: d.ApproverID,
			Reason: "approver already decided",
		}
	}
	if ar.Snapshot.Mode == ModeSequential && d.Kind == DecisionApprove {
		if next := ar.NextApprover(); next != d.ApproverID {
			return ar.Status, &InvalidDecisionError{
				ApprovalID: ar.ID, ApproverID: d.ApproverID,
				Reason: "approval out of turn, next slot is " + next,
			}
		}
	}

	if d.At.IsZero() {
		d.At = now
	}
	ar.Decisions = append(ar.Decisions, d)

	if d.Kind == DecisionApproveConditional {
		ar.Status = StatusAwaitingCondition
		return ar.Status, nil
	}

	e.evaluate(ar, now)
	return ar.Status, nil
}

// ResolveCondition settles a conditional approval after the employee's
// explicit accept/decline handshake.
func (e *Engine) ResolveCondition(ar *ApprovalRequest, accepted bool, now time.Time) (Status, error) {
	if ar.Status != StatusAwaitingCondition {
		return ar.Status, &InvalidDecisionError{
			ApprovalID: ar.ID,
			Reason:     "no condition awaiting response, status is " + string(ar.Status),
		}
	}
	if accepted {
		ar.Status = StatusSatisfied
	} else {
		ar.Status = StatusRejected
	}
	ar.DecidedAt = &now
	return ar.Status, nil
}

// evaluate folds the decision history per approval mode. Only called while
// OPEN, right after a new APPROVE/REJECT was appended.
func (e *Engine) evaluate(ar *ApprovalRequest, now time.Time) {
	var (
		n         = len(ar.Snapshot.Approvers)
		approvals = ar.countKind(DecisionApprove)
		rejects   = ar.countKind(DecisionReject)
	)

	settle := func(s Status) {
		ar.Status = s
		ar.DecidedAt = &now
	}

	switch ar.Snapshot.Mode {
	case ModeAny:
		if rejects > 0 {
			settle(StatusRejected)
			return
		}
		if approvals >= maxInt(1, ar.Snapshot.MinApprovers) {
			settle(StatusSatisfied)
		}

	case ModeAll, ModeSequential:
		// Any rejection short-circuits, even when others already approved.
		if rejects > 0 {
			settle(StatusRejected)
			return
		}
		if approvals == n {
			settle(StatusSatisfied)
		}

	case ModeMajority:
		need := maxInt(n/2+1, ar.Snapshot.MinApprovers)
		// Complementary threshold: enough rejections that the approval
		// count can no longer reach `need`. Ties stay OPEN until broken.
		if approvals >= need {
			settle(StatusSatisfied)
			return
		}
		if n-rejects < need {
			settle(StatusRejected)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
