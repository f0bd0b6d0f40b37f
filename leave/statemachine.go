/*
statemachine.go - The leave request lifecycle

PURPOSE:
  Owns every transition of a leave request and keeps the request state and
  the balance ledger in lockstep:

    draft ──submit──> pending ──approve──> approved
                        │  │ └─conditional─> approved_conditional ──accept──> approved
                        │  │                                      └─decline─> rejected
                        │  └─reject──> rejected
                        └─cancel──> cancelled
    approved ──cancel/revoke──> cancelled     (compensating credit)
    approved ──recall──> recalled             (credit for the unused remainder)
    rejected/cancelled ──reopen──> pending    (fresh approval, re-reserve)

  Every transition runs inside one store transaction: the status change and
  its ledger transaction commit together or not at all. Events are emitted
  only after the transaction committed.

CONCURRENCY:
  Transitions for one request are serialized through a per-request lock;
  approval evaluation depends on the full decision history, so two
  approvers' decisions must never interleave.

  Ledger-coupled transitions take the request's account lock (ledger.Locked)
  before opening the store transaction. The store transaction holds the
  store mutex for its whole scope, so the order request lock, account lock,
  store mutex is the same one direct ledger operations follow.
*/
package leave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

type StateMachine struct {
	store    TxStore
	ledger   *ledger.BalanceLedger
	registry *workflow.Registry
	engine   workflow.Engine
	bus      *Bus

	// Calendar supplies non-working days. Defaults to weekends only.
	Calendar Calendar

	// Types is the leave type catalog. Defaults to DefaultTypes().
	Types map[string]Type

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStateMachine(store TxStore, bl *ledger.BalanceLedger, registry *workflow.Registry, bus *Bus) *StateMachine {
	return &StateMachine{
		store:    store,
		ledger:   bl,
		registry: registry,
		bus:      bus,
		Calendar: WeekendCalendar{},
		Types:    DefaultTypes(),
		Now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockRequest serializes transitions per request ID.
func (sm *StateMachine) lockRequest(id string) func() {
	sm.mu.Lock()
	m, ok := sm.locks[id]
	if !ok {
		m = &sync.Mutex{}
		sm.locks[id] = m
	}
	sm.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (sm *StateMachine) typeOf(code string) (Type, error) {
	lt, ok := sm.Types[code]
	if !ok {
		return Type{}, &ValidationError{Field: "leave_type_code", Reason: fmt.Sprintf("unknown leave type %q", code)}
	}
	return lt, nil
}

func (sm *StateMachine) emit(t EventType, r Request, actor string) {
	if sm.bus == nil {
		return
	}
	sm.bus.Publish(Event{
		Type:       t,
		RequestID:  r.ID,
		EmployeeID: r.EmployeeID,
		Actor:      actor,
		At:         sm.Now(),
	})
}

// =============================================================================
// DRAFT
// =============================================================================

// DraftInput is what the employee fills in before submitting.
type DraftInput struct {
	EmployeeID    string
	LeaveTypeCode string
	StartDate     time.Time
	EndDate       time.Time
	HalfDayStart  bool
	HalfDayEnd    bool
	EmployeeNotes string
	AttachmentRef string
}

// CreateDraft validates the input and stores a new draft request. No ledger
// interaction happens until submission.
func (sm *StateMachine) CreateDraft(ctx context.Context, in DraftInput) (Request, error) {
	if in.EmployeeID == "" {
		return Request{}, &ValidationError{Field: "employee_id", Reason: "required"}
	}
	lt, err := sm.typeOf(in.LeaveTypeCode)
	if err != nil {
		return Request{}, err
	}
	days, err := DaysRequested(sm.Calendar, in.StartDate, in.EndDate, in.HalfDayStart, in.HalfDayEnd)
	if err != nil {
		return Request{}, err
	}

	now := sm.Now()
	r := Request{
		ID:            "lr-" + uuid.NewString(),
		EmployeeID:    in.EmployeeID,
		LeaveTypeCode: lt.Code,
		StartDate:     midnightUTC(in.StartDate),
		EndDate:       midnightUTC(in.EndDate),
		HalfDayStart:  in.HalfDayStart,
		HalfDayEnd:    in.HalfDayEnd,
		DaysRequested: days,
		Amount:        amountFor(lt, days),
		BalanceType:   lt.BalanceType,
		Status:        StatusDraft,
		EmployeeNotes: in.EmployeeNotes,
		AttachmentRef: in.AttachmentRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := sm.store.PutRequest(ctx, r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// DeleteDraft removes a request that never left draft. Owner only.
func (sm *StateMachine) DeleteDraft(ctx context.Context, requestID, userID string) error {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !r.Owner(userID) {
		return fmt.Errorf("delete request %s: %w", requestID, ErrForbidden)
	}
	if r.Status != StatusDraft {
		return &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "delete"}
	}
	if err := sm.store.DeleteRequest(ctx, requestID); err != nil {
		return err
	}
	sm.emit(EventDeleted, r, userID)
	return nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit reserves the requested amount on the ledger, binds the applicable
// workflow policy as an immutable snapshot, opens the approval request and
// moves the request to pending. On InsufficientBalanceError the request
// stays draft and nothing is recorded.
func (sm *StateMachine) Submit(ctx context.Context, requestID string, emp workflow.EmployeeContext) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !r.Owner(emp.EmployeeID) {
		return r, fmt.Errorf("submit request %s: %w", requestID, ErrForbidden)
	}
	if r.Status != StatusDraft {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "submit"}
	}

	cfg, err := sm.registry.Resolve(r.LeaveTypeCode, emp)
	if err != nil {
		return r, err
	}
	snap, err := sm.registry.Snapshot(cfg)
	if err != nil {
		return r, err
	}
	approval := workflow.NewApprovalRequest(snap)

	account, err := sm.pickAccount(ctx, r)
	if err != nil {
		return r, err
	}

	err = sm.ledger.Locked(account, func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)
			if _, err := led.Reserve(ctx, account, r.Amount, r.ID, emp.EmployeeID); err != nil {
				return err
			}
			if err := s.PutApproval(ctx, approval); err != nil {
				return err
			}
			r.Status = StatusPending
			r.BalanceType = account.BalanceType
			r.WorkflowConfigID = cfg.ID
			r.ApprovalRequestID = approval.ID
			r.UpdatedAt = sm.Now()
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	sm.emit(EventSubmitted, r, emp.EmployeeID)
	return r, nil
}

// pickAccount prefers the expiring previous-year vacation bucket when it
// alone covers the whole request; otherwise the leave type's own bucket.
func (sm *StateMachine) pickAccount(ctx context.Context, r Request) (ledger.Account, error) {
	account := r.Account()
	if r.BalanceType != ledger.VacationAC {
		return account, nil
	}
	ap := ledger.NewAccount(r.EmployeeID, ledger.VacationAP)
	apBalance, err := sm.ledger.Balance(ctx, ap)
	if err != nil {
		return account, err
	}
	if apBalance.GreaterThanOrEqual(r.Amount) {
		return ap, nil
	}
	return account, nil
}

// =============================================================================
// APPROVAL DECISIONS
// =============================================================================

// Approve records an approval. When the workflow is satisfied the
// reservation is committed and the request becomes approved.
func (sm *StateMachine) Approve(ctx context.Context, requestID, approverID, notes string) (Request, error) {
	return sm.decide(ctx, requestID, workflow.Decision{
		ApproverID: approverID,
		Kind:       workflow.DecisionApprove,
		Notes:      notes,
	}, nil)
}

// Reject records a rejection: the reservation is released and the request
// becomes rejected.
func (sm *StateMachine) Reject(ctx context.Context, requestID, approverID, reason string) (Request, error) {
	return sm.decide(ctx, requestID, workflow.Decision{
		ApproverID: approverID,
		Kind:       workflow.DecisionReject,
		Notes:      reason,
	}, nil)
}

type condition struct {
	Type    string
	Details string
}

// ApproveConditional approves subject to stated conditions. The reservation
// is NOT committed; the request waits for the employee's explicit response.
func (sm *StateMachine) ApproveConditional(ctx context.Context, requestID, approverID, conditionType, details string) (Request, error) {
	return sm.decide(ctx, requestID, workflow.Decision{
		ApproverID: approverID,
		Kind:       workflow.DecisionApproveConditional,
		Notes:      details,
	}, &condition{Type: conditionType, Details: details})
}

func (sm *StateMachine) decide(ctx context.Context, requestID string, d workflow.Decision, cond *condition) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "decide"}
	}
	approval, err := sm.store.GetApproval(ctx, r.ApprovalRequestID)
	if err != nil {
		return r, err
	}

	now := sm.Now()
	status, applyErr := sm.engine.Apply(approval, d, now)

	if status == workflow.StatusExpired {
		if r, err = sm.expire(ctx, r, approval); err != nil {
			return r, err
		}
		return r, applyErr
	}
	if applyErr != nil {
		return r, applyErr
	}

	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)

			switch status {
			case workflow.StatusSatisfied:
				if _, err := led.Commit(ctx, r.ID, d.ApproverID); err != nil {
					return err
				}
				r.Status = StatusApproved
				r.ApproverNotes = d.Notes

			case workflow.StatusRejected:
				if _, err := led.Release(ctx, r.ID, "request rejected", d.ApproverID); err != nil {
					return err
				}
				r.Status = StatusRejected
				r.ApproverNotes = d.Notes

			case workflow.StatusAwaitingCondition:
				r.Status = StatusApprovedConditional
				r.HasConditions = true
				if cond != nil {
					r.ConditionType = cond.Type
					r.ConditionDetails = cond.Details
				}

			case workflow.StatusOpen:
				// Decision recorded, workflow still gathering votes.
			}

			r.UpdatedAt = sm.Now()
			if err := s.PutApproval(ctx, approval); err != nil {
				return err
			}
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	switch status {
	case workflow.StatusSatisfied:
		sm.emit(EventApproved, r, d.ApproverID)
	case workflow.StatusRejected:
		sm.emit(EventRejected, r, d.ApproverID)
	case workflow.StatusAwaitingCondition:
		sm.emit(EventApprovedWithConds, r, d.ApproverID)
	}
	return r, nil
}

// expire persists a lazily detected expiration: the reservation is released
// and the request lands on rejected with an expiry note.
func (sm *StateMachine) expire(ctx context.Context, r Request, approval *workflow.ApprovalRequest) (Request, error) {
	err := sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)
			if _, err := led.Release(ctx, r.ID, "approval window expired", "system"); err != nil {
				return err
			}
			r.Status = StatusRejected
			r.ApproverNotes = "approval window expired"
			r.UpdatedAt = sm.Now()
			if err := s.PutApproval(ctx, approval); err != nil {
				return err
			}
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}
	sm.emit(EventExpired, r, "system")
	return r, nil
}

// =============================================================================
// CONDITION HANDSHAKE
// =============================================================================

// RespondToCondition settles a conditional approval. Owner only. Accepting
// commits the reservation and approves; declining releases it and rejects.
func (sm *StateMachine) RespondToCondition(ctx context.Context, requestID, userID string, accept bool) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !r.Owner(userID) {
		return r, fmt.Errorf("respond to condition on %s: %w", requestID, ErrForbidden)
	}
	if r.Status != StatusApprovedConditional {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "respond to condition"}
	}
	approval, err := sm.store.GetApproval(ctx, r.ApprovalRequestID)
	if err != nil {
		return r, err
	}

	now := sm.Now()
	if _, err := sm.engine.ResolveCondition(approval, accept, now); err != nil {
		return r, err
	}

	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)

			if accept {
				if _, err := led.Commit(ctx, r.ID, userID); err != nil {
					return err
				}
				r.Status = StatusApproved
			} else {
				if _, err := led.Release(ctx, r.ID, "conditions declined by employee", userID); err != nil {
					return err
				}
				r.Status = StatusRejected
			}
			accepted := accept
			r.ConditionAccepted = &accepted
			r.ConditionAcceptedAt = &now
			r.UpdatedAt = now

			if err := s.PutApproval(ctx, approval); err != nil {
				return err
			}
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	if accept {
		sm.emit(EventConditionAccepted, r, userID)
	} else {
		sm.emit(EventConditionDeclined, r, userID)
	}
	return r, nil
}

// =============================================================================
// CANCEL / REVOKE / RECALL
// =============================================================================

// Cancel withdraws a request. Owner only. Pending and conditionally approved
// requests release their reservation; approved requests get a compensating
// credit - the full amount before the leave starts, only the unused
// remainder once it has.
func (sm *StateMachine) Cancel(ctx context.Context, requestID, userID string) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !r.Owner(userID) {
		return r, fmt.Errorf("cancel request %s: %w", requestID, ErrForbidden)
	}

	now := sm.Now()
	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)

			switch r.Status {
			case StatusPending, StatusApprovedConditional:
				if _, err := led.Release(ctx, r.ID, "cancelled by employee", userID); err != nil {
					return err
				}

			case StatusApproved:
				credit, err := sm.unusedAmount(r, now)
				if err != nil {
					return err
				}
				if credit.IsPositive() {
					if _, err := led.Refund(ctx, r.Account(), credit, r.ID, "approved request cancelled", userID); err != nil {
						return err
					}
				}

			default:
				return &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "cancel"}
			}

			r.Status = StatusCancelled
			r.UpdatedAt = now
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	sm.emit(EventCancelled, r, userID)
	return r, nil
}

// Revoke administratively undoes an approved request that has not started
// yet. The committed amount is credited back in full; with reopen the
// request re-reserves and goes through a fresh approval, otherwise it lands
// on cancelled.
func (sm *StateMachine) Revoke(ctx context.Context, requestID, approverID string, reopen bool, emp workflow.EmployeeContext) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusApproved {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "revoke"}
	}
	now := sm.Now()
	if r.Started(now) {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "revoke after leave started (use recall)"}
	}

	var approval *workflow.ApprovalRequest
	var cfg workflow.Config
	if reopen {
		cfg, err = sm.registry.Resolve(r.LeaveTypeCode, emp)
		if err != nil {
			return r, err
		}
		snap, err := sm.registry.Snapshot(cfg)
		if err != nil {
			return r, err
		}
		approval = workflow.NewApprovalRequest(snap)
	}

	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)

			if _, err := led.Refund(ctx, r.Account(), r.Amount, r.ID, "approval revoked", approverID); err != nil {
				return err
			}
			if reopen {
				if _, err := led.Reserve(ctx, r.Account(), r.Amount, r.ID, approverID); err != nil {
					return err
				}
				if err := s.PutApproval(ctx, approval); err != nil {
					return err
				}
				r.Status = StatusPending
				r.WorkflowConfigID = cfg.ID
				r.ApprovalRequestID = approval.ID
			} else {
				r.Status = StatusCancelled
			}
			r.UpdatedAt = now
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	sm.emit(EventRevoked, r, approverID)
	return r, nil
}

// Recall pulls an employee back to service mid-leave: only the unused
// remainder from today through the end date is credited back.
func (sm *StateMachine) Recall(ctx context.Context, requestID, approverID string) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusApproved {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "recall"}
	}
	now := sm.Now()
	if !r.Started(now) {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "recall before leave started (use revoke)"}
	}
	if r.Ended(now) {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "recall after leave ended"}
	}

	credit, err := sm.unusedAmount(r, now)
	if err != nil {
		return r, err
	}

	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)
			if credit.IsPositive() {
				reason := fmt.Sprintf("recalled to service, %s %s unused", credit, ledger.UnitOf(r.BalanceType))
				if _, err := led.Refund(ctx, r.Account(), credit, r.ID, reason, approverID); err != nil {
					return err
				}
			}
			r.Status = StatusRecalled
			r.UpdatedAt = now
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	sm.emit(EventRecalled, r, approverID)
	return r, nil
}

// unusedAmount computes the compensating credit when an approved request is
// undone at asOf: the full amount before the leave starts, the working-day
// remainder [asOf, end] once it has.
func (sm *StateMachine) unusedAmount(r Request, asOf time.Time) (decimal.Decimal, error) {
	lt, err := sm.typeOf(r.LeaveTypeCode)
	if err != nil {
		return decimal.Zero, err
	}

	from := midnightUTC(asOf)
	if from.Before(r.StartDate) {
		return r.Amount, nil
	}
	if from.After(r.EndDate) {
		return decimal.Zero, nil
	}

	halfStart := r.HalfDayStart && from.Equal(r.StartDate)
	days, err := DaysRequested(sm.Calendar, from, r.EndDate, halfStart, r.HalfDayEnd)
	if err != nil {
		// The remainder can legitimately cover no working days (e.g. a
		// Friday recall with only the weekend left).
		return decimal.Zero, nil
	}
	return amountFor(lt, days), nil
}

// =============================================================================
// REOPEN
// =============================================================================

// Reopen restarts a rejected or cancelled request: a fresh approval request
// is bound and the amount reserved again.
func (sm *StateMachine) Reopen(ctx context.Context, requestID, approverID string, emp workflow.EmployeeContext) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusRejected && r.Status != StatusCancelled {
		return r, &InvalidTransitionError{RequestID: requestID, From: r.Status, Action: "reopen"}
	}

	cfg, err := sm.registry.Resolve(r.LeaveTypeCode, emp)
	if err != nil {
		return r, err
	}
	snap, err := sm.registry.Snapshot(cfg)
	if err != nil {
		return r, err
	}
	approval := workflow.NewApprovalRequest(snap)

	err = sm.ledger.Locked(r.Account(), func(lv *ledger.BalanceLedger) error {
		return sm.store.WithTx(ctx, func(s Store, ls ledger.Store) error {
			led := lv.WithStore(ls)
			if _, err := led.Reserve(ctx, r.Account(), r.Amount, r.ID, approverID); err != nil {
				return err
			}
			if err := s.PutApproval(ctx, approval); err != nil {
				return err
			}
			r.Status = StatusPending
			r.WorkflowConfigID = cfg.ID
			r.ApprovalRequestID = approval.ID
			r.ConditionAccepted = nil
			r.ConditionAcceptedAt = nil
			r.UpdatedAt = sm.Now()
			return s.PutRequest(ctx, r)
		})
	})
	if err != nil {
		return r, err
	}

	sm.emit(EventReopened, r, approverID)
	return r, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a request, lazily expiring its approval window first.
func (sm *StateMachine) Get(ctx context.Context, requestID string) (Request, error) {
	defer sm.lockRequest(requestID)()

	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending {
		return r, nil
	}

	approval, err := sm.store.GetApproval(ctx, r.ApprovalRequestID)
	if err != nil {
		return r, err
	}
	if sm.engine.CheckExpiry(approval, sm.Now()) {
		return sm.expire(ctx, r, approval)
	}
	return r, nil
}

// ListByEmployee returns all requests for one employee.
func (sm *StateMachine) ListByEmployee(ctx context.Context, employeeID string) ([]Request, error) {
	return sm.store.ListRequestsByEmployee(ctx, employeeID)
}

// Approval returns the approval record bound to a request.
func (sm *StateMachine) Approval(ctx context.Context, requestID string) (*workflow.ApprovalRequest, error) {
	r, err := sm.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.ApprovalRequestID == "" {
		return nil, fmt.Errorf("request %s has no approval record: %w", requestID, ErrNotFound)
	}
	return sm.store.GetApproval(ctx, r.ApprovalRequestID)
}
