package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/store/memory"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubDirectory maps role IDs to fixed approver lists. The empty key holds
// the fallback pool.
type stubDirectory map[string][]string

func (d stubDirectory) ApproversForRoles(roleIDs []string) []string {
	if len(roleIDs) == 0 {
		return d[""]
	}
	var out []string
	for _, r := range roleIDs {
		out = append(out, d[r]...)
	}
	return out
}

type fixture struct {
	sm     *leave.StateMachine
	ledger *ledger.BalanceLedger
	reg    *workflow.Registry
	bus    *leave.Bus
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.New()
	bl := ledger.New(st.LedgerStore())
	reg := workflow.NewRegistry(stubDirectory{
		"":         {"mgr-1"},
		"role-mgr": {"mgr-1", "mgr-2"},
	})
	bus := leave.NewBus()
	sm := leave.NewStateMachine(st, bl, reg, bus)

	f := &fixture{sm: sm, ledger: bl, reg: reg, bus: bus}
	f.clock = time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC)
	sm.Now = func() time.Time { return f.clock }
	bl.Now = sm.Now
	reg.Now = sm.Now
	return f
}

func (f *fixture) seed(t *testing.T, employeeID string, bt ledger.BalanceType, amount string) {
	t.Helper()
	_, err := f.ledger.Accrue(context.Background(),
		ledger.NewAccount(employeeID, bt),
		decimal.RequireFromString(amount), "grant:test", "entitlement grant", "system")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, employeeID string, bt ledger.BalanceType) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), ledger.NewAccount(employeeID, bt))
	require.NoError(t, err)
	return b
}

var emp1 = workflow.EmployeeContext{EmployeeID: "emp-1", RoleIDs: []string{"role-dev"}, Department: "engineering"}

// defaultPolicy registers a single-approver ANY policy covering everything.
func (f *fixture) defaultPolicy() {
	f.reg.Register(workflow.Config{ID: "wf-default", Name: "default", Mode: workflow.ModeAny})
}

// fiveDayDraft creates a Monday-Friday vacation draft (2026-03-02..06).
func (f *fixture) fiveDayDraft(t *testing.T) leave.Request {
	t.Helper()
	r, err := f.sm.CreateDraft(context.Background(), leave.DraftInput{
		EmployeeID:    "emp-1",
		LeaveTypeCode: "vacation",
		StartDate:     time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC),
		EmployeeNotes: "spring break",
	})
	require.NoError(t, err)
	require.Equal(t, leave.StatusDraft, r.Status)
	return r
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// =============================================================================
// SUBMIT
// =============================================================================

func TestStateMachine_Submit_ReservesAndBindsWorkflow(t *testing.T) {
	// GIVEN: 10 days of current-year vacation and a 5-day draft
	// WHEN: the draft is submitted
	// THEN: 5 days are reserved, a workflow snapshot is bound, status pending

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)

	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, r.Status)
	assert.Equal(t, "wf-default", r.WorkflowConfigID)
	assert.NotEmpty(t, r.ApprovalRequestID)

	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")))

	summary, err := f.ledger.GetSummary(ctx, ledger.NewAccount("emp-1", ledger.VacationAC))
	require.NoError(t, err)
	assert.True(t, summary.Reserved.Equal(d("5")))
}

func TestStateMachine_Submit_InsufficientBalanceStaysDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "3")
	r := f.fiveDayDraft(t)

	_, err := f.sm.Submit(ctx, r.ID, emp1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	got, err := f.sm.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusDraft, got.Status, "request must remain draft")
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("3")), "nothing reserved")
}

func TestStateMachine_Submit_NoPolicyFailsFast(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)

	_, err := f.sm.Submit(context.Background(), r.ID, emp1)
	assert.ErrorIs(t, err, workflow.ErrMisconfigured)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_Submit_PrefersExpiringAPBucket(t *testing.T) {
	// When the previous-year bucket alone covers the request it is consumed
	// first, so those days do not expire unused at rollover.

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAP, "6")
	f.seed(t, "emp-1", ledger.VacationAC, "20")
	r := f.fiveDayDraft(t)

	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	assert.Equal(t, ledger.VacationAP, r.BalanceType)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAP).Equal(d("1")))
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("20")))
}

func TestStateMachine_Submit_ConcurrentDoubleSpendOnlyOneWins(t *testing.T) {
	// GIVEN: exactly enough balance for one of two 5-day requests
	// WHEN: both are submitted concurrently
	// THEN: one goes pending, the other stays draft with InsufficientBalanceError

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "5")
	r1 := f.fiveDayDraft(t)
	r2 := f.fiveDayDraft(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{r1.ID, r2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.sm.Submit(ctx, id, emp1)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("0")))
}

func TestStateMachine_SubmitDoesNotDeadlockWithDirectAdjustment(t *testing.T) {
	// GIVEN: submissions and direct administrative adjustments racing on the
	//        same vacation account
	// WHEN: the transition's store transaction interleaves with the plain
	//       ledger writes
	// THEN: every operation completes; the account lock is always taken
	//       before the store, so neither side waits on the other forever

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "500")

	const rounds = 50
	drafts := make([]leave.Request, rounds)
	for i := range drafts {
		drafts[i] = f.fiveDayDraft(t)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, r := range drafts {
			if _, err := f.sm.Submit(ctx, r.ID, emp1); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		acct := ledger.NewAccount("emp-1", ledger.VacationAC)
		for i := 0; i < rounds; i++ {
			amount := d("1")
			if i%2 == 1 {
				amount = d("-1")
			}
			if _, err := f.ledger.Adjust(ctx, acct, amount, "audit correction", "admin"); err != nil {
				errCh <- err
				return
			}
		}
	}()

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("submission and direct adjustment deadlocked on the account/store locks")
	}
	select {
	case err := <-errCh:
		require.NoError(t, err)
	default:
	}

	// 50 five-day reservations against 500, adjustments net to zero.
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("250")))
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestStateMachine_ApproveCommitsWithoutSecondSubtraction(t *testing.T) {
	// GIVEN: a pending 5-day request out of 10
	// WHEN: the approver approves
	// THEN: status approved, balance still 5 (the reservation already paid)

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, r.Status)
	assert.Equal(t, "enjoy", r.ApproverNotes)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")))
}

func TestStateMachine_RejectReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	r, err = f.sm.Reject(ctx, r.ID, "mgr-1", "release week")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")), "balance restored")
}

func TestStateMachine_AllMode_ShortCircuitRejection(t *testing.T) {
	// GIVEN: ALL-mode workflow with two target approvers
	// WHEN: A approves, then B rejects
	// THEN: final status rejected even though A approved

	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(workflow.Config{
		ID: "wf-all", Name: "both managers",
		Mode:          workflow.ModeAll,
		TargetRoleIDs: []string{"role-mgr"},
	})
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, r.Status, "one of two approvals is not enough")

	r, err = f.sm.Reject(ctx, r.ID, "mgr-2", "short staffed")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_DecideOnDraftIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)

	_, err := f.sm.Approve(context.Background(), r.ID, "mgr-1", "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

// =============================================================================
// CONDITIONAL APPROVAL HANDSHAKE
// =============================================================================

func TestStateMachine_ConditionalAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	r, err = f.sm.ApproveConditional(ctx, r.ID, "mgr-1", "availability", "stay reachable by phone")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedConditional, r.Status)
	assert.True(t, r.HasConditions)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")), "reservation still held, not committed")

	r, err = f.sm.RespondToCondition(ctx, r.ID, "emp-1", true)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, r.Status)
	require.NotNil(t, r.ConditionAccepted)
	assert.True(t, *r.ConditionAccepted)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")))
}

func TestStateMachine_ConditionalDeclined_BalanceRestoredExactly(t *testing.T) {
	// GIVEN: a conditional approval on a 5-day request from a 10-day balance
	// WHEN: the employee declines the conditions
	// THEN: status rejected and the balance is back to exactly 10

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.ApproveConditional(ctx, r.ID, "mgr-1", "availability", "stay reachable")
	require.NoError(t, err)

	r, err = f.sm.RespondToCondition(ctx, r.ID, "emp-1", false)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, r.Status)
	require.NotNil(t, r.ConditionAccepted)
	assert.False(t, *r.ConditionAccepted)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_RespondToCondition_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	_, err = f.sm.ApproveConditional(ctx, r.ID, "mgr-1", "availability", "stay reachable")
	require.NoError(t, err)

	_, err = f.sm.RespondToCondition(ctx, r.ID, "emp-2", true)
	assert.ErrorIs(t, err, leave.ErrForbidden)
}

// =============================================================================
// CANCEL / RECALL / REVOKE
// =============================================================================

func TestStateMachine_CancelPending_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	_, err = f.sm.Cancel(ctx, r.ID, "emp-2")
	assert.ErrorIs(t, err, leave.ErrForbidden)

	r, err = f.sm.Cancel(ctx, r.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_CancelApprovedMidLeave_CreditsUnusedRemainder(t *testing.T) {
	// GIVEN: 10 days, an approved Mon-Fri request (5 days committed)
	// WHEN: the employee cancels on Wednesday with Wed-Fri unused
	// THEN: compensating credit of 3, final balance 8

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	f.clock = time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC) // Wednesday
	r, err = f.sm.Cancel(ctx, r.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("8")), "3 unused days credited back")
}

func TestStateMachine_Recall_CreditsUnusedRemainderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	f.clock = time.Date(2026, time.March, 5, 8, 0, 0, 0, time.UTC) // Thursday
	r, err = f.sm.Recall(ctx, r.ID, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRecalled, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("7")), "Thu+Fri credited back")
}

func TestStateMachine_Recall_BeforeStartRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	_, err = f.sm.Recall(ctx, r.ID, "mgr-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition, "leave has not started yet")
}

func TestStateMachine_Revoke_FullCreditBeforeStart(t *testing.T) {
	// GIVEN: an approved future request
	// WHEN: an approver revokes it without reopening
	// THEN: the full amount is credited back and the request is cancelled

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	r, err = f.sm.Revoke(ctx, r.ID, "mgr-1", false, emp1)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, r.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_Revoke_ReopenGoesBackToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	firstApproval := r.ApprovalRequestID
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	r, err = f.sm.Revoke(ctx, r.ID, "mgr-1", true, emp1)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, r.Status)
	assert.NotEqual(t, firstApproval, r.ApprovalRequestID, "fresh approval record")
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")), "days held again as reservation")
}

// =============================================================================
// REOPEN
// =============================================================================

func TestStateMachine_Reopen_RejectedRequest(t *testing.T) {
	// GIVEN: a rejected request whose reservation was released
	// WHEN: an approver reopens it
	// THEN: a new reservation and a fresh approval record, status pending

	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	firstApproval := r.ApprovalRequestID
	r, err = f.sm.Reject(ctx, r.ID, "mgr-1", "try later")
	require.NoError(t, err)

	r, err = f.sm.Reopen(ctx, r.ID, "mgr-1", emp1)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, r.Status)
	assert.NotEqual(t, firstApproval, r.ApprovalRequestID)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("5")))

	// The reopened request can be approved normally.
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, r.Status)
}

func TestStateMachine_Reopen_FailsWhenBalanceConsumedMeanwhile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "5")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	r, err = f.sm.Reject(ctx, r.ID, "mgr-1", "no")
	require.NoError(t, err)

	// Another request eats the balance in the meantime.
	_, err = f.ledger.Adjust(ctx, ledger.NewAccount("emp-1", ledger.VacationAC), d("-3"), "correction", "admin-1")
	require.NoError(t, err)

	_, err = f.sm.Reopen(ctx, r.ID, "mgr-1", emp1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	got, err := f.sm.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, got.Status, "failed reopen leaves the request rejected")
}

// =============================================================================
// EXPIRATION (LAZY)
// =============================================================================

func TestStateMachine_ExpiredApprovalWindow_DetectedOnRead(t *testing.T) {
	// GIVEN: a pending request under a 24h approval window
	// WHEN: it is read 48h later
	// THEN: the reservation is released and the request lands on rejected

	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(workflow.Config{
		ID: "wf-fast", Name: "fast lane",
		Mode:            workflow.ModeAny,
		ExpirationHours: 24,
	})
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	f.clock = f.clock.Add(48 * time.Hour)
	r, err = f.sm.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, r.Status)
	assert.Contains(t, r.ApproverNotes, "expired")
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

func TestStateMachine_ExpiredApprovalWindow_DecisionRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(workflow.Config{
		ID: "wf-fast", Name: "fast lane",
		Mode:            workflow.ModeAny,
		ExpirationHours: 24,
	})
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	f.clock = f.clock.Add(48 * time.Hour)
	_, err = f.sm.Approve(ctx, r.ID, "mgr-1", "too late")
	assert.ErrorIs(t, err, workflow.ErrInvalidDecision)

	got, err := f.sm.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, got.Status)
	assert.True(t, f.balance(t, "emp-1", ledger.VacationAC).Equal(d("10")))
}

// =============================================================================
// ROL HOURS
// =============================================================================

func TestStateMachine_ROLRequest_ReservesHours(t *testing.T) {
	// A 1.5-working-day ROL request at 8h/day reserves 12 hours.
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.ROL, "40")

	r, err := f.sm.CreateDraft(ctx, leave.DraftInput{
		EmployeeID:    "emp-1",
		LeaveTypeCode: "rol",
		StartDate:     time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC),
		HalfDayEnd:    true,
	})
	require.NoError(t, err)
	assert.True(t, r.DaysRequested.Equal(d("1.5")))
	assert.True(t, r.Amount.Equal(d("12")))

	r, err = f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	assert.True(t, f.balance(t, "emp-1", ledger.ROL).Equal(d("28")))

	// Commit lands as an ROL deduction in the audit trail.
	r, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)
	lineage, err := f.ledger.TransactionsByCausalRef(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, ledger.TxROLDeduction, lineage[1].Type)
}

// =============================================================================
// DRAFT LIFECYCLE + EVENTS
// =============================================================================

func TestStateMachine_DeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)

	require.NoError(t, f.sm.DeleteDraft(ctx, r.ID, "emp-1"))

	_, err := f.sm.Get(ctx, r.ID)
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func TestStateMachine_DeleteNonDraftRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")
	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)

	err = f.sm.DeleteDraft(ctx, r.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

func TestStateMachine_EventsEmittedInTransitionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.defaultPolicy()
	f.seed(t, "emp-1", ledger.VacationAC, "10")

	events, cancel := f.bus.Subscribe(16)
	defer cancel()

	r := f.fiveDayDraft(t)
	r, err := f.sm.Submit(ctx, r.ID, emp1)
	require.NoError(t, err)
	_, err = f.sm.Approve(ctx, r.ID, "mgr-1", "")
	require.NoError(t, err)

	e1 := <-events
	assert.Equal(t, leave.EventSubmitted, e1.Type)
	assert.Equal(t, r.ID, e1.RequestID)
	assert.Equal(t, "emp-1", e1.Actor)

	e2 := <-events
	assert.Equal(t, leave.EventApproved, e2.Type)
	assert.Equal(t, "mgr-1", e2.Actor)
}
