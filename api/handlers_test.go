package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian75IT/kronos-hrms-sub005/api"
	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/store/memory"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

type fixture struct {
	router http.Handler
	ledger *ledger.BalanceLedger
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := api.NewStaticDirectory()
	dir.AddEmployee(workflow.EmployeeContext{EmployeeID: "emp-1", Department: "engineering"})
	dir.AddEmployee(workflow.EmployeeContext{EmployeeID: "mgr-1", RoleIDs: []string{"manager"}})
	dir.AddEmployee(workflow.EmployeeContext{EmployeeID: "mgr-2", RoleIDs: []string{"manager"}})
	dir.GrantRole("", "mgr-1")
	dir.GrantRole("", "mgr-2")
	dir.GrantRole("manager", "mgr-1")
	dir.GrantRole("manager", "mgr-2")

	st := memory.New()
	bl := ledger.New(st.LedgerStore())
	reg := workflow.NewRegistry(dir)
	sm := leave.NewStateMachine(st, bl, reg, leave.NewBus())

	f := &fixture{ledger: bl, clock: time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }
	bl.Now = now
	sm.Now = now
	reg.Now = now

	reg.Register(workflow.Config{
		ID:   "wf-default",
		Name: "single manager",
		Mode: workflow.ModeAny,
	})

	h := &api.Handler{
		Machine:  sm,
		Ledger:   bl,
		Registry: reg,
		Identity: dir,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.router = api.NewRouter(h, logger)
	return f
}

func (f *fixture) seed(t *testing.T, bt ledger.BalanceType, amount string) {
	t.Helper()
	_, err := f.ledger.Accrue(context.Background(),
		ledger.NewAccount("emp-1", bt), decimal.RequireFromString(amount),
		"grant:2026", "annual entitlement", "system")
	require.NoError(t, err)
}

// do issues a request as the given employee and decodes the JSON response.
func (f *fixture) do(t *testing.T, method, path, as string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if as != "" {
		req.Header.Set("X-Employee-ID", as)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (f *fixture) createDraft(t *testing.T) string {
	t.Helper()
	var dto map[string]any
	rec := f.do(t, http.MethodPost, "/api/requests", "emp-1", map[string]any{
		"leave_type_code": "vacation",
		"start_date":      "2026-03-02",
		"end_date":        "2026-03-06",
	}, &dto)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return dto["id"].(string)
}

// =============================================================================
// REQUEST LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_DraftSubmitApprove(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)

	var dto map[string]any
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, &dto)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", dto["status"])
	assert.Equal(t, "5", dto["days_requested"])

	rec = f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1",
		map[string]any{"notes": "enjoy"}, &dto)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", dto["status"])
	assert.Equal(t, "enjoy", dto["approver_notes"])
}

func TestAPI_MissingIdentityHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/requests", "", map[string]any{
		"leave_type_code": "vacation",
		"start_date":      "2026-03-02",
		"end_date":        "2026-03-06",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_SubmitInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "2")

	id := f.createDraft(t)

	var errResp api.ErrorResponse
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Insufficient balance", errResp.Error)

	// The request stays draft.
	var dto map[string]any
	f.do(t, http.MethodGet, "/api/requests/"+id, "emp-1", nil, &dto)
	assert.Equal(t, "draft", dto["status"])
}

func TestAPI_SubmitByNonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "mgr-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_DoubleApproveConflicts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1", nil, nil)

	// Approving an already-approved request is an invalid transition.
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-2", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_UnknownRequest404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/requests/lr-missing", "emp-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ConditionalHandshake(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)

	var dto map[string]any
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/approve-conditional", "mgr-1",
		map[string]any{"condition_type": "availability", "details": "stay reachable"}, &dto)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved_conditional", dto["status"])
	assert.Equal(t, "availability", dto["condition_type"])

	rec = f.do(t, http.MethodPost, "/api/requests/"+id+"/condition-response", "emp-1",
		map[string]any{"accept": true}, &dto)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", dto["status"])
	assert.Equal(t, true, dto["condition_accepted"])
}

func TestAPI_CancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)

	var dto map[string]any
	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/cancel", "emp-1", nil, &dto)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", dto["status"])

	var bal api.BalanceSummaryDTO
	f.do(t, http.MethodGet, "/api/employees/emp-1/balance", "emp-1", nil, &bal)
	for _, b := range bal.Buckets {
		if b.BalanceType == string(ledger.VacationAC) {
			assert.Equal(t, "10", b.Available)
		}
	}
}

// =============================================================================
// BALANCES + TRANSACTIONS
// =============================================================================

func TestAPI_BalanceReportsAllBuckets(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")
	f.seed(t, ledger.ROL, "16")

	var bal api.BalanceSummaryDTO
	rec := f.do(t, http.MethodGet, "/api/employees/emp-1/balance", "emp-1", nil, &bal)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, bal.Buckets, 4)

	byType := make(map[string]api.BucketBalanceDTO)
	for _, b := range bal.Buckets {
		byType[b.BalanceType] = b
	}
	assert.Equal(t, "10", byType["vacation_ac"].Balance)
	assert.Equal(t, "16", byType["rol"].Balance)
	assert.Equal(t, "hours", byType["rol"].Unit)
	assert.Equal(t, "0", byType["permits"].Balance)
}

func TestAPI_TransactionsByCausalRef(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1", nil, nil)

	var txs []api.TransactionDTO
	rec := f.do(t, http.MethodGet, "/api/employees/emp-1/transactions?causal_ref="+id, "emp-1", nil, &txs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, txs, 2)
	assert.Equal(t, "RESERVATION", txs[0].Type)
	assert.Equal(t, "LEAVE_DEDUCTION", txs[1].Type)
}

// =============================================================================
// WORKFLOW POLICIES
// =============================================================================

func TestAPI_CreateAndListWorkflows(t *testing.T) {
	f := newFixture(t)

	var dto api.WorkflowConfigDTO
	rec := f.do(t, http.MethodPost, "/api/workflows", "mgr-1", api.CreateWorkflowConfigRequest{
		Name:            "both managers",
		Mode:            "ALL",
		TargetRoleIDs:   []string{"manager"},
		ExpirationHours: 48,
	}, &dto)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ALL", dto.Mode)
	assert.Equal(t, 1, dto.Version)
	assert.NotEmpty(t, dto.ID)

	var list []api.WorkflowConfigDTO
	rec = f.do(t, http.MethodGet, "/api/workflows", "mgr-1", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list, 2)
}

func TestAPI_CreateWorkflowRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/workflows", "mgr-1", api.CreateWorkflowConfigRequest{
		Name: "bad", Mode: "QUORUM",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ApprovalRecordExposesDecisions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1",
		map[string]any{"notes": "ok"}, nil)

	var dto api.ApprovalDTO
	rec := f.do(t, http.MethodGet, "/api/requests/"+id+"/approval", "emp-1", nil, &dto)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SATISFIED", dto.Status)
	assert.Equal(t, "ANY", dto.Mode)
	require.Len(t, dto.Decisions, 1)
	assert.Equal(t, "mgr-1", dto.Decisions[0].ApproverID)
	assert.Equal(t, "ok", dto.Decisions[0].Notes)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_AdjustmentAndRollover(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAP, "12")

	rec := f.do(t, http.MethodPost, "/api/admin/adjustments", "mgr-1", api.AdjustmentRequest{
		EmployeeID:  "emp-1",
		BalanceType: "vacation_ap",
		Amount:      "-2",
		Reason:      "correction",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	carryCap := "5"
	var results []api.RolloverResultDTO
	rec = f.do(t, http.MethodPost, "/api/admin/rollover", "mgr-1", api.RolloverRequest{
		EmployeeID: "emp-1",
		From:       "vacation_ap",
		To:         "vacation_ac",
		AsOf:       "2026-06-30",
		CarryCap:   &carryCap,
	}, &results)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Transactions)

	var bal api.BalanceSummaryDTO
	f.do(t, http.MethodGet, "/api/employees/emp-1/balance", "emp-1", nil, &bal)
	byType := make(map[string]string)
	for _, b := range bal.Buckets {
		byType[b.BalanceType] = b.Balance
	}
	assert.Equal(t, "0", byType["vacation_ap"], "expiring bucket closed out")
	assert.Equal(t, "5", byType["vacation_ac"], "capped carry credited")

	// Replaying the same run appends nothing.
	rec = f.do(t, http.MethodPost, "/api/admin/rollover", "mgr-1", api.RolloverRequest{
		EmployeeID: "emp-1",
		From:       "vacation_ap",
		To:         "vacation_ac",
		AsOf:       "2026-06-30",
		CarryCap:   &carryCap,
	}, &results)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, results[0].Transactions)
}

func TestAPI_AdjustmentRejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/admin/adjustments", "mgr-1", api.AdjustmentRequest{
		EmployeeID:  "emp-1",
		BalanceType: "vacation_ac",
		Amount:      "0",
		Reason:      "noop",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AccrualCreditsBucket(t *testing.T) {
	f := newFixture(t)

	var resp map[string]string
	rec := f.do(t, http.MethodPost, "/api/admin/accruals", "mgr-1", api.AccrualRequest{
		EmployeeID:  "emp-1",
		BalanceType: "permits",
		Amount:      "32",
		Reference:   "grant:2026",
		Reason:      "annual permit hours",
	}, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, resp["transaction_id"])

	var bal api.BalanceSummaryDTO
	f.do(t, http.MethodGet, "/api/employees/emp-1/balance", "emp-1", nil, &bal)
	for _, b := range bal.Buckets {
		if b.BalanceType == "permits" {
			assert.Equal(t, "32", b.Balance)
		}
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

type staticEmployees []string

func (s staticEmployees) ListEmployees(context.Context) ([]string, error) {
	return s, nil
}

func TestRolloverScheduler_RunNowIsIdempotent(t *testing.T) {
	st := memory.New()
	bl := ledger.New(st.LedgerStore())
	_, err := bl.Accrue(context.Background(),
		ledger.NewAccount("emp-1", ledger.VacationAP), decimal.NewFromInt(8),
		"grant:2025", "entitlement", "system")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	carryCap := decimal.NewFromInt(3)
	s := api.NewRolloverScheduler(staticEmployees{"emp-1"}, bl, logger)
	s.CarryCap = &carryCap
	s.Now = func() time.Time { return time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC) }

	s.RunNow()
	s.RunNow() // replay must be a no-op

	ctx := context.Background()
	ap, err := bl.Balance(ctx, ledger.NewAccount("emp-1", ledger.VacationAP))
	require.NoError(t, err)
	ac, err := bl.Balance(ctx, ledger.NewAccount("emp-1", ledger.VacationAC))
	require.NoError(t, err)
	assert.True(t, ap.IsZero(), "got %s", ap)
	assert.True(t, ac.Equal(decimal.NewFromInt(3)), "got %s", ac)
}

func TestAPI_RevokeWithReopenReentersApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ledger.VacationAC, "10")

	id := f.createDraft(t)
	f.do(t, http.MethodPost, "/api/requests/"+id+"/submit", "emp-1", nil, nil)

	var dto map[string]any
	f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1", nil, &dto)
	firstApproval := dto["approval_request_id"].(string)

	rec := f.do(t, http.MethodPost, "/api/requests/"+id+"/revoke", "mgr-1",
		api.RevokeRequest{Reopen: true}, &dto)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", dto["status"])
	assert.NotEqual(t, firstApproval, dto["approval_request_id"], "fresh approval round")

	// The re-reservation holds the balance again.
	var bal api.BalanceSummaryDTO
	f.do(t, http.MethodGet, "/api/employees/emp-1/balance", "emp-1", nil, &bal)
	for _, b := range bal.Buckets {
		if b.BalanceType == "vacation_ac" {
			assert.Equal(t, "5", b.Available)
		}
	}
}
