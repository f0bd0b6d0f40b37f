/*
handlers.go - HTTP API handlers for the leave and balance core

PURPOSE:
  Exposes the leave request state machine, the balance ledger and the
  workflow policy registry over REST. Handles HTTP request/response, JSON
  serialization, and delegates everything else to domain logic.

ENDPOINTS:
  Requests:
    POST   /api/requests                          Create draft
    GET    /api/requests/{id}                     Get (lazily expires approvals)
    DELETE /api/requests/{id}                     Delete draft
    GET    /api/requests/{id}/approval            Approval record
    POST   /api/requests/{id}/submit              Submit for approval
    POST   /api/requests/{id}/approve             Record an approval vote
    POST   /api/requests/{id}/reject              Record a rejection
    POST   /api/requests/{id}/approve-conditional Approve with conditions
    POST   /api/requests/{id}/condition-response  Employee accepts/declines
    POST   /api/requests/{id}/cancel              Employee withdraws
    POST   /api/requests/{id}/revoke              Admin undoes before start
    POST   /api/requests/{id}/recall              Pull back mid-leave
    POST   /api/requests/{id}/reopen              Restart after reject/cancel

  Balances:
    GET    /api/employees/{id}/requests           Request history
    GET    /api/employees/{id}/balance            All bucket summaries
    GET    /api/employees/{id}/transactions       Ledger history

  Workflow policies:
    GET    /api/workflows                         List registered policies
    POST   /api/workflows                         Register policy (version)

  Admin:
    POST   /api/admin/accruals                    Entitlement grant
    POST   /api/admin/adjustments                 Signed manual correction
    POST   /api/admin/rollover                    Trigger bucket rollover

IDENTITY:
  The acting employee is taken from the X-Employee-ID header and resolved
  through the Identity collaborator; role and department scoping for
  workflow resolution comes from there, never from the request body.

ERROR HANDLING:
  Domain errors map to HTTP status by sentinel:
    400  validation failures
    403  non-owner acting on someone else's request
    404  unknown request / reservation
    409  invalid transition, invalid decision, settled reservation
    422  insufficient balance, misconfigured workflow

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Automated rollover
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Identity resolves the acting employee's roles and department. Roles always
// come from here so clients cannot grant themselves a broader workflow scope.
type Identity interface {
	EmployeeContext(employeeID string) (workflow.EmployeeContext, bool)
}

// ConfigStore persists workflow policies across restarts. The registry is
// the in-memory source of truth; the store replays into it at startup.
type ConfigStore interface {
	PutWorkflowConfig(ctx context.Context, cfg workflow.Config) error
	ListWorkflowConfigs(ctx context.Context) ([]workflow.Config, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Machine  *leave.StateMachine
	Ledger   *ledger.BalanceLedger
	Registry *workflow.Registry
	Identity Identity

	// Configs is optional; nil skips policy persistence.
	Configs ConfigStore
}

// actor resolves the caller from the identity header.
func (h *Handler) actor(r *http.Request) (workflow.EmployeeContext, bool) {
	id := r.Header.Get("X-Employee-ID")
	if id == "" {
		return workflow.EmployeeContext{}, false
	}
	return h.Identity.EmployeeContext(id)
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

// CreateDraft creates a new draft leave request for the caller.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}

	var req CreateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	lr, err := h.Machine.CreateDraft(r.Context(), leave.DraftInput{
		EmployeeID:    emp.EmployeeID,
		LeaveTypeCode: req.LeaveTypeCode,
		StartDate:     start,
		EndDate:       end,
		HalfDayStart:  req.HalfDayStart,
		HalfDayEnd:    req.HalfDayEnd,
		EmployeeNotes: req.Notes,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(lr))
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	lr, err := h.Machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// DeleteDraft removes a request that never left draft.
func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	if err := h.Machine.DeleteDraft(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitRequest reserves the balance and opens the approval workflow.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	lr, err := h.Machine.Submit(r.Context(), chi.URLParam(r, "id"), emp)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// GetApproval returns the approval record bound to a request.
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := h.Machine.Approval(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(approval))
}

// =============================================================================
// DECISIONS
// =============================================================================

// ApproveRequest records an approval vote from the caller.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req DecisionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	lr, err := h.Machine.Approve(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// RejectRequest records a rejection from the caller.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req DecisionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	lr, err := h.Machine.Reject(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// ApproveConditional approves subject to conditions the employee must answer.
func (h *Handler) ApproveConditional(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req ConditionalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ConditionType == "" {
		writeError(w, http.StatusBadRequest, "condition_type is required", nil)
		return
	}

	lr, err := h.Machine.ApproveConditional(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID, req.ConditionType, req.Details)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// RespondToCondition settles a conditional approval.
func (h *Handler) RespondToCondition(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req ConditionResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lr, err := h.Machine.RespondToCondition(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID, req.Accept)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// =============================================================================
// CANCEL / REVOKE / RECALL / REOPEN
// =============================================================================

// CancelRequest withdraws the caller's own request.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	lr, err := h.Machine.Cancel(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// RevokeRequest administratively undoes an approved request before it starts.
func (h *Handler) RevokeRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req RevokeRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	id := chi.URLParam(r, "id")

	// Workflow resolution on reopen scopes by the request owner, not the
	// revoking admin.
	owner := emp
	if req.Reopen {
		lr, err := h.Machine.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if resolved, ok := h.Identity.EmployeeContext(lr.EmployeeID); ok {
			owner = resolved
		}
	}

	lr, err := h.Machine.Revoke(r.Context(), id, emp.EmployeeID, req.Reopen, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// RecallRequest pulls an employee back to service mid-leave.
func (h *Handler) RecallRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	lr, err := h.Machine.Recall(r.Context(), chi.URLParam(r, "id"), emp.EmployeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// ReopenRequest restarts a rejected or cancelled request.
func (h *Handler) ReopenRequest(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}

	id := chi.URLParam(r, "id")
	lr, err := h.Machine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, ok := h.Identity.EmployeeContext(lr.EmployeeID)
	if !ok {
		owner = workflow.EmployeeContext{EmployeeID: lr.EmployeeID}
	}

	lr, err = h.Machine.Reopen(r.Context(), id, emp.EmployeeID, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(lr))
}

// =============================================================================
// EMPLOYEE QUERIES
// =============================================================================

// ListRequests returns all requests for one employee.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Machine.ListByEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(rs))
}

// GetBalance returns all bucket summaries for one employee.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	ctx := r.Context()

	buckets := []ledger.BalanceType{
		ledger.VacationAP, ledger.VacationAC, ledger.ROL, ledger.Permits,
	}
	dto := BalanceSummaryDTO{
		EmployeeID: employeeID,
		Buckets:    make([]BucketBalanceDTO, 0, len(buckets)),
	}

	for _, bt := range buckets {
		s, err := h.Ledger.GetSummary(ctx, ledger.NewAccount(employeeID, bt))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dto.AsOf = s.AsOf.Format(time.RFC3339)
		dto.Buckets = append(dto.Buckets, toBucketBalanceDTO(s))
	}

	writeJSON(w, http.StatusOK, dto)
}

// GetTransactions returns the ledger history for one employee, filtered by
// bucket or by causal reference.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	ctx := r.Context()

	if ref := r.URL.Query().Get("causal_ref"); ref != "" {
		txs, err := h.Ledger.TransactionsByCausalRef(ctx, ref)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
		return
	}

	var buckets []ledger.BalanceType
	if bt := r.URL.Query().Get("balance_type"); bt != "" {
		buckets = []ledger.BalanceType{ledger.BalanceType(bt)}
	} else {
		buckets = []ledger.BalanceType{
			ledger.VacationAP, ledger.VacationAC, ledger.ROL, ledger.Permits,
		}
	}

	all := []TransactionDTO{}
	for _, bt := range buckets {
		txs, err := h.Ledger.Transactions(ctx, ledger.NewAccount(employeeID, bt))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		all = append(all, toTransactionDTOs(txs)...)
	}
	writeJSON(w, http.StatusOK, all)
}

// =============================================================================
// WORKFLOW POLICIES
// =============================================================================

// ListWorkflows returns all registered approval policies.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	cfgs := h.Registry.List()
	dtos := make([]WorkflowConfigDTO, len(cfgs))
	for i, c := range cfgs {
		dtos[i] = toWorkflowConfigDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWorkflow registers a policy (or a new version of one) and persists it.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	mode := workflow.ApprovalMode(req.Mode)
	switch mode {
	case workflow.ModeAny, workflow.ModeAll, workflow.ModeSequential, workflow.ModeMajority:
	default:
		writeError(w, http.StatusBadRequest, "Invalid mode (use ANY, ALL, SEQUENTIAL or MAJORITY)", nil)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	cfg := h.Registry.Register(workflow.Config{
		ID:                  req.ID,
		Name:                req.Name,
		Mode:                mode,
		MinApprovers:        req.MinApprovers,
		TargetRoleIDs:       req.TargetRoleIDs,
		ExpirationHours:     req.ExpirationHours,
		LeaveTypeCode:       req.LeaveTypeCode,
		AppliesToRoles:      req.AppliesToRoles,
		AppliesToDepartment: req.AppliesToDepartment,
		Priority:            req.Priority,
	})

	if h.Configs != nil {
		if err := h.Configs.PutWorkflowConfig(r.Context(), cfg); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to persist workflow config", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toWorkflowConfigDTO(cfg))
}

// =============================================================================
// ADMIN
// =============================================================================

// CreateAccrual credits an entitlement grant.
func (h *Handler) CreateAccrual(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req AccrualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	account := ledger.NewAccount(req.EmployeeID, ledger.BalanceType(req.BalanceType))
	txID, err := h.Ledger.Accrue(r.Context(), account, amount, req.Reference, req.Reason, emp.EmployeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"transaction_id": string(txID)})
}

// CreateAdjustment appends a signed manual correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if amount.IsZero() {
		writeError(w, http.StatusBadRequest, "Adjustment amount must be non-zero", nil)
		return
	}

	account := ledger.NewAccount(req.EmployeeID, ledger.BalanceType(req.BalanceType))
	txID, err := h.Ledger.Adjust(r.Context(), account, amount, req.Reason, emp.EmployeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"transaction_id": string(txID)})
}

// TriggerRollover runs a bucket rollover, idempotent per (employee, bucket,
// date). With no employee_id it covers every employee the ledger knows.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.actor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown or missing X-Employee-ID", nil)
		return
	}
	var req RolloverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	asOf, err := time.Parse(dateLayout, req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
		return
	}

	policy := ledger.RolloverPolicy{}
	if req.CarryCap != nil {
		capAmount, err := decimal.NewFromString(*req.CarryCap)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid carry_cap", err)
			return
		}
		policy.CarryCap = &capAmount
	}

	employees := []string{req.EmployeeID}
	if req.EmployeeID == "" {
		if lister, ok := h.Configs.(interface {
			ListEmployees(ctx context.Context) ([]string, error)
		}); ok {
			employees, err = lister.ListEmployees(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
				return
			}
		} else {
			writeError(w, http.StatusBadRequest, "employee_id is required", nil)
			return
		}
	}

	results := make([]RolloverResultDTO, 0, len(employees))
	for _, id := range employees {
		ids, err := h.Ledger.Rollover(r.Context(), id,
			ledger.BalanceType(req.From), ledger.BalanceType(req.To), asOf, policy, emp.EmployeeID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		res := RolloverResultDTO{EmployeeID: id, Transactions: make([]string, len(ids))}
		for i, txID := range ids {
			res.Transactions[i] = string(txID)
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leave.ErrNotFound), errors.Is(err, ledger.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, leave.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, leave.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient balance", err)
	case errors.Is(err, workflow.ErrMisconfigured):
		writeError(w, http.StatusUnprocessableEntity, "Workflow misconfigured", err)
	case errors.Is(err, leave.ErrInvalidTransition),
		errors.Is(err, workflow.ErrInvalidDecision),
		errors.Is(err, ledger.ErrReservationSettled),
		errors.Is(err, ledger.ErrReservationExists),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
