/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

CONVENTIONS:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - Monetary-like quantities (days, hours) travel as decimal strings so no
    precision is lost crossing the wire
  - Dates are YYYY-MM-DD; timestamps are RFC3339

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup and middleware
*/
package api

import (
	"time"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

const dateLayout = "2006-01-02"

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// CreateDraftRequest is the body for creating a new draft leave request. The
// acting employee comes from the identity header, never from the body.
type CreateDraftRequest struct {
	LeaveTypeCode string `json:"leave_type_code"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	HalfDayStart  bool   `json:"half_day_start"`
	HalfDayEnd    bool   `json:"half_day_end"`
	Notes         string `json:"notes,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

// RequestDTO is a leave request in API responses.
type RequestDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	LeaveTypeCode string `json:"leave_type_code"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	HalfDayStart  bool   `json:"half_day_start"`
	HalfDayEnd    bool   `json:"half_day_end"`
	DaysRequested string `json:"days_requested"`
	Amount        string `json:"amount"`
	BalanceType   string `json:"balance_type"`
	Status        string `json:"status"`

	EmployeeNotes string `json:"employee_notes,omitempty"`
	ApproverNotes string `json:"approver_notes,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`

	HasConditions       bool    `json:"has_conditions"`
	ConditionType       string  `json:"condition_type,omitempty"`
	ConditionDetails    string  `json:"condition_details,omitempty"`
	ConditionAccepted   *bool   `json:"condition_accepted,omitempty"`
	ConditionAcceptedAt *string `json:"condition_accepted_at,omitempty"`

	WorkflowConfigID  string `json:"workflow_config_id,omitempty"`
	ApprovalRequestID string `json:"approval_request_id,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// DecisionRequest carries an approve or reject vote.
type DecisionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ConditionalDecisionRequest carries a conditional approval.
type ConditionalDecisionRequest struct {
	ConditionType string `json:"condition_type"`
	Details       string `json:"details"`
}

// ConditionResponseRequest is the employee's answer to a conditional
// approval.
type ConditionResponseRequest struct {
	Accept bool `json:"accept"`
}

// RevokeRequest controls whether a revoked approval reopens for a fresh
// approval round or lands on cancelled.
type RevokeRequest struct {
	Reopen bool `json:"reopen"`
}

// =============================================================================
// APPROVALS
// =============================================================================

// ApprovalDTO exposes the approval record bound to a request, including the
// frozen policy snapshot and the decision history.
type ApprovalDTO struct {
	ID              string        `json:"id"`
	Status          string        `json:"status"`
	Mode            string        `json:"mode"`
	MinApprovers    int           `json:"min_approvers"`
	ExpirationHours int           `json:"expiration_hours"`
	Approvers       []string      `json:"approvers"`
	NextApprover    string        `json:"next_approver,omitempty"`
	Decisions       []DecisionDTO `json:"decisions"`
	CreatedAt       string        `json:"created_at"`
	DecidedAt       *string       `json:"decided_at,omitempty"`
}

// DecisionDTO is one recorded approver decision.
type DecisionDTO struct {
	ApproverID string `json:"approver_id"`
	Kind       string `json:"kind"`
	Notes      string `json:"notes,omitempty"`
	At         string `json:"at"`
}

// =============================================================================
// BALANCES + TRANSACTIONS
// =============================================================================

// BalanceSummaryDTO reports every bucket an employee holds.
type BalanceSummaryDTO struct {
	EmployeeID string             `json:"employee_id"`
	AsOf       string             `json:"as_of"`
	Buckets    []BucketBalanceDTO `json:"buckets"`
}

// BucketBalanceDTO is the state of one balance bucket.
type BucketBalanceDTO struct {
	BalanceType string `json:"balance_type"`
	Unit        string `json:"unit"`
	Balance     string `json:"balance"`
	Reserved    string `json:"reserved"`
	Available   string `json:"available"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID           string `json:"id"`
	EmployeeID   string `json:"employee_id"`
	BalanceType  string `json:"balance_type"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	CausalRef    string `json:"causal_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustmentRequest is a signed manual correction to one bucket.
type AdjustmentRequest struct {
	EmployeeID  string `json:"employee_id"`
	BalanceType string `json:"balance_type"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason"`
}

// AccrualRequest credits an entitlement grant to one bucket.
type AccrualRequest struct {
	EmployeeID  string `json:"employee_id"`
	BalanceType string `json:"balance_type"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference,omitempty"`
	Reason      string `json:"reason"`
}

// RolloverRequest triggers a bucket rollover for one employee or, with an
// empty employee_id, for everyone known to the ledger.
type RolloverRequest struct {
	EmployeeID string  `json:"employee_id,omitempty"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	AsOf       string  `json:"as_of"`
	CarryCap   *string `json:"carry_cap,omitempty"`
}

// RolloverResultDTO reports the transactions one rollover run appended.
// Replayed runs come back with an empty transaction list.
type RolloverResultDTO struct {
	EmployeeID   string   `json:"employee_id"`
	Transactions []string `json:"transactions"`
}

// =============================================================================
// WORKFLOW CONFIGS
// =============================================================================

// WorkflowConfigDTO is a named approval policy in API responses.
type WorkflowConfigDTO struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Mode                string   `json:"mode"`
	MinApprovers        int      `json:"min_approvers"`
	TargetRoleIDs       []string `json:"target_role_ids,omitempty"`
	ExpirationHours     int      `json:"expiration_hours"`
	LeaveTypeCode       string   `json:"leave_type_code,omitempty"`
	AppliesToRoles      []string `json:"applies_to_roles,omitempty"`
	AppliesToDepartment string   `json:"applies_to_department,omitempty"`
	Priority            int      `json:"priority"`
	Version             int      `json:"version"`
	CreatedAt           string   `json:"created_at,omitempty"`
}

// CreateWorkflowConfigRequest registers a new policy or a new version of an
// existing one.
type CreateWorkflowConfigRequest struct {
	ID                  string   `json:"id,omitempty"`
	Name                string   `json:"name"`
	Mode                string   `json:"mode"`
	MinApprovers        int      `json:"min_approvers"`
	TargetRoleIDs       []string `json:"target_role_ids,omitempty"`
	ExpirationHours     int      `json:"expiration_hours"`
	LeaveTypeCode       string   `json:"leave_type_code,omitempty"`
	AppliesToRoles      []string `json:"applies_to_roles,omitempty"`
	AppliesToDepartment string   `json:"applies_to_department,omitempty"`
	Priority            int      `json:"priority"`
}

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRequestDTO(r leave.Request) RequestDTO {
	dto := RequestDTO{
		ID:                r.ID,
		EmployeeID:        r.EmployeeID,
		LeaveTypeCode:     r.LeaveTypeCode,
		StartDate:         r.StartDate.Format(dateLayout),
		EndDate:           r.EndDate.Format(dateLayout),
		HalfDayStart:      r.HalfDayStart,
		HalfDayEnd:        r.HalfDayEnd,
		DaysRequested:     r.DaysRequested.String(),
		Amount:            r.Amount.String(),
		BalanceType:       string(r.BalanceType),
		Status:            string(r.Status),
		EmployeeNotes:     r.EmployeeNotes,
		ApproverNotes:     r.ApproverNotes,
		AttachmentRef:     r.AttachmentRef,
		HasConditions:     r.HasConditions,
		ConditionType:     r.ConditionType,
		ConditionDetails:  r.ConditionDetails,
		ConditionAccepted: r.ConditionAccepted,
		WorkflowConfigID:  r.WorkflowConfigID,
		ApprovalRequestID: r.ApprovalRequestID,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         r.UpdatedAt.Format(time.RFC3339),
	}
	if r.ConditionAcceptedAt != nil {
		s := r.ConditionAcceptedAt.Format(time.RFC3339)
		dto.ConditionAcceptedAt = &s
	}
	return dto
}

func toRequestDTOs(rs []leave.Request) []RequestDTO {
	dtos := make([]RequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toApprovalDTO(ar *workflow.ApprovalRequest) ApprovalDTO {
	dto := ApprovalDTO{
		ID:              ar.ID,
		Status:          string(ar.Status),
		Mode:            string(ar.Snapshot.Mode),
		MinApprovers:    ar.Snapshot.MinApprovers,
		ExpirationHours: ar.Snapshot.ExpirationHours,
		Approvers:       ar.Snapshot.Approvers,
		Decisions:       make([]DecisionDTO, len(ar.Decisions)),
		CreatedAt:       ar.CreatedAt.Format(time.RFC3339),
	}
	if ar.Snapshot.Mode == workflow.ModeSequential && ar.Status == workflow.StatusOpen {
		dto.NextApprover = ar.NextApprover()
	}
	for i, d := range ar.Decisions {
		dto.Decisions[i] = DecisionDTO{
			ApproverID: d.ApproverID,
			Kind:       string(d.Kind),
			Notes:      d.Notes,
			At:         d.At.Format(time.RFC3339),
		}
	}
	if ar.DecidedAt != nil {
		s := ar.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

func toBucketBalanceDTO(s ledger.Summary) BucketBalanceDTO {
	return BucketBalanceDTO{
		BalanceType: string(s.Account.BalanceType),
		Unit:        string(ledger.UnitOf(s.Account.BalanceType)),
		Balance:     s.Balance.String(),
		Reserved:    s.Reserved.String(),
		Available:   s.Available.String(),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		EmployeeID:   tx.Account.EmployeeID,
		BalanceType:  string(tx.Account.BalanceType),
		Type:         string(tx.Type),
		Amount:       tx.Amount.String(),
		BalanceAfter: tx.BalanceAfter.String(),
		CausalRef:    tx.CausalRef,
		Reason:       tx.Reason,
		CreatedBy:    tx.CreatedBy,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toWorkflowConfigDTO(cfg workflow.Config) WorkflowConfigDTO {
	dto := WorkflowConfigDTO{
		ID:                  cfg.ID,
		Name:                cfg.Name,
		Mode:                string(cfg.Mode),
		MinApprovers:        cfg.MinApprovers,
		TargetRoleIDs:       cfg.TargetRoleIDs,
		ExpirationHours:     cfg.ExpirationHours,
		LeaveTypeCode:       cfg.LeaveTypeCode,
		AppliesToRoles:      cfg.AppliesToRoles,
		AppliesToDepartment: cfg.AppliesToDepartment,
		Priority:            cfg.Priority,
		Version:             cfg.Version,
	}
	if !cfg.CreatedAt.IsZero() {
		dto.CreatedAt = cfg.CreatedAt.Format(time.RFC3339)
	}
	return dto
}
