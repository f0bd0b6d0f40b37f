/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  One database holds the ledger transactions, the leave requests, the
  approval records and the workflow config versions, so a state transition
  and its ledger write share a real database transaction. In production the
  same patterns apply to PostgreSQL - only minor dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:  append-only transaction persistence
  leave.TxStore: leave requests + approval records + the atomic WithTx scope

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches the transactions table; corrections are
  reversal transactions. The idempotency_key column carries a UNIQUE index
  so retried batch runs dedup at the database too, not just in memory.

WAL MODE:
  SQLite is opened with WAL so readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./data/hrms.db")   // or ":memory:" for tests
  ...
  defer store.Close()
  bl := ledger.New(store)
  sm := leave.NewStateMachine(store, bl, registry, bus)

SEE ALSO:
  - ledger/store.go, leave/store.go: interface definitions
  - store/memory: in-memory implementation with the same semantics
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// Store implements ledger.Store and leave.TxStore over one SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		balance_type TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		causal_ref TEXT,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		idempotency_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(employee_id, balance_type, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_causal_ref
		ON transactions(causal_ref) WHERE causal_ref IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_code TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day_start INTEGER NOT NULL DEFAULT 0,
		half_day_end INTEGER NOT NULL DEFAULT 0,
		days_requested TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_type TEXT NOT NULL,
		status TEXT NOT NULL,
		employee_notes TEXT,
		approver_notes TEXT,
		has_conditions INTEGER NOT NULL DEFAULT 0,
		condition_type TEXT,
		condition_details TEXT,
		condition_accepted INTEGER,
		condition_accepted_at TEXT,
		attachment_ref TEXT,
		workflow_config_id TEXT,
		approval_request_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);

	-- Approval records (snapshot frozen as JSON, decisions relational)
	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		snapshot_json TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	CREATE TABLE IF NOT EXISTS approval_decisions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		approval_id TEXT NOT NULL REFERENCES approval_requests(id),
		approver_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		notes TEXT,
		decided_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approval_decisions_approval
		ON approval_decisions(approval_id, seq);

	-- Workflow config versions (never edited in place)
	CREATE TABLE IF NOT EXISTS workflow_configs (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the unlocked helpers can
// run inside or outside a database transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER TRANSACTIONS (ledger.Store)
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTxn(ctx, s.db, tx)
}

func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTxn(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return translateBusy(sqlTx.Commit())
}

func appendTxn(ctx context.Context, q dbtx, tx ledger.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, employee_id, balance_type, tx_type, amount, balance_after,
		 causal_ref, reason, created_by, created_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID),
		tx.Account.EmployeeID,
		string(tx.Account.BalanceType),
		string(tx.Type),
		tx.Amount.String(),
		tx.BalanceAfter.String(),
		nullString(tx.CausalRef),
		tx.Reason,
		tx.CreatedBy,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullString(tx.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", translateBusy(err))
	}
	return nil
}

const txnColumns = `id, employee_id, balance_type, tx_type, amount, balance_after,
	causal_ref, reason, created_by, created_at, idempotency_key`

func (s *Store) Load(ctx context.Context, account ledger.Account) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTxns(ctx, s.db, account)
}

func loadTxns(ctx context.Context, q dbtx, account ledger.Account) ([]ledger.Transaction, error) {
	return queryTxns(ctx, q, `
		SELECT `+txnColumns+` FROM transactions
		WHERE employee_id = ? AND balance_type = ?
		ORDER BY seq ASC`,
		account.EmployeeID, string(account.BalanceType))
}

func (s *Store) LoadByCausalRef(ctx context.Context, causalRef string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTxnsByCausalRef(ctx, s.db, causalRef)
}

func loadTxnsByCausalRef(ctx context.Context, q dbtx, causalRef string) ([]ledger.Transaction, error) {
	return queryTxns(ctx, q, `
		SELECT `+txnColumns+` FROM transactions
		WHERE causal_ref = ?
		ORDER BY seq ASC`,
		causalRef)
}

func (s *Store) LoadRange(ctx context.Context, account ledger.Account, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTxnsRange(ctx, s.db, account, from, to)
}

func loadTxnsRange(ctx context.Context, q dbtx, account ledger.Account, from, to time.Time) ([]ledger.Transaction, error) {
	return queryTxns(ctx, q, `
		SELECT `+txnColumns+` FROM transactions
		WHERE employee_id = ? AND balance_type = ? AND created_at >= ? AND created_at <= ?
		ORDER BY seq ASC`,
		account.EmployeeID, string(account.BalanceType),
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keyExists(ctx, s.db, idempotencyKey)
}

// ListEmployees returns every employee with ledger or request history.
func (s *Store) ListEmployees(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id FROM transactions
		UNION
		SELECT employee_id FROM leave_requests
		ORDER BY employee_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan employee id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func keyExists(ctx context.Context, q dbtx, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryTxns(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTxn(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		id             string
		employeeID     string
		balanceType    string
		txType         string
		amount         string
		balanceAfter   string
		causalRef      sql.NullString
		reason         sql.NullString
		createdBy      sql.NullString
		createdAt      string
		idempotencyKey sql.NullString
	)
	err := rows.Scan(&id, &employeeID, &balanceType, &txType, &amount,
		&balanceAfter, &causalRef, &reason, &createdBy, &createdAt, &idempotencyKey)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ID = ledger.TransactionID(id)
	tx.Account = ledger.NewAccount(employeeID, ledger.BalanceType(balanceType))
	tx.Type = ledger.TransactionType(txType)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("corrupt amount on transaction %s: %w", id, err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return tx, fmt.Errorf("corrupt balance_after on transaction %s: %w", id, err)
	}
	tx.CausalRef = causalRef.String
	tx.Reason = reason.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	tx.IdempotencyKey = idempotencyKey.String
	return tx, nil
}

// =============================================================================
// LEAVE REQUESTS (leave.Store)
// =============================================================================

const requestColumns = `id, employee_id, leave_type_code, start_date, end_date,
	half_day_start, half_day_end, days_requested, amount, balance_type, status,
	employee_notes, approver_notes, has_conditions, condition_type,
	condition_details, condition_accepted, condition_accepted_at,
	attachment_ref, workflow_config_id, approval_request_id,
	created_at, updated_at`

func (s *Store) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q dbtx, id string) (leave.Request, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to query request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return leave.Request{}, err
		}
		return leave.Request{}, fmt.Errorf("request %s: %w", id, leave.ErrNotFound)
	}
	return scanRequest(rows)
}

func (s *Store) PutRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putRequest(ctx, s.db, r)
}

func putRequest(ctx context.Context, q dbtx, r leave.Request) error {
	var conditionAccepted any
	if r.ConditionAccepted != nil {
		conditionAccepted = boolToInt(*r.ConditionAccepted)
	}
	var conditionAcceptedAt any
	if r.ConditionAcceptedAt != nil {
		conditionAcceptedAt = r.ConditionAcceptedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employee_notes = excluded.employee_notes,
			approver_notes = excluded.approver_notes,
			has_conditions = excluded.has_conditions,
			condition_type = excluded.condition_type,
			condition_details = excluded.condition_details,
			condition_accepted = excluded.condition_accepted,
			condition_accepted_at = excluded.condition_accepted_at,
			balance_type = excluded.balance_type,
			workflow_config_id = excluded.workflow_config_id,
			approval_request_id = excluded.approval_request_id,
			updated_at = excluded.updated_at`,
		r.ID, r.EmployeeID, r.LeaveTypeCode,
		r.StartDate.UTC().Format(time.RFC3339),
		r.EndDate.UTC().Format(time.RFC3339),
		boolToInt(r.HalfDayStart), boolToInt(r.HalfDayEnd),
		r.DaysRequested.String(), r.Amount.String(), string(r.BalanceType),
		string(r.Status), r.EmployeeNotes, r.ApproverNotes,
		boolToInt(r.HasConditions), r.ConditionType, r.ConditionDetails,
		conditionAccepted, conditionAcceptedAt,
		r.AttachmentRef, r.WorkflowConfigID, r.ApprovalRequestID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store request %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRequest(ctx, s.db, id)
}

func deleteRequest(ctx context.Context, q dbtx, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s: %w", id, leave.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, `employee_id = ?`, employeeID)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status leave.Status) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, `status = ?`, string(status))
}

func listRequests(ctx context.Context, q dbtx, where string, args ...any) ([]leave.Request, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM leave_requests
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(rows *sql.Rows) (leave.Request, error) {
	var (
		r                   leave.Request
		startDate           string
		endDate             string
		halfStart           int
		halfEnd             int
		daysRequested       string
		amount              string
		balanceType         string
		status              string
		employeeNotes       sql.NullString
		approverNotes       sql.NullString
		hasConditions       int
		conditionType       sql.NullString
		conditionDetails    sql.NullString
		conditionAccepted   sql.NullInt64
		conditionAcceptedAt sql.NullString
		attachmentRef       sql.NullString
		workflowConfigID    sql.NullString
		approvalRequestID   sql.NullString
		createdAt           string
		updatedAt           string
	)
	err := rows.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeCode, &startDate, &endDate,
		&halfStart, &halfEnd, &daysRequested, &amount, &balanceType, &status,
		&employeeNotes, &approverNotes, &hasConditions, &conditionType,
		&conditionDetails, &conditionAccepted, &conditionAcceptedAt,
		&attachmentRef, &workflowConfigID, &approvalRequestID,
		&createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan request: %w", err)
	}

	r.StartDate, _ = time.Parse(time.RFC3339, startDate)
	r.EndDate, _ = time.Parse(time.RFC3339, endDate)
	r.HalfDayStart = halfStart != 0
	r.HalfDayEnd = halfEnd != 0
	if r.DaysRequested, err = decimal.NewFromString(daysRequested); err != nil {
		return r, fmt.Errorf("corrupt days_requested on request %s: %w", r.ID, err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return r, fmt.Errorf("corrupt amount on request %s: %w", r.ID, err)
	}
	r.BalanceType = ledger.BalanceType(balanceType)
	r.Status = leave.Status(status)
	r.EmployeeNotes = employeeNotes.String
	r.ApproverNotes = approverNotes.String
	r.HasConditions = hasConditions != 0
	r.ConditionType = conditionType.String
	r.ConditionDetails = conditionDetails.String
	if conditionAccepted.Valid {
		accepted := conditionAccepted.Int64 != 0
		r.ConditionAccepted = &accepted
	}
	if conditionAcceptedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, conditionAcceptedAt.String)
		r.ConditionAcceptedAt = &t
	}
	r.AttachmentRef = attachmentRef.String
	r.WorkflowConfigID = workflowConfigID.String
	r.ApprovalRequestID = approvalRequestID.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, nil
}

// =============================================================================
// APPROVAL RECORDS (leave.Store)
// =============================================================================

func (s *Store) GetApproval(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getApproval(ctx, s.db, id)
}

func getApproval(ctx context.Context, q dbtx, id string) (*workflow.ApprovalRequest, error) {
	var (
		snapshotJSON string
		status       string
		createdAt    string
		decidedAt    sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT snapshot_json, status, created_at, decided_at
		FROM approval_requests WHERE id = ?`, id).
		Scan(&snapshotJSON, &status, &createdAt, &decidedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval %s: %w", id, leave.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query approval: %w", err)
	}

	ar := &workflow.ApprovalRequest{ID: id, Status: workflow.Status(status)}
	if err := json.Unmarshal([]byte(snapshotJSON), &ar.Snapshot); err != nil {
		return nil, fmt.Errorf("corrupt snapshot on approval %s: %w", id, err)
	}
	ar.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, decidedAt.String)
		ar.DecidedAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT approver_id, kind, notes, decided_at
		FROM approval_decisions WHERE approval_id = ?
		ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d     workflow.Decision
			kind  string
			notes sql.NullString
			at    string
		)
		if err := rows.Scan(&d.ApproverID, &kind, &notes, &at); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Kind = workflow.DecisionKind(kind)
		d.Notes = notes.String
		d.At, _ = time.Parse(time.RFC3339Nano, at)
		ar.Decisions = append(ar.Decisions, d)
	}
	return ar, rows.Err()
}

func (s *Store) PutApproval(ctx context.Context, ar *workflow.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := putApproval(ctx, sqlTx, ar); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func putApproval(ctx context.Context, q dbtx, ar *workflow.ApprovalRequest) error {
	snapshotJSON, err := json.Marshal(ar.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var decidedAt any
	if ar.DecidedAt != nil {
		decidedAt = ar.DecidedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO approval_requests (id, snapshot_json, status, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_at = excluded.decided_at`,
		ar.ID, string(snapshotJSON), string(ar.Status),
		ar.CreatedAt.UTC().Format(time.RFC3339Nano), decidedAt)
	if err != nil {
		return fmt.Errorf("failed to store approval %s: %w", ar.ID, err)
	}

	// Decisions only ever grow; rewriting the list keeps the persistence
	// dumb and the ordering authoritative.
	if _, err := q.ExecContext(ctx, `DELETE FROM approval_decisions WHERE approval_id = ?`, ar.ID); err != nil {
		return fmt.Errorf("failed to clear decisions for %s: %w", ar.ID, err)
	}
	for _, d := range ar.Decisions {
		_, err := q.ExecContext(ctx, `
			INSERT INTO approval_decisions (approval_id, approver_id, kind, notes, decided_at)
			VALUES (?, ?, ?, ?, ?)`,
			ar.ID, d.ApproverID, string(d.Kind), d.Notes,
			d.At.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to store decision for %s: %w", ar.ID, err)
		}
	}
	return nil
}

// =============================================================================
// WORKFLOW CONFIG VERSIONS
// =============================================================================

// PutWorkflowConfig records one config version. Versions are immutable rows;
// registering again writes a new (id, version) pair.
func (s *Store) PutWorkflowConfig(ctx context.Context, cfg workflow.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_configs (id, version, config_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id, version) DO NOTHING`,
		cfg.ID, cfg.Version, string(configJSON),
		cfg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store workflow config %s: %w", cfg.ID, err)
	}
	return nil
}

// ListWorkflowConfigs returns the latest version of every config, for
// seeding the registry at startup.
func (s *Store) ListWorkflowConfigs(ctx context.Context) ([]workflow.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT config_json FROM workflow_configs w
		WHERE version = (SELECT MAX(version) FROM workflow_configs WHERE id = w.id)
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow configs: %w", err)
	}
	defer rows.Close()

	var out []workflow.Config
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		var cfg workflow.Config
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			return nil, fmt.Errorf("corrupt workflow config row: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// =============================================================================
// ATOMIC SCOPE (leave.TxStore)
// =============================================================================

// LedgerStore exposes the ledger side of this store.
func (s *Store) LedgerStore() ledger.Store {
	return s
}

// WithTx runs fn inside one database transaction. Writes through either view
// commit together or roll back together.
func (s *Store) WithTx(ctx context.Context, fn func(ls leave.Store, lgs ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txView{tx: sqlTx}
	if err := fn(view, view); err != nil {
		return err
	}
	return translateBusy(sqlTx.Commit())
}

// txView routes both stores' operations through one *sql.Tx. It never takes
// the store mutex; the parent holds it for the whole WithTx scope.
type txView struct {
	tx *sql.Tx
}

func (tv *txView) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTxn(ctx, tv.tx, tx)
}

func (tv *txView) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := appendTxn(ctx, tv.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txView) Load(ctx context.Context, account ledger.Account) ([]ledger.Transaction, error) {
	return loadTxns(ctx, tv.tx, account)
}

func (tv *txView) LoadByCausalRef(ctx context.Context, causalRef string) ([]ledger.Transaction, error) {
	return loadTxnsByCausalRef(ctx, tv.tx, causalRef)
}

func (tv *txView) LoadRange(ctx context.Context, account ledger.Account, from, to time.Time) ([]ledger.Transaction, error) {
	return loadTxnsRange(ctx, tv.tx, account, from, to)
}

func (tv *txView) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return keyExists(ctx, tv.tx, idempotencyKey)
}

func (tv *txView) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	return getRequest(ctx, tv.tx, id)
}

func (tv *txView) PutRequest(ctx context.Context, r leave.Request) error {
	return putRequest(ctx, tv.tx, r)
}

func (tv *txView) DeleteRequest(ctx context.Context, id string) error {
	return deleteRequest(ctx, tv.tx, id)
}

func (tv *txView) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]leave.Request, error) {
	return listRequests(ctx, tv.tx, `employee_id = ?`, employeeID)
}

func (tv *txView) ListRequestsByStatus(ctx context.Context, status leave.Status) ([]leave.Request, error) {
	return listRequests(ctx, tv.tx, `status = ?`, string(status))
}

func (tv *txView) GetApproval(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	return getApproval(ctx, tv.tx, id)
}

func (tv *txView) PutApproval(ctx context.Context, ar *workflow.ApprovalRequest) error {
	return putApproval(ctx, tv.tx, ar)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translateBusy maps driver-level write contention (another process holds the
// database lock) to the ledger's retryable error.
func translateBusy(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err)
	}
	return err
}
