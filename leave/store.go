package leave

import (
	"context"

	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// Store persists leave requests and their approval records.
type Store interface {
	GetRequest(ctx context.Context, id string) (Request, error)
	PutRequest(ctx context.Context, r Request) error
	DeleteRequest(ctx context.Context, id string) error
	ListRequestsByEmployee(ctx context.Context, employeeID string) ([]Request, error)
	ListRequestsByStatus(ctx context.Context, status Status) ([]Request, error)

	GetApproval(ctx context.Context, id string) (*workflow.ApprovalRequest, error)
	PutApproval(ctx context.Context, ar *workflow.ApprovalRequest) error
}

// TxStore couples the leave store with the balance ledger store so a state
// transition and its ledger transaction commit or roll back together.
type TxStore interface {
	Store

	// LedgerStore returns the ledger side of this store for non-transactional
	// ledger access (queries, admin operations).
	LedgerStore() ledger.Store

	// WithTx runs fn inside one atomic scope. Writes through either view are
	// all-or-nothing: if fn returns an error, nothing is applied.
	WithTx(ctx context.Context, fn func(s Store, ls ledger.Store) error) error
}
