/*
Package memory is the in-memory store for tests and local development.

It persists leave requests, approval records and ledger transactions in one
place so a state transition and its ledger write share a single atomic
scope, mirroring what the SQLite store does with real transactions.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	lstore "github.com/cristian75IT/kronos-hrms-sub005/ledger/store"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

type Store struct {
	mu        sync.RWMutex
	requests  map[string]leave.Request
	approvals map[string]workflow.ApprovalRequest

	txns *lstore.TxMemory
}

func New() *Store {
	return &Store{
		requests:  make(map[string]leave.Request),
		approvals: make(map[string]workflow.ApprovalRequest),
		txns:      lstore.NewTxMemory(),
	}
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func (m *Store) GetRequest(_ context.Context, id string) (leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Store) getRequestLocked(id string) (leave.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, fmt.Errorf("request %s: %w", id, leave.ErrNotFound)
	}
	return r, nil
}

func (m *Store) PutRequest(_ context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Store) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return fmt.Errorf("request %s: %w", id, leave.ErrNotFound)
	}
	delete(m.requests, id)
	return nil
}

func (m *Store) ListRequestsByEmployee(_ context.Context, employeeID string) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.Request
	for _, r := range m.requests {
		if r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *Store) ListRequestsByStatus(_ context.Context, status leave.Status) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.Request
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func sortRequests(rs []leave.Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// =============================================================================
// APPROVAL RECORDS
// =============================================================================

func (m *Store) GetApproval(_ context.Context, id string) (*workflow.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getApprovalLocked(id)
}

func (m *Store) getApprovalLocked(id string) (*workflow.ApprovalRequest, error) {
	ar, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, leave.ErrNotFound)
	}
	ar.Decisions = append([]workflow.Decision(nil), ar.Decisions...)
	return &ar, nil
}

func (m *Store) PutApproval(_ context.Context, ar *workflow.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putApprovalLocked(ar)
	return nil
}

func (m *Store) putApprovalLocked(ar *workflow.ApprovalRequest) {
	cp := *ar
	cp.Decisions = append([]workflow.Decision(nil), ar.Decisions...)
	m.approvals[ar.ID] = cp
}

// =============================================================================
// LEDGER SIDE + ATOMIC SCOPE
// =============================================================================

func (m *Store) LedgerStore() ledger.Store {
	return m.txns
}

// WithTx snapshots both sides, runs fn against write-through views and rolls
// everything back if fn fails.
func (m *Store) WithTx(ctx context.Context, fn func(s leave.Store, ls ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapReq := make(map[string]leave.Request, len(m.requests))
	for k, v := range m.requests {
		snapReq[k] = v
	}
	snapAppr := make(map[string]workflow.ApprovalRequest, len(m.approvals))
	for k, v := range m.approvals {
		snapAppr[k] = v
	}

	err := m.txns.WithTx(ctx, func(ls ledger.Store) error {
		return fn(&txView{parent: m}, ls)
	})
	if err != nil {
		m.requests = snapReq
		m.approvals = snapAppr
		return err
	}
	return nil
}

// txView writes through to the parent without re-locking; the parent mutex
// is held for the whole WithTx scope.
type txView struct {
	parent *Store
}

func (tv *txView) GetRequest(_ context.Context, id string) (leave.Request, error) {
	return tv.parent.getRequestLocked(id)
}

func (tv *txView) PutRequest(_ context.Context, r leave.Request) error {
	tv.parent.requests[r.ID] = r
	return nil
}

func (tv *txView) DeleteRequest(_ context.Context, id string) error {
	if _, ok := tv.parent.requests[id]; !ok {
		return fmt.Errorf("request %s: %w", id, leave.ErrNotFound)
	}
	delete(tv.parent.requests, id)
	return nil
}

func (tv *txView) ListRequestsByEmployee(_ context.Context, employeeID string) ([]leave.Request, error) {
	var out []leave.Request
	for _, r := range tv.parent.requests {
		if r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (tv *txView) ListRequestsByStatus(_ context.Context, status leave.Status) ([]leave.Request, error) {
	var out []leave.Request
	for _, r := range tv.parent.requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (tv *txView) GetApproval(_ context.Context, id string) (*workflow.ApprovalRequest, error) {
	return tv.parent.getApprovalLocked(id)
}

func (tv *txView) PutApproval(_ context.Context, ar *workflow.ApprovalRequest) error {
	tv.parent.putApprovalLocked(ar)
	return nil
}
