// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	byAccount   map[ledger.Account][]ledger.Transaction
	byCausalRef map[string][]ledger.Transaction
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		byAccount:   make(map[ledger.Account][]ledger.Transaction),
		byCausalRef: make(map[string][]ledger.Transaction),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}
	m.byAccount[tx.Account] = append(m.byAccount[tx.Account], tx)
	if tx.CausalRef != "" {
		m.byCausalRef[tx.CausalRef] = append(m.byCausalRef[tx.CausalRef], tx)
	}
	return nil
}

func (m *Memory) Load(_ context.Context, account ledger.Account) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.byAccount[account]))
	copy(result, m.byAccount[account])
	return result, nil
}

func (m *Memory) LoadByCausalRef(_ context.Context, causalRef string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.byCausalRef[causalRef]))
	copy(result, m.byCausalRef[causalRef])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, account ledger.Account, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.byAccount[account] {
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	byAccount   map[ledger.Account][]ledger.Transaction
	byCausalRef map[string][]ledger.Transaction
	idempotency map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		byAccount:   make(map[ledger.Account][]ledger.Transaction, len(tm.byAccount)),
		byCausalRef: make(map[string][]ledger.Transaction, len(tm.byCausalRef)),
		idempotency: make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.byAccount {
		s.byAccount[k] = append([]ledger.Transaction{}, v...)
	}
	for k, v := range tm.byCausalRef {
		s.byCausalRef[k] = append([]ledger.Transaction{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.byAccount = s.byAccount
	tm.byCausalRef = s.byCausalRef
	tm.idempotency = s.idempotency
}

// txMemoryView writes through to the parent without re-locking; the parent
// mutex is held for the whole WithTx scope.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := tv.parent.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txMemoryView) Load(_ context.Context, account ledger.Account) ([]ledger.Transaction, error) {
	return tv.parent.byAccount[account], nil
}

func (tv *txMemoryView) LoadByCausalRef(_ context.Context, causalRef string) ([]ledger.Transaction, error) {
	return tv.parent.byCausalRef[causalRef], nil
}

func (tv *txMemoryView) LoadRange(_ context.Context, account ledger.Account, from, to time.Time) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range tv.parent.byAccount[account] {
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
