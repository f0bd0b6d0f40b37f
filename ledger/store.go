/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): single transaction write
  - AppendBatch(): atomic multi-transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Writes carry an optional idempotency key. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey, which is how retried
  rollover runs become no-ops.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (also persists requests/approvals)
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Fails with ErrDuplicateIdempotencyKey if
	// the idempotency key already exists. This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for an account in append order.
	Load(ctx context.Context, account Account) ([]Transaction, error)

	// LoadByCausalRef returns all transactions that reference the given
	// causal reference (request ID, batch run ID), in append order.
	LoadByCausalRef(ctx context.Context, causalRef string) ([]Transaction, error)

	// LoadRange returns the account's transactions with CreatedAt in [from, to].
	LoadRange(ctx context.Context, account Account, from, to time.Time) ([]Transaction, error)

	// Exists checks whether an idempotency key was already written.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore wraps Store with transaction support. Use this when a ledger write
// must be atomic with other state (request status, approval decisions).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
