/*
ledger.go - The balance ledger mutation API

PURPOSE:
  BalanceLedger is the single writer for all balance changes. Every workflow
  transition in the leave package lands here as exactly one of:

    Reserve  - provisional debit at submission (fails fast if short)
    Commit   - relabel a reservation as a final deduction on approval
    Release  - reversing credit when a pending request dies
    Refund   - compensating credit when an approved request is undone
    Adjust   - manual administrative correction
    Accrue   - entitlement credit
    Rollover - year-boundary expire/carry batch

CRITICAL INVARIANTS:
  1. Balance(now) == Σ transaction amounts, always.
  2. A causal reference has at most ONE open reservation.
  3. A reservation is settled exactly once (commit or release, never both).
  4. Reservations never take an account negative; adjustments may.

WHY COMMIT IS A ZERO-AMOUNT TRANSACTION:
  Reservations are real negative transactions - the balance is already
  reduced when the request is pending. If commit subtracted again the
  employee would pay twice. So commit appends a LEAVE_DEDUCTION/ROL_DEDUCTION
  with amount zero: it changes the lineage (the reservation is now consumed,
  not releasable), not the balance.

CONCURRENCY:
  All mutations for an account are serialized through a per-account lock, so
  the reserve check-then-write is atomic: two concurrent submissions racing
  for the last days cannot both pass the non-negativity check. Reads for
  display go through the same store but take no lock.

  Lock order is account lock first, store access second, everywhere. A store
  transaction holds the store's own mutex for its whole scope, so a caller
  that mutates the ledger inside one must acquire the account lock BEFORE
  opening the transaction: use Locked, which pre-acquires the lock and hands
  fn a view that skips per-account locking.
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOCK TABLE - Per-account serialization point
// =============================================================================

type lockTable struct {
	mu    sync.Mutex
	locks map[Account]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[Account]*sync.Mutex)}
}

func (lt *lockTable) lock(a Account) *sync.Mutex {
	lt.mu.Lock()
	m, ok := lt.locks[a]
	if !ok {
		m = &sync.Mutex{}
		lt.locks[a] = m
	}
	lt.mu.Unlock()
	m.Lock()
	return m
}

// lockPair acquires two account locks in deterministic order (rollover touches
// the AP and AC buckets together).
func (lt *lockTable) lockPair(a, b Account) func() {
	first, second := a, b
	if second.String() < first.String() {
		first, second = second, first
	}
	m1 := lt.lock(first)
	if first == second {
		return m1.Unlock
	}
	m2 := lt.lock(second)
	return func() { m2.Unlock(); m1.Unlock() }
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

type BalanceLedger struct {
	store Store
	locks *lockTable

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

func New(store Store) *BalanceLedger {
	return &BalanceLedger{store: store, locks: newLockTable(), Now: time.Now}
}

// WithStore returns a view of the ledger writing through a different store
// (typically a database transaction) while sharing the same lock table, so
// serialization guarantees hold across transactional and plain writes. A
// view derived from a Locked callback stays lock-free.
func (l *BalanceLedger) WithStore(s Store) *BalanceLedger {
	return &BalanceLedger{store: s, locks: l.locks, Now: l.Now}
}

// Locked acquires the account lock and runs fn with a view of the ledger
// that skips per-account locking. This is how a caller mutates the ledger
// inside a store transaction without inverting the account-before-store
// lock order: lock the account here, then open the transaction inside fn.
func (l *BalanceLedger) Locked(account Account, fn func(*BalanceLedger) error) error {
	defer l.lockAccount(account)()
	return fn(&BalanceLedger{store: l.store, locks: nil, Now: l.Now})
}

// lockAccount returns the unlock func, or a no-op on a Locked view.
func (l *BalanceLedger) lockAccount(a Account) func() {
	if l.locks == nil {
		return func() {}
	}
	m := l.locks.lock(a)
	return m.Unlock
}

func (l *BalanceLedger) lockAccountPair(a, b Account) func() {
	if l.locks == nil {
		return func() {}
	}
	return l.locks.lockPair(a, b)
}

// =============================================================================
// RESERVE - Provisional debit, the only balance-validated operation
// =============================================================================

// Reserve holds amount against the account for the given causal reference.
// Fails with InsufficientBalanceError if the current balance cannot cover it,
// and with ErrReservationExists if the reference already holds an open
// reservation. amount must be positive.
func (l *BalanceLedger) Reserve(ctx context.Context, account Account, amount decimal.Decimal, causalRef, actor string) (TransactionID, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("reserve amount must be positive, got %s", amount)
	}

	defer l.lockAccount(account)()

	refTxs, err := l.store.LoadByCausalRef(ctx, causalRef)
	if err != nil {
		return "", fmt.Errorf("failed to load reservation lineage: %w", err)
	}
	if res := openReservation(refTxs); res != nil {
		return "", fmt.Errorf("reserve %q: %w", causalRef, ErrReservationExists)
	}

	balance, err := l.balanceOf(ctx, account)
	if err != nil {
		return "", err
	}
	if balance.LessThan(amount) {
		return "", &InsufficientBalanceError{
			Account:   account,
			Available: balance,
			Requested: amount,
			Shortfall: amount.Sub(balance),
		}
	}

	tx := Transaction{
		ID:           newTransactionID(),
		Account:      account,
		Type:         TxReservation,
		Amount:       amount.Neg(),
		BalanceAfter: balance.Sub(amount),
		CausalRef:    causalRef,
		Reason:       "reservation for pending request",
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record reservation: %w", err)
	}
	return tx.ID, nil
}

// =============================================================================
// COMMIT / RELEASE - Settling a reservation (exactly once)
// =============================================================================

// Commit converts the open reservation for causalRef into a final deduction.
// The reservation's amount is NOT re-subtracted; commit appends a zero-amount
// LEAVE_DEDUCTION (or ROL_DEDUCTION for ROL accounts) that marks the
// reservation consumed for audit purposes.
func (l *BalanceLedger) Commit(ctx context.Context, causalRef, actor string) (TransactionID, error) {
	res, err := l.requireOpenReservation(ctx, causalRef)
	if err != nil {
		return "", err
	}

	defer l.lockAccount(res.Account)()

	balance, err := l.balanceOf(ctx, res.Account)
	if err != nil {
		return "", err
	}

	tx := Transaction{
		ID:           newTransactionID(),
		Account:      res.Account,
		Type:         DeductionTypeFor(res.Account.BalanceType),
		Amount:       decimal.Zero,
		BalanceAfter: balance,
		CausalRef:    causalRef,
		Reason:       fmt.Sprintf("reservation %s committed on approval", res.ID),
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record commit: %w", err)
	}
	return tx.ID, nil
}

// Release reverses the open reservation for causalRef with a positive
// CANCEL_RESERVATION transaction. Used on rejection, cancellation of a
// pending request, decline of conditions, and workflow expiration.
func (l *BalanceLedger) Release(ctx context.Context, causalRef, reason, actor string) (TransactionID, error) {
	res, err := l.requireOpenReservation(ctx, causalRef)
	if err != nil {
		return "", err
	}

	defer l.lockAccount(res.Account)()

	balance, err := l.balanceOf(ctx, res.Account)
	if err != nil {
		return "", err
	}

	amount := res.Amount.Neg() // reservation is negative; reverse it
	tx := Transaction{
		ID:           newTransactionID(),
		Account:      res.Account,
		Type:         TxCancelReservation,
		Amount:       amount,
		BalanceAfter: balance.Add(amount),
		CausalRef:    causalRef,
		Reason:       reason,
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record release: %w", err)
	}
	return tx.ID, nil
}

// Refund issues a compensating credit against an account for a request whose
// reservation was already committed (cancel of an approved request, recall,
// revocation). amount must be positive; partial refunds are allowed.
func (l *BalanceLedger) Refund(ctx context.Context, account Account, amount decimal.Decimal, causalRef, reason, actor string) (TransactionID, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("refund amount must be positive, got %s", amount)
	}

	defer l.lockAccount(account)()

	balance, err := l.balanceOf(ctx, account)
	if err != nil {
		return "", err
	}

	tx := Transaction{
		ID:           newTransactionID(),
		Account:      account,
		Type:         TxCancelReservation,
		Amount:       amount,
		BalanceAfter: balance.Add(amount),
		CausalRef:    causalRef,
		Reason:       reason,
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record refund: %w", err)
	}
	return tx.ID, nil
}

// =============================================================================
// ADJUST / ACCRUE - Unvalidated credits and debits
// =============================================================================

// Adjust applies a manual correction. Always permitted, never validated
// against non-negativity: this is the administrative override path.
func (l *BalanceLedger) Adjust(ctx context.Context, account Account, signedAmount decimal.Decimal, reason, actor string) (TransactionID, error) {
	if signedAmount.IsZero() {
		return "", fmt.Errorf("adjustment amount must be non-zero")
	}

	defer l.lockAccount(account)()

	balance, err := l.balanceOf(ctx, account)
	if err != nil {
		return "", err
	}

	txType := TxAdjustmentAdd
	if signedAmount.IsNegative() {
		txType = TxAdjustmentSub
	}
	tx := Transaction{
		ID:           newTransactionID(),
		Account:      account,
		Type:         txType,
		Amount:       signedAmount,
		BalanceAfter: balance.Add(signedAmount),
		CausalRef:    "adjustment:" + actor,
		Reason:       reason,
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record adjustment: %w", err)
	}
	return tx.ID, nil
}

// Accrue credits an entitlement (annual grant, onboarding seed).
func (l *BalanceLedger) Accrue(ctx context.Context, account Account, amount decimal.Decimal, causalRef, reason, actor string) (TransactionID, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("accrual amount must be positive, got %s", amount)
	}

	defer l.lockAccount(account)()

	balance, err := l.balanceOf(ctx, account)
	if err != nil {
		return "", err
	}

	tx := Transaction{
		ID:           newTransactionID(),
		Account:      account,
		Type:         TxAccrual,
		Amount:       amount,
		BalanceAfter: balance.Add(amount),
		CausalRef:    causalRef,
		Reason:       reason,
		CreatedBy:    actor,
		CreatedAt:    l.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to record accrual: %w", err)
	}
	return tx.ID, nil
}

// =============================================================================
// ROLLOVER - Year-boundary expire/carry (idempotent batch operation)
// =============================================================================

// RolloverPolicy controls the carry-forward at the year boundary.
type RolloverPolicy struct {
	// CarryCap limits how much moves to the new bucket. nil = no carry at
	// all (the whole remaining balance expires).
	CarryCap *decimal.Decimal
}

// Rollover expires the remaining balance of the `from` bucket as of the given
// date and, if the policy allows carry-forward, credits the capped remainder
// to the `to` bucket. Idempotent per (employee, from bucket, asOf date):
// replaying the same run appends nothing and returns no transactions.
func (l *BalanceLedger) Rollover(ctx context.Context, employeeID string, from, to BalanceType, asOf time.Time, policy RolloverPolicy, actor string) ([]TransactionID, error) {
	fromAcct := NewAccount(employeeID, from)
	toAcct := NewAccount(employeeID, to)
	runRef := fmt.Sprintf("rollover:%s:%s:%s", employeeID, from, asOf.Format("2006-01-02"))

	defer l.lockAccountPair(fromAcct, toAcct)()

	// Idempotence: the marker transaction's key is the dedup anchor.
	done, err := l.store.Exists(ctx, runRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check rollover idempotency: %w", err)
	}
	if done {
		return nil, nil
	}

	balance, err := l.balanceOf(ctx, fromAcct)
	if err != nil {
		return nil, err
	}

	now := l.Now()
	var txs []Transaction

	if balance.IsPositive() {
		carry := decimal.Zero
		if policy.CarryCap != nil {
			carry = decimal.Min(balance, *policy.CarryCap)
		}

		txs = append(txs, Transaction{
			ID:             newTransactionID(),
			Account:        fromAcct,
			Type:           TxExpiration,
			Amount:         balance.Neg(),
			BalanceAfter:   decimal.Zero,
			CausalRef:      runRef,
			Reason:         fmt.Sprintf("bucket %s closed at %s", from, asOf.Format("2006-01-02")),
			CreatedBy:      actor,
			CreatedAt:      now,
			IdempotencyKey: runRef + ":expire",
		})

		if carry.IsPositive() {
			toBalance, err := l.balanceOf(ctx, toAcct)
			if err != nil {
				return nil, err
			}
			txs = append(txs, Transaction{
				ID:             newTransactionID(),
				Account:        toAcct,
				Type:           TxAccrual,
				Amount:         carry,
				BalanceAfter:   toBalance.Add(carry),
				CausalRef:      runRef,
				Reason:         fmt.Sprintf("carry-forward from %s", from),
				CreatedBy:      actor,
				CreatedAt:      now,
				IdempotencyKey: runRef + ":carry",
			})
		}
	}

	// Zero-amount run marker: records that the rollover happened even when
	// there was nothing to move, and anchors the idempotency check. A
	// non-positive balance is not expired, so it survives the run and the
	// marker snapshot must say so.
	fromAfter := decimal.Zero
	if !balance.IsPositive() {
		fromAfter = balance
	}
	txs = append(txs, Transaction{
		ID:             newTransactionID(),
		Account:        fromAcct,
		Type:           TxRollover,
		Amount:         decimal.Zero,
		BalanceAfter:   fromAfter,
		CausalRef:      runRef,
		Reason:         fmt.Sprintf("rollover run for %s as of %s", from, asOf.Format("2006-01-02")),
		CreatedBy:      actor,
		CreatedAt:      now,
		IdempotencyKey: runRef,
	})

	if err := l.store.AppendBatch(ctx, txs); err != nil {
		return nil, fmt.Errorf("failed to record rollover: %w", err)
	}

	ids := make([]TransactionID, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return ids, nil
}

// =============================================================================
// QUERIES - Replay-based, read-only
// =============================================================================

// Balance returns the current balance (Σ of all transaction amounts).
func (l *BalanceLedger) Balance(ctx context.Context, account Account) (decimal.Decimal, error) {
	return l.balanceOf(ctx, account)
}

// BalanceAsOf replays the account up to (and including) the given timestamp.
// Used for historical reporting and for checking whether a past approval was
// valid at approval time.
func (l *BalanceLedger) BalanceAsOf(ctx context.Context, account Account, at time.Time) (decimal.Decimal, error) {
	txs, err := l.store.Load(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, tx := range txs {
		if tx.CreatedAt.After(at) {
			continue
		}
		balance = balance.Add(tx.Amount)
	}
	return balance, nil
}

// GetSummary returns the display breakdown: available balance plus the open
// reserved total. May be served from a replica; it takes no account lock.
func (l *BalanceLedger) GetSummary(ctx context.Context, account Account) (Summary, error) {
	txs, err := l.store.Load(ctx, account)
	if err != nil {
		return Summary{}, err
	}

	balance := decimal.Zero
	open := make(map[string]decimal.Decimal) // causalRef -> reserved (positive)
	for _, tx := range txs {
		balance = balance.Add(tx.Amount)
		switch {
		case tx.Type == TxReservation:
			open[tx.CausalRef] = tx.Amount.Neg()
		case tx.IsSettlement():
			delete(open, tx.CausalRef)
		}
	}

	reserved := decimal.Zero
	for _, amt := range open {
		reserved = reserved.Add(amt)
	}

	return Summary{
		Account:   account,
		AsOf:      l.Now(),
		Balance:   balance,
		Reserved:  reserved,
		Available: balance,
	}, nil
}

// Transactions returns the full audit trail for an account.
func (l *BalanceLedger) Transactions(ctx context.Context, account Account) ([]Transaction, error) {
	return l.store.Load(ctx, account)
}

// TransactionsByCausalRef returns the lineage of a request or batch run.
func (l *BalanceLedger) TransactionsByCausalRef(ctx context.Context, causalRef string) ([]Transaction, error) {
	return l.store.LoadByCausalRef(ctx, causalRef)
}

// OpenReservation returns the open reservation for a causal reference, or nil.
func (l *BalanceLedger) OpenReservation(ctx context.Context, causalRef string) (*Transaction, error) {
	txs, err := l.store.LoadByCausalRef(ctx, causalRef)
	if err != nil {
		return nil, err
	}
	return openReservation(txs), nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (l *BalanceLedger) balanceOf(ctx context.Context, account Account) (decimal.Decimal, error) {
	txs, err := l.store.Load(ctx, account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load account %s: %w", account, err)
	}
	balance := decimal.Zero
	for _, tx := range txs {
		balance = balance.Add(tx.Amount)
	}
	return balance, nil
}

func (l *BalanceLedger) requireOpenReservation(ctx context.Context, causalRef string) (*Transaction, error) {
	txs, err := l.store.LoadByCausalRef(ctx, causalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation lineage: %w", err)
	}
	res := openReservation(txs)
	if res != nil {
		return res, nil
	}
	// Distinguish "never reserved" from "already settled" for the caller.
	for _, tx := range txs {
		if tx.Type == TxReservation {
			return nil, fmt.Errorf("reservation for %q: %w", causalRef, ErrReservationSettled)
		}
	}
	return nil, fmt.Errorf("reservation for %q: %w", causalRef, ErrReservationNotFound)
}

// openReservation walks the lineage in append order. A later reservation
// reopens the reference (reopen flow); a settlement closes it.
func openReservation(txs []Transaction) *Transaction {
	var open *Transaction
	for i := range txs {
		switch {
		case txs[i].Type == TxReservation:
			open = &txs[i]
		case txs[i].IsSettlement():
			open = nil
		}
	}
	return open
}

func newTransactionID() TransactionID {
	return TransactionID("tx-" + uuid.NewString())
}
