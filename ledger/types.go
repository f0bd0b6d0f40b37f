/*
Package ledger implements the time-off balance ledger.

PURPOSE:
  Tracks vacation, ROL and permit balances per employee as an append-only
  sequence of transactions. Balance is always computed by replaying the
  transaction history - there is no separate "balance" column that can get
  out of sync with it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: the (employee, balance type) pair a transaction belongs to
  - BalanceType: vacation AP/AC buckets, ROL hours, permits
  - Transaction: an immutable ledger entry recording a balance change

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only reversed
  2. Precision: decimal.Decimal throughout (half days are exact .5 values)
  3. Auditability: every transaction carries its causal reference, reason,
     actor and a balance-after snapshot

SEE ALSO:
  - ledger.go: the mutation API (reserve/commit/release/adjust/rollover)
  - store.go: persistence interface
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT - (employee, balance type) pair
// =============================================================================

// BalanceType identifies which bucket a transaction affects.
type BalanceType string

const (
	// VacationAP is the previous-year vacation bucket ("Anno Precedente").
	// Subject to expiry at rollover.
	VacationAP BalanceType = "vacation_ap"

	// VacationAC is the current-year vacation bucket ("Anno Corrente").
	VacationAC BalanceType = "vacation_ac"

	// ROL is the reduced-working-hours entitlement, tracked in hours.
	ROL BalanceType = "rol"

	// Permits are short paid-leave permits, tracked in days.
	Permits BalanceType = "permits"
)

// Unit is the measurement unit of a balance type.
type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

// UnitOf returns the unit a balance type is tracked in.
func UnitOf(bt BalanceType) Unit {
	if bt == ROL {
		return UnitHours
	}
	return UnitDays
}

// Account identifies one balance bucket for one employee.
type Account struct {
	EmployeeID  string
	BalanceType BalanceType
}

func NewAccount(employeeID string, bt BalanceType) Account {
	return Account{EmployeeID: employeeID, BalanceType: bt}
}

func (a Account) Unit() Unit { return UnitOf(a.BalanceType) }

func (a Account) String() string {
	return a.EmployeeID + "/" + string(a.BalanceType)
}

// =============================================================================
// TRANSACTION - Atomic, immutable change to an account balance
// =============================================================================

type TransactionID string

type TransactionType string

const (
	TxAccrual           TransactionType = "ACCRUAL"            // Credit from rollover carry-forward or entitlement grant
	TxReservation       TransactionType = "RESERVATION"        // Provisional debit held for a pending request
	TxCancelReservation TransactionType = "CANCEL_RESERVATION" // Reversing credit releasing a reservation (or compensating a deduction)
	TxLeaveDeduction    TransactionType = "LEAVE_DEDUCTION"    // Reservation committed as final vacation/permit consumption
	TxROLDeduction      TransactionType = "ROL_DEDUCTION"      // Reservation committed as final ROL consumption
	TxAdjustmentAdd     TransactionType = "ADJUSTMENT_ADD"     // Manual administrative credit
	TxAdjustmentSub     TransactionType = "ADJUSTMENT_SUB"     // Manual administrative debit (may go negative)
	TxExpiration        TransactionType = "EXPIRATION"         // Previous-year bucket zeroed/capped at rollover
	TxRollover          TransactionType = "ROLLOVER"           // Marker recorded on the source bucket when carry-forward happens
)

// Transaction is a single immutable ledger entry. Corrections are new
// transactions; nothing is ever updated or deleted.
type Transaction struct {
	ID      TransactionID
	Account Account

	Type TransactionType

	// Signed amount in the account's unit. Reservations and deductions are
	// negative or zero, releases and accruals positive.
	Amount decimal.Decimal

	// Account balance immediately after this transaction (audit snapshot).
	BalanceAfter decimal.Decimal

	// CausalRef ties the transaction back to what caused it: a leave request
	// ID for the request lifecycle, a batch run ID for rollover, an admin
	// ticket for adjustments.
	CausalRef string

	Reason string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time

	// IdempotencyKey makes retried writes safe. Empty = no dedup.
	IdempotencyKey string
}

// IsSettlement reports whether the transaction closes a reservation with the
// same causal reference (either by releasing it or committing it).
func (t Transaction) IsSettlement() bool {
	switch t.Type {
	case TxCancelReservation, TxLeaveDeduction, TxROLDeduction:
		return true
	}
	return false
}

// DeductionTypeFor returns the commit transaction type for a balance type.
func DeductionTypeFor(bt BalanceType) TransactionType {
	if bt == ROL {
		return TxROLDeduction
	}
	return TxLeaveDeduction
}

// =============================================================================
// BALANCE SUMMARY - Read-model for display
// =============================================================================

// Summary is the user-facing breakdown of one account.
type Summary struct {
	Account   Account
	AsOf      time.Time
	Balance   decimal.Decimal // Σ of all transaction amounts (reservations already subtracted)
	Reserved  decimal.Decimal // open reservations, as a positive number
	Available decimal.Decimal // equal to Balance; kept separate for clarity at call sites
}
