/*
scheduler.go - Automated year-boundary rollover

PURPOSE:
  Periodically checks whether the configured rollover date has passed and,
  if so, runs the bucket rollover for every employee the ledger knows.
  Rollover itself is idempotent per (employee, bucket, date), so repeated
  checks after the boundary are harmless no-ops.

DESIGN:
  - Background goroutine with a configurable check interval
  - Rollover date is an annual month/day boundary (default December 31)
  - The expiring bucket's capped remainder moves into the carry bucket;
    without a cap everything expires

USAGE:
  s := NewRolloverScheduler(store, bl, logger)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - ledger: Rollover idempotency marker
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
)

// EmployeeSource lists every employee with ledger or request history.
type EmployeeSource interface {
	ListEmployees(ctx context.Context) ([]string, error)
}

// RolloverScheduler runs the annual bucket rollover without manual triggers.
type RolloverScheduler struct {
	Source EmployeeSource
	Ledger *ledger.BalanceLedger
	Logger *slog.Logger

	CheckInterval time.Duration

	// Annual boundary; the run is anchored to this date's marker.
	BoundaryMonth time.Month
	BoundaryDay   int

	// Buckets and carry policy for the run.
	From     ledger.BalanceType
	To       ledger.BalanceType
	CarryCap *decimal.Decimal

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRolloverScheduler creates a scheduler with the default policy: on
// December 31 the previous-year vacation bucket is closed out. With the
// default nil CarryCap the whole remainder expires; set CarryCap to carry a
// capped portion into the current-year bucket.
func NewRolloverScheduler(source EmployeeSource, bl *ledger.BalanceLedger, logger *slog.Logger) *RolloverScheduler {
	return &RolloverScheduler{
		Source:        source,
		Ledger:        bl,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		BoundaryMonth: time.December,
		BoundaryDay:   31,
		From:          ledger.VacationAP,
		To:            ledger.VacationAC,
		Now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the background checks.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.Logger.Info("rollover scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Logger.Info("rollover scheduler stopped")
	}
}

func (rs *RolloverScheduler) run() {
	defer rs.wg.Done()

	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for admin use and tests).
func (rs *RolloverScheduler) RunNow() {
	rs.checkAndProcess()
}

// boundaryFor returns the most recent annual boundary at or before now.
func (rs *RolloverScheduler) boundaryFor(now time.Time) time.Time {
	b := time.Date(now.Year(), rs.BoundaryMonth, rs.BoundaryDay, 0, 0, 0, 0, time.UTC)
	if b.After(now) {
		b = b.AddDate(-1, 0, 0)
	}
	return b
}

func (rs *RolloverScheduler) checkAndProcess() {
	ctx := context.Background()
	now := rs.Now()
	boundary := rs.boundaryFor(now)

	employees, err := rs.Source.ListEmployees(ctx)
	if err != nil {
		rs.Logger.Error("rollover check failed to list employees", "error", err)
		return
	}

	processed := 0
	for _, id := range employees {
		ids, err := rs.Ledger.Rollover(ctx, id, rs.From, rs.To, boundary,
			ledger.RolloverPolicy{CarryCap: rs.CarryCap}, "scheduler")
		if err != nil {
			rs.Logger.Error("rollover failed", "employee", id, "error", err)
			continue
		}
		if len(ids) > 0 {
			processed++
			rs.Logger.Info("rollover processed",
				"employee", id, "boundary", boundary.Format("2006-01-02"), "transactions", len(ids))
		}
	}

	if processed > 0 {
		rs.Logger.Info("rollover run completed", "processed", processed, "checked", len(employees))
	}
}
