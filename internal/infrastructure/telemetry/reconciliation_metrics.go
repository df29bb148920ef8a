package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Match outcomes reported by RecordMatch
const (
	MatchOutcomeAutoLinked    = "auto_linked"
	MatchOutcomeAlreadyLinked = "already_linked"
	MatchOutcomeNoMatch       = "no_match"
	MatchOutcomeManual        = "manual_link"
)

// ReconciliationMetrics holds the instruments of the reconciliation service.
// A nil *ReconciliationMetrics records nothing.
type ReconciliationMetrics struct {
	matchTotal        *Counter
	matchConfidence   *Histogram
	allocationTotal   *Counter
	allocatedMinor    *Counter
	creditedMinor     *Counter
	reversalTotal     *Counter
	guardRejections   *Counter
	lockConflicts     *Counter
	operationDuration *Histogram
	batchPayments     *Counter
	batchCustomers    *Gauge
}

// NewReconciliationMetrics registers the reconciliation instruments on meter
func NewReconciliationMetrics(meter metric.Meter) (*ReconciliationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ReconciliationMetrics{}
	var err error

	counters := []struct {
		dst                     **Counter
		name, description, unit string
	}{
		{&m.matchTotal, "recon_match_total", "Payments run through the matching engine by outcome", "{payment}"},
		{&m.allocationTotal, "recon_allocation_total", "Allocation rows written by strategy", "{allocation}"},
		{&m.allocatedMinor, "recon_allocated_amount_total", "Amount allocated to obligations in minor currency units", "{minor_unit}"},
		{&m.creditedMinor, "recon_credited_amount_total", "Residual amount moved to customer credit in minor currency units", "{minor_unit}"},
		{&m.reversalTotal, "recon_reversal_total", "Allocations reversed", "{allocation}"},
		{&m.guardRejections, "recon_guard_rejection_total", "Payments and obligations rejected by a guard rule", "{rejection}"},
		{&m.lockConflicts, "recon_lock_conflict_total", "Optimistic lock conflicts by operation", "{conflict}"},
		{&m.batchPayments, "recon_batch_payment_total", "Payments processed by the batch reconciler by outcome", "{payment}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.description, c.unit); err != nil {
			return nil, err
		}
	}

	if m.batchCustomers, err = NewGauge(meter, "recon_batch_customers",
		"Customers with open payments in the last batch run", "{customer}"); err != nil {
		return nil, err
	}

	if m.matchConfidence, err = NewHistogram(meter, HistogramOpts{
		Name:        "recon_match_confidence",
		Description: "Confidence of the best candidate per matching run",
		Unit:        "{score}",
		Boundaries:  ConfidenceBuckets,
	}); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "recon_operation_duration_seconds",
		Description: "Latency of reconciliation operations",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordMatch counts one matching run and the confidence it reached
func (m *ReconciliationMetrics) RecordMatch(ctx context.Context, outcome string, confidence int) {
	if m == nil {
		return
	}
	m.matchTotal.Inc(ctx, AttrOutcome.String(outcome))
	m.matchConfidence.Record(ctx, float64(confidence), AttrOutcome.String(outcome))
}

// RecordAllocation counts the rows and amounts of one committed allocation
func (m *ReconciliationMetrics) RecordAllocation(ctx context.Context, strategy string, rows int, allocated, credited decimal.Decimal) {
	if m == nil {
		return
	}
	attr := AttrStrategy.String(strategy)
	m.allocationTotal.Add(ctx, int64(rows), attr)
	m.allocatedMinor.Add(ctx, toMinorUnits(allocated), attr)
	if credited.IsPositive() {
		m.creditedMinor.Add(ctx, toMinorUnits(credited), attr)
	}
}

// RecordReversal counts one reversed allocation
func (m *ReconciliationMetrics) RecordReversal(ctx context.Context) {
	if m == nil {
		return
	}
	m.reversalTotal.Inc(ctx)
}

// RecordGuardRejection counts a rejection per violated rule
func (m *ReconciliationMetrics) RecordGuardRejection(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	m.guardRejections.Inc(ctx, AttrGuardRule.String(rule))
}

// RecordLockConflict counts an optimistic lock conflict
func (m *ReconciliationMetrics) RecordLockConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.lockConflicts.Inc(ctx, AttrOperation.String(operation))
}

// RecordDuration records how long an operation took
func (m *ReconciliationMetrics) RecordDuration(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operationDuration.RecordDuration(ctx, d, AttrOperation.String(operation), AttrOutcome.String(outcome))
}

// RecordBatch counts payments handled by one batch run
func (m *ReconciliationMetrics) RecordBatch(ctx context.Context, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.batchPayments.Add(ctx, int64(n), AttrBatchOutcome.String(outcome))
}

// RecordBatchCustomers reports how many customers the last batch run touched
func (m *ReconciliationMetrics) RecordBatchCustomers(ctx context.Context, tenantID string, n int) {
	if m == nil {
		return
	}
	m.batchCustomers.Record(ctx, int64(n), AttrTenantID.String(tenantID))
}

func toMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
