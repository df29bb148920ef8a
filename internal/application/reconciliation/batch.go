package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batch outcomes reported to metrics
const (
	BatchOutcomeMatched   = "matched"
	BatchOutcomeAllocated = "allocated"
	BatchOutcomeSkipped   = "skipped"
	BatchOutcomeFailed    = "failed"
)

// BatchSettings controls a batch run
type BatchSettings struct {
	Workers           int
	PageSize          int
	LockTTL           time.Duration
	AllocateUnmatched bool
}

// DefaultBatchSettings returns four workers, pages of 200 and 30s locks
func DefaultBatchSettings() BatchSettings {
	return BatchSettings{
		Workers:  4,
		PageSize: 200,
		LockTTL:  30 * time.Second,
	}
}

// BatchSettingsFromConfig converts the loaded configuration
func BatchSettingsFromConfig(bc config.BatchConfig) BatchSettings {
	return BatchSettings{
		Workers:           bc.Workers,
		PageSize:          bc.PageSize,
		LockTTL:           bc.LockTTL,
		AllocateUnmatched: bc.AllocateUnmatched,
	}
}

// BatchSummary counts what a batch run did with each payment
type BatchSummary struct {
	TenantID  uuid.UUID     `json:"tenant_id"`
	Processed int           `json:"processed"`
	Matched   int           `json:"matched"`
	Allocated int           `json:"allocated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Customers int           `json:"customers"`
	Duration  time.Duration `json:"duration"`
}

// BatchReconciler runs auto-matching over a tenant's open payments. Customers
// are handled in parallel; the payments of one customer run in order under a
// customer lock, so two reconcilers never work the same customer at once.
type BatchReconciler struct {
	service  *Service
	locker   shared.Locker
	settings BatchSettings
}

// NewBatchReconciler creates a batch reconciler
func NewBatchReconciler(service *Service, locker shared.Locker, settings BatchSettings) *BatchReconciler {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.PageSize < 1 {
		settings.PageSize = DefaultBatchSettings().PageSize
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = DefaultBatchSettings().LockTTL
	}
	return &BatchReconciler{service: service, locker: locker, settings: settings}
}

// Run reconciles every unallocated pending payment of the tenant. Failures of
// single payments are counted, not returned; an error means the run itself
// could not proceed.
func (b *BatchReconciler) Run(ctx context.Context, tenantID uuid.UUID) (*BatchSummary, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "batch_run",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	byCustomer, err := b.pendingByCustomer(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	summary := &BatchSummary{TenantID: tenantID, Customers: len(byCustomer)}
	var mu sync.Mutex
	count := func(outcome string, n int) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case BatchOutcomeMatched:
			summary.Matched += n
		case BatchOutcomeAllocated:
			summary.Allocated += n
		case BatchOutcomeSkipped:
			summary.Skipped += n
		case BatchOutcomeFailed:
			summary.Failed += n
		}
		summary.Processed += n
	}

	customers := make([]uuid.UUID, 0, len(byCustomer))
	for id := range byCustomer {
		customers = append(customers, id)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].String() < customers[j].String() })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.settings.Workers)
	for _, customerID := range customers {
		payments := byCustomer[customerID]
		g.Go(func() error {
			return b.reconcileCustomer(gctx, tenantID, customerID, payments, count)
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return summary, err
	}

	summary.Duration = time.Since(start)
	metrics := b.service.metrics
	metrics.RecordBatch(ctx, BatchOutcomeMatched, summary.Matched)
	metrics.RecordBatch(ctx, BatchOutcomeAllocated, summary.Allocated)
	metrics.RecordBatch(ctx, BatchOutcomeSkipped, summary.Skipped)
	metrics.RecordBatch(ctx, BatchOutcomeFailed, summary.Failed)
	metrics.RecordBatchCustomers(ctx, tenantID.String(), summary.Customers)
	telemetry.SetOK(span)

	b.service.log(ctx).Info("batch reconciliation finished",
		zap.String(telemetry.SpanAttrTenantID, tenantID.String()),
		zap.Int("customers", summary.Customers),
		zap.Int("processed", summary.Processed),
		zap.Int("matched", summary.Matched),
		zap.Int("allocated", summary.Allocated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// pendingByCustomer reads every page up front so that payments leaving the
// unallocated set during the run do not shift later pages
func (b *BatchReconciler) pendingByCustomer(ctx context.Context, tenantID uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	repo := b.service.store.Repositories().Payments
	byCustomer := make(map[uuid.UUID][]uuid.UUID)
	for page := 1; ; page++ {
		payments, err := repo.FindUnallocated(ctx, tenantID, shared.Filter{
			Page:     page,
			PageSize: b.settings.PageSize,
			OrderBy:  "payment_date",
			OrderDir: "asc",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list unallocated payments: %w", err)
		}
		for _, p := range payments {
			if p.ProcessingStatus != finance.ProcessingStatusPending {
				continue
			}
			byCustomer[p.CustomerID] = append(byCustomer[p.CustomerID], p.ID)
		}
		if len(payments) < b.settings.PageSize {
			return byCustomer, nil
		}
	}
}

func (b *BatchReconciler) reconcileCustomer(
	ctx context.Context,
	tenantID, customerID uuid.UUID,
	paymentIDs []uuid.UUID,
	count func(outcome string, n int),
) error {
	log := b.service.log(ctx)
	lockKey := tenantID.String() + ":" + customerID.String()
	lock, err := b.locker.Acquire(ctx, lockKey, b.settings.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockNotAcquired) {
			log.Info("customer is being reconciled elsewhere, skipping",
				zap.String(telemetry.SpanAttrCustomerID, customerID.String()),
				zap.Int("payments", len(paymentIDs)),
			)
			count(BatchOutcomeSkipped, len(paymentIDs))
			return nil
		}
		return fmt.Errorf("failed to lock customer %s: %w", customerID, err)
	}
	defer func() {
		// release even when the run was cancelled
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release customer lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	for _, paymentID := range paymentIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		count(b.reconcilePayment(ctx, tenantID, paymentID), 1)
	}
	return nil
}

func (b *BatchReconciler) reconcilePayment(ctx context.Context, tenantID, paymentID uuid.UUID) string {
	log := b.service.log(ctx).With(zap.String(telemetry.SpanAttrPaymentID, paymentID.String()))

	result, err := b.service.AttemptAutoMatch(ctx, tenantID, paymentID)
	if err != nil {
		log.Warn("auto-match failed", zap.Error(err))
		return BatchOutcomeFailed
	}
	if result != nil {
		return BatchOutcomeMatched
	}
	if !b.settings.AllocateUnmatched {
		return BatchOutcomeSkipped
	}

	_, err = b.service.AllocatePayment(ctx, AllocatePaymentRequest{
		TenantID:  tenantID,
		PaymentID: paymentID,
		Actor:     ActorAutoMatch,
	})
	switch {
	case err == nil:
		return BatchOutcomeAllocated
	case errors.Is(err, finance.ErrAlreadyAllocated):
		return BatchOutcomeSkipped
	default:
		log.Warn("allocation failed", zap.Error(err))
		return BatchOutcomeFailed
	}
}
