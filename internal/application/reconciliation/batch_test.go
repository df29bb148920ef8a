package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/infrastructure/cache"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchReconciler_Run(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	inv := env.invoice(t, "INV-77", 900, today.AddDate(0, 3, 0))
	c := env.contract(t, "CT-1", 20800, 1300, 0, day(2024, 1, 15))
	o := env.obligation(t, c, "OB-1", 500, today.AddDate(0, 1, 0))

	matched := env.payment(t, "PAY-1", 900, today, "INV-77")
	unmatched := env.payment(t, "PAY-2", 400, today, "")

	settings := DefaultBatchSettings()
	settings.Workers = 2
	settings.PageSize = 1
	settings.AllocateUnmatched = true
	summary, err := NewBatchReconciler(svc, cache.NewInMemoryLocker(), settings).Run(ctx, env.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Customers)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Allocated)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)

	assert.True(t, env.reloadPayment(t, matched.ID).Target.Matches(finance.TargetTypeInvoice, inv.ID))
	allocated := env.reloadPayment(t, unmatched.ID)
	assert.True(t, allocated.Target.IsNone())
	assert.True(t, dec("400").Equal(allocated.AllocatedAmount))
	assert.True(t, dec("100").Equal(env.reloadObligation(t, o.ID).RemainingAmount))

	// nothing left to do on a second run
	again, err := NewBatchReconciler(svc, cache.NewInMemoryLocker(), settings).Run(ctx, env.tenantID)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

func TestBatchReconciler_SettlesRecordedTargetsOnce(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	inv := env.invoice(t, "INV-5", 700, today.AddDate(0, 1, 0))
	recorded, err := svc.RecordPayment(ctx, RecordPaymentRequest{
		TenantID:      env.tenantID,
		CustomerID:    env.customerID,
		PaymentNumber: "PAY-1",
		Amount:        dec("700"),
		Currency:      "USD",
		PaymentDate:   today,
		TargetType:    "invoice",
		TargetID:      &inv.ID,
	})
	require.NoError(t, err)

	settings := DefaultBatchSettings()
	settings.AllocateUnmatched = true
	batch := NewBatchReconciler(svc, cache.NewInMemoryLocker(), settings)

	first, err := batch.Run(ctx, env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Matched)
	assert.Zero(t, first.Failed)

	stored := env.reloadPayment(t, recorded.Payment.ID)
	assert.Equal(t, finance.AllocationStatusAllocated, stored.AllocationStatus)
	assert.Equal(t, finance.ProcessingStatusCompleted, stored.ProcessingStatus)

	second, err := batch.Run(ctx, env.tenantID)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
}

func TestBatchReconciler_LeavesUnmatchedWhenNotAllocating(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()
	ctx := context.Background()

	c := env.contract(t, "CT-1", 20800, 1300, 0, day(2024, 1, 15))
	env.obligation(t, c, "OB-1", 500, time.Now().UTC().AddDate(0, 1, 0))
	p := env.payment(t, "PAY-1", 400, day(2024, 3, 1), "")

	summary, err := NewBatchReconciler(svc, cache.NewInMemoryLocker(), DefaultBatchSettings()).Run(ctx, env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Allocated)
	assert.True(t, env.reloadPayment(t, p.ID).AllocatedAmount.IsZero())
	assert.EqualValues(t, 1, env.auditCount(t, finance.AuditActionNoMatch))
}

func TestBatchReconciler_SkipsLockedCustomer(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()
	ctx := context.Background()

	env.invoice(t, "INV-77", 900, day(2024, 3, 1))
	env.payment(t, "PAY-1", 900, day(2024, 3, 1), "INV-77")

	otherCustomer := uuid.New()
	other, err := finance.NewPayment(env.tenantID, otherCustomer, "PAY-2", dec("250"), "USD", day(2024, 3, 1))
	require.NoError(t, err)
	require.NoError(t, env.store.Repositories().Payments.Create(ctx, other))

	locker := cache.NewInMemoryLocker()
	held, err := locker.Acquire(ctx, env.tenantID.String()+":"+env.customerID.String(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	summary, err := NewBatchReconciler(svc, locker, DefaultBatchSettings()).Run(ctx, env.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Customers)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Matched)
	// released by the reconciler, still held by us
	assert.Equal(t, 1, locker.Size())
}

func TestBatchReconciler_CountsGuardRejectionAsFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	env.contract(t, "CT-9", 10000, 1000, 10500, day(2024, 1, 10))
	p := env.payment(t, "PAY-1", 1000, day(2024, 3, 10), "CT-9")

	summary, err := NewBatchReconciler(svc, cache.NewInMemoryLocker(), DefaultBatchSettings()).Run(context.Background(), env.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, env.reloadPayment(t, p.ID).Target.IsNone())
}

func TestNewBatchReconciler_Defaults(t *testing.T) {
	b := NewBatchReconciler(nil, cache.NewInMemoryLocker(), BatchSettings{})
	assert.Equal(t, 1, b.settings.Workers)
	assert.Equal(t, DefaultBatchSettings().PageSize, b.settings.PageSize)
	assert.Equal(t, DefaultBatchSettings().LockTTL, b.settings.LockTTL)
}

func TestBatchSettingsFromConfig(t *testing.T) {
	s := BatchSettingsFromConfig(config.BatchConfig{
		Workers:           8,
		PageSize:          50,
		LockTTL:           time.Minute,
		AllocateUnmatched: true,
	})
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, 50, s.PageSize)
	assert.Equal(t, time.Minute, s.LockTTL)
	assert.True(t, s.AllocateUnmatched)
}
