//go:build integration

package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/migration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresDB starts a PostgreSQL container and applies the embedded schema
func setupPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("reconciliation_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	database, err := Open(postgres.Open(dsn), nil, WithLogger(zaptest.NewLogger(t), "warn"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sqlDB, err := database.DB.DB()
	require.NoError(t, err)
	m, err := migration.New(sqlDB, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up())

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.NotZero(t, version)
	assert.False(t, dirty)

	return database.DB
}

func TestPostgres_SchemaMatchesRepositories(t *testing.T) {
	ctx := context.Background()
	f := newFixtureOn(t, setupPostgresDB(t))
	store := NewGormTransactionScope(f.db)

	p := f.payment(t, "PAY-PG-001", 1500, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	o1 := f.obligation(t, "OB-2024-03", 1000, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	o2 := f.obligation(t, "OB-2024-04", 1000, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC))

	engine := finance.NewAllocationEngine()
	err := store.Transaction(ctx, func(ctx context.Context, repos finance.Repositories) error {
		locked, err := repos.Payments.FindByIDForUpdate(ctx, f.tenantID, p.ID)
		if err != nil {
			return err
		}
		obligations, err := repos.Obligations.FindOpenByCustomerForUpdate(ctx, f.tenantID, f.customerID)
		if err != nil {
			return err
		}
		plan, err := engine.Plan(locked, obligations, finance.AllocationStrategyFIFO, nil)
		if err != nil {
			return err
		}
		allocations, err := engine.Apply(locked, obligations, plan, finance.AllocationTypeAutomatic, "tester")
		if err != nil {
			return err
		}
		if err := repos.Allocations.Create(ctx, allocations...); err != nil {
			return err
		}
		for _, o := range obligations {
			if err := repos.Obligations.SaveWithLock(ctx, o); err != nil {
				return err
			}
		}
		return repos.Payments.SaveWithLock(ctx, locked)
	})
	require.NoError(t, err)

	allocRepo := NewGormAllocationRepository(f.db)
	sum1, err := allocRepo.SumByObligation(ctx, f.tenantID, o1.ID)
	require.NoError(t, err)
	assert.True(t, sum1.Equal(decimal.NewFromInt(1000)))
	sum2, err := allocRepo.SumByObligation(ctx, f.tenantID, o2.ID)
	require.NoError(t, err)
	assert.True(t, sum2.Equal(decimal.NewFromInt(500)))

	stored, err := NewGormPaymentRepository(f.db).FindByIDForTenant(ctx, f.tenantID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.AllocationStatusAllocated, stored.AllocationStatus)
	assert.Equal(t, 2, stored.Version)
}

func TestPostgres_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	f := newFixtureOn(t, setupPostgresDB(t))

	f.payment(t, "PAY-DUP", 100, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	dup, err := finance.NewPayment(f.tenantID, f.customerID, "PAY-DUP", decimal.NewFromInt(50), "USD", time.Now())
	require.NoError(t, err)
	err = NewGormPaymentRepository(f.db).Create(ctx, dup)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	due := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	first := f.obligation(t, "OB-MAY-1", 1000, due)
	second, err := finance.NewObligation(f.tenantID, f.contract.ID, f.customerID, "OB-MAY-2",
		finance.ObligationTypeInstallment, decimal.NewFromInt(1000), "USD", &due)
	require.NoError(t, err)
	obRepo := NewGormObligationRepository(f.db)
	assert.ErrorIs(t, obRepo.Create(ctx, second), shared.ErrAlreadyExists)

	// a cancelled obligation frees its month
	require.NoError(t, first.Cancel())
	require.NoError(t, obRepo.SaveWithLock(ctx, first))
	assert.NoError(t, obRepo.Create(ctx, second))
}

func TestPostgres_ConcurrentSaveWithLock(t *testing.T) {
	ctx := context.Background()
	f := newFixtureOn(t, setupPostgresDB(t))
	p := f.payment(t, "PAY-RACE", 100, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	repo := NewGormPaymentRepository(f.db)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loaded, err := repo.FindByIDForTenant(ctx, f.tenantID, p.ID)
			if err != nil {
				errs[i] = err
				return
			}
			loaded.AddNote("writer")
			errs[i] = repo.SaveWithLock(ctx, loaded)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.GreaterOrEqual(t, ok, 1)
	assert.Equal(t, len(errs), ok+conflicts)
}
