package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestGormTransactionScope_Commit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewGormTransactionScope(f.db)
	p := f.payment(t, "PAY-TX-1", 1000, time.Now())
	o := f.obligation(t, "OB-TX-1", 1000, time.Now())

	err := store.Transaction(ctx, func(ctx context.Context, repos finance.Repositories) error {
		payment, err := repos.Payments.FindByIDForUpdate(ctx, f.tenantID, p.ID)
		if err != nil {
			return err
		}
		obligations, err := repos.Obligations.FindOpenByCustomerForUpdate(ctx, f.tenantID, f.customerID)
		if err != nil {
			return err
		}
		engine := finance.NewAllocationEngine()
		plan, err := engine.Plan(payment, obligations, finance.AllocationStrategyFIFO, nil)
		if err != nil {
			return err
		}
		allocations, err := engine.Apply(payment, obligations, plan, finance.AllocationTypeAutomatic, "system")
		if err != nil {
			return err
		}
		if err := repos.Allocations.Create(ctx, allocations...); err != nil {
			return err
		}
		for _, ob := range obligations {
			if err := repos.Obligations.SaveWithLock(ctx, ob); err != nil {
				return err
			}
		}
		return repos.Payments.SaveWithLock(ctx, payment)
	})
	require.NoError(t, err)

	repos := store.Repositories()
	got, err := repos.Payments.FindByIDForTenant(ctx, f.tenantID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.AllocationStatusAllocated, got.AllocationStatus)

	sum, err := repos.Allocations.SumByObligation(ctx, f.tenantID, o.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1000)), sum.String())
}

func TestGormTransactionScope_Rollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := NewGormTransactionScope(f.db)
	p := f.payment(t, "PAY-TX-2", 400, time.Now())
	o := f.obligation(t, "OB-TX-2", 1000, time.Now())
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(ctx context.Context, repos finance.Repositories) error {
		a, err := finance.NewAllocation(p, o, decimal.NewFromInt(400), finance.AllocationTypeManual, finance.AllocationStrategyManual, "alice")
		if err != nil {
			return err
		}
		if err := repos.Allocations.Create(ctx, a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	sum, err := store.Repositories().Allocations.SumByObligation(ctx, f.tenantID, o.ID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestGormPaymentRepository_SaveWithLock_SQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	p, err := finance.NewPayment(uuid.New(), uuid.New(), "PAY-SQL-1", decimal.NewFromInt(10), "USD", time.Now())
	require.NoError(t, err)
	p.Version = 3

	mock.ExpectExec(`UPDATE "payments" SET .* WHERE tenant_id = \$\d+ AND .*id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewGormPaymentRepository(db).SaveWithLock(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.Equal(t, 3, p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForUpdate(t *testing.T) {
	t.Run("postgres adds a row lock", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
			SkipDefaultTransaction: true,
		})
		require.NoError(t, err)

		id := uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE tenant_id = \$1 AND id = \$2 .*FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err = NewGormPaymentRepository(db).FindByIDForUpdate(context.Background(), uuid.New(), id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sqlite is left alone", func(t *testing.T) {
		db := setupTestDB(t)
		stmt := forUpdate(db).Session(&gorm.Session{DryRun: true}).Find(&[]models.PaymentModel{}).Statement
		assert.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
	})
}
