package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/persistence"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv is one tenant and one customer on a fresh in-memory database
type testEnv struct {
	db         *gorm.DB
	store      *persistence.GormTransactionScope
	audit      *persistence.GormAuditLogRepository
	events     *recordingPublisher
	tenantID   uuid.UUID
	customerID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	return &testEnv{
		db:         db,
		store:      persistence.NewGormTransactionScope(db),
		audit:      persistence.NewGormAuditLogRepository(db),
		events:     &recordingPublisher{},
		tenantID:   uuid.New(),
		customerID: uuid.New(),
	}
}

func (e *testEnv) service(opts ...Option) *Service {
	opts = append([]Option{WithEventPublisher(e.events)}, opts...)
	return NewService(e.store, e.audit, opts...)
}

func (e *testEnv) contract(t *testing.T, number string, amount, monthly, totalPaid int64, start time.Time) *finance.Contract {
	t.Helper()
	c := &finance.Contract{
		ID:             uuid.New(),
		TenantID:       e.tenantID,
		CustomerID:     e.customerID,
		ContractNumber: number,
		ContractAmount: decimal.NewFromInt(amount),
		MonthlyAmount:  decimal.NewFromInt(monthly),
		TotalPaid:      decimal.NewFromInt(totalPaid),
		Currency:       "USD",
		StartDate:      start,
		Status:         finance.ContractStatusActive,
		CreatedAt:      start,
	}
	require.NoError(t, e.db.Create(models.ContractModelFromDomain(c)).Error)
	return c
}

func (e *testEnv) invoice(t *testing.T, number string, total int64, due time.Time) *finance.Invoice {
	t.Helper()
	inv := &finance.Invoice{
		ID:            uuid.New(),
		TenantID:      e.tenantID,
		CustomerID:    e.customerID,
		InvoiceNumber: number,
		TotalAmount:   decimal.NewFromInt(total),
		Currency:      "USD",
		DueDate:       &due,
		Status:        finance.InvoiceStatusOpen,
		CreatedAt:     due.AddDate(0, -1, 0),
	}
	require.NoError(t, e.db.Create(models.InvoiceModelFromDomain(inv)).Error)
	return inv
}

func (e *testEnv) payment(t *testing.T, number string, amount int64, paidOn time.Time, reference string) *finance.Payment {
	t.Helper()
	p, err := finance.NewPayment(e.tenantID, e.customerID, number, decimal.NewFromInt(amount), "USD", paidOn)
	require.NoError(t, err)
	p.SetReference(reference)
	require.NoError(t, e.store.Repositories().Payments.Create(context.Background(), p))
	return p
}

func (e *testEnv) obligation(t *testing.T, contract *finance.Contract, number string, amount int64, due time.Time) *finance.Obligation {
	t.Helper()
	o, err := finance.NewObligation(e.tenantID, contract.ID, e.customerID, number,
		finance.ObligationTypeInstallment, decimal.NewFromInt(amount), "USD", &due)
	require.NoError(t, err)
	require.NoError(t, e.store.Repositories().Obligations.Create(context.Background(), o))
	return o
}

func (e *testEnv) reloadPayment(t *testing.T, id uuid.UUID) *finance.Payment {
	t.Helper()
	p, err := e.store.Repositories().Payments.FindByIDForTenant(context.Background(), e.tenantID, id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) reloadObligation(t *testing.T, id uuid.UUID) *finance.Obligation {
	t.Helper()
	o, err := e.store.Repositories().Obligations.FindByIDForTenant(context.Background(), e.tenantID, id)
	require.NoError(t, err)
	return o
}

func (e *testEnv) reloadContract(t *testing.T, id uuid.UUID) *finance.Contract {
	t.Helper()
	c, err := e.store.Repositories().Contracts.FindByIDForTenant(context.Background(), e.tenantID, id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) auditCount(t *testing.T, action finance.AuditAction) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.AuditLogModel{}).Where("action = ?", action).Count(&n).Error)
	return n
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (r *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType()
	}
	return types
}

// failingAuditLog rejects every write
type failingAuditLog struct{}

func (failingAuditLog) Record(context.Context, finance.AuditEntry) error {
	return errors.New("audit store unavailable")
}

func (failingAuditLog) ListByPayment(context.Context, uuid.UUID, uuid.UUID) ([]finance.AuditEntry, error) {
	return nil, errors.New("audit store unavailable")
}

// conflictingStore makes the first failures transactions end in an
// optimistic lock conflict after fn has run, so their writes roll back
type conflictingStore struct {
	finance.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictingStore) Transaction(ctx context.Context, fn func(ctx context.Context, repos finance.Repositories) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	return s.Store.Transaction(ctx, func(ctx context.Context, repos finance.Repositories) error {
		if err := fn(ctx, repos); err != nil {
			return err
		}
		if fail {
			return shared.NewDomainError(shared.ErrConcurrencyConflict.Code, "simulated concurrent update")
		}
		return nil
	})
}
