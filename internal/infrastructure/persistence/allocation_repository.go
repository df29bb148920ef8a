package persistence

import (
	"context"
	"errors"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormAllocationRepository implements finance.AllocationRepository using GORM.
// Rows are only ever inserted.
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// Create inserts allocations in one statement
func (r *GormAllocationRepository) Create(ctx context.Context, allocations ...finance.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]*models.AllocationModel, len(allocations))
	for i, a := range allocations {
		rows[i] = models.AllocationModelFromDomain(a)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindByIDForTenant finds an allocation by ID for a specific tenant
func (r *GormAllocationRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Allocation, error) {
	var model models.AllocationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NotFound("allocation", id)
		}
		return nil, err
	}
	a := model.ToDomain()
	return &a, nil
}

// FindByPayment returns a payment's allocations and reversals in creation order
func (r *GormAllocationRepository) FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]finance.Allocation, error) {
	var rows []models.AllocationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	allocations := make([]finance.Allocation, len(rows))
	for i := range rows {
		allocations[i] = rows[i].ToDomain()
	}
	return allocations, nil
}

// FindReversalOf returns the reversal row of an allocation, or nil if there is none
func (r *GormAllocationRepository) FindReversalOf(ctx context.Context, tenantID, allocationID uuid.UUID) (*finance.Allocation, error) {
	var rows []models.AllocationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("reverses_id = ?", allocationID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	a := rows[0].ToDomain()
	return &a, nil
}

// SumByObligation nets every allocation and reversal made against an obligation
func (r *GormAllocationRepository) SumByObligation(ctx context.Context, tenantID, obligationID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.AllocationModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("obligation_id = ?", obligationID).
		Select("COALESCE(SUM(amount), 0)").
		Row().
		Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

var _ finance.AllocationRepository = (*GormAllocationRepository)(nil)

// GormCreditRepository implements finance.CreditRepository using GORM
type GormCreditRepository struct {
	db *gorm.DB
}

// NewGormCreditRepository creates a new GormCreditRepository
func NewGormCreditRepository(db *gorm.DB) *GormCreditRepository {
	return &GormCreditRepository{db: db}
}

// Add appends a credit entry
func (r *GormCreditRepository) Add(ctx context.Context, entry finance.CreditEntry) error {
	return r.db.WithContext(ctx).Create(models.CustomerCreditModelFromDomain(entry)).Error
}

// BalanceForCustomer sums a customer's credit entries
func (r *GormCreditRepository) BalanceForCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.CustomerCreditModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("customer_id = ?", customerID).
		Select("COALESCE(SUM(amount), 0)").
		Row().
		Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

var _ finance.CreditRepository = (*GormCreditRepository)(nil)
