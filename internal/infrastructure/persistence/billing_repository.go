package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormInvoiceReader implements finance.InvoiceReader over the billing tables
type GormInvoiceReader struct {
	db *gorm.DB
}

// NewGormInvoiceReader creates a new GormInvoiceReader
func NewGormInvoiceReader(db *gorm.DB) *GormInvoiceReader {
	return &GormInvoiceReader{db: db}
}

// FindByIDForTenant finds an invoice by ID for a specific tenant
func (r *GormInvoiceReader) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NotFound("invoice", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpenByCustomer returns the customer's invoices that are neither paid nor cancelled
func (r *GormInvoiceReader) FindOpenByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]*finance.Invoice, error) {
	var rows []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("customer_id = ? AND status NOT IN ?", customerID,
			[]string{finance.InvoiceStatusPaid, finance.InvoiceStatusCancelled}).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	invoices := make([]*finance.Invoice, len(rows))
	for i := range rows {
		invoices[i] = rows[i].ToDomain()
	}
	return invoices, nil
}

var _ finance.InvoiceReader = (*GormInvoiceReader)(nil)

// GormContractRepository implements finance.ContractRepository
type GormContractRepository struct {
	db *gorm.DB
}

// NewGormContractRepository creates a new GormContractRepository
func NewGormContractRepository(db *gorm.DB) *GormContractRepository {
	return &GormContractRepository{db: db}
}

// FindByIDForTenant finds a contract by ID for a specific tenant
func (r *GormContractRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Contract, error) {
	var model models.ContractModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NotFound("contract", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByCustomer returns the customer's active contracts
func (r *GormContractRepository) FindActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]*finance.Contract, error) {
	var rows []models.ContractModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("customer_id = ? AND status = ?", customerID, finance.ContractStatusActive).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	contracts := make([]*finance.Contract, len(rows))
	for i := range rows {
		contracts[i] = rows[i].ToDomain()
	}
	return contracts, nil
}

// AddToTotalPaid increments the contract's paid total in place
func (r *GormContractRepository) AddToTotalPaid(ctx context.Context, tenantID, contractID uuid.UUID, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("id = ?", contractID).
		Updates(map[string]any{
			"total_paid": gorm.Expr("total_paid + ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NotFound("contract", contractID)
	}
	return nil
}

var _ finance.ContractRepository = (*GormContractRepository)(nil)
