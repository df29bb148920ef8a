package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPaymentRepository implements finance.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// FindByIDForTenant finds a payment by ID for a specific tenant
func (r *GormPaymentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Payment, error) {
	return r.find(r.db.WithContext(ctx), tenantID, id)
}

// FindByIDForUpdate finds a payment and locks its row until the transaction ends
func (r *GormPaymentRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*finance.Payment, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), tenantID, id)
}

func (r *GormPaymentRepository) find(db *gorm.DB, tenantID, id uuid.UUID) (*finance.Payment, error) {
	var model models.PaymentModel
	if err := db.Scopes(tenant.Scope(tenantID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NotFound("payment", id)
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindUnallocated lists payments that still have money to link or allocate.
// Failed payments are skipped.
func (r *GormPaymentRepository) FindUnallocated(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*finance.Payment, error) {
	orderBy := ValidateSortField(filter.OrderBy, PaymentSortFields, "payment_date")
	orderDir := ValidateSortOrder(filter.OrderDir, "ASC")

	var paymentModels []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("allocation_status <> ? AND processing_status <> ?",
			finance.AllocationStatusAllocated, finance.ProcessingStatusFailed).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Order("id ASC").
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&paymentModels).Error; err != nil {
		return nil, err
	}

	payments := make([]*finance.Payment, 0, len(paymentModels))
	for i := range paymentModels {
		p, err := paymentModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// Create inserts a new payment
func (r *GormPaymentRepository) Create(ctx context.Context, payment *finance.Payment) error {
	model := models.PaymentModelFromDomain(payment)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.NewDomainErrorf(shared.ErrAlreadyExists.Code, "payment %s already exists", payment.PaymentNumber)
		}
		return err
	}
	return nil
}

// SaveWithLock saves with optimistic locking. The row is only updated if its
// version still equals the payment's; on success both move to the next version.
func (r *GormPaymentRepository) SaveWithLock(ctx context.Context, payment *finance.Payment) error {
	model := models.PaymentModelFromDomain(payment)
	model.UpdatedAt = time.Now()
	columns := model.MutableColumns()
	columns["version"] = payment.Version + 1

	result := r.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Scopes(tenant.Scope(payment.TenantID)).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainErrorf(shared.ErrConcurrencyConflict.Code,
			"payment %s has been modified by another transaction", payment.PaymentNumber)
	}
	payment.Version++
	payment.UpdatedAt = model.UpdatedAt
	return nil
}

var _ finance.PaymentRepository = (*GormPaymentRepository)(nil)
