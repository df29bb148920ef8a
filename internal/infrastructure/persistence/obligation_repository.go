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
	"gorm.io/gorm"
)

var openObligationStatuses = []finance.ObligationStatus{
	finance.ObligationStatusPending,
	finance.ObligationStatusPartiallyPaid,
	finance.ObligationStatusOverdue,
}

// GormObligationRepository implements finance.ObligationRepository using GORM
type GormObligationRepository struct {
	db *gorm.DB
}

// NewGormObligationRepository creates a new GormObligationRepository
func NewGormObligationRepository(db *gorm.DB) *GormObligationRepository {
	return &GormObligationRepository{db: db}
}

// FindByIDForTenant finds an obligation by ID for a specific tenant
func (r *GormObligationRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Obligation, error) {
	var model models.ObligationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NotFound("obligation", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpenByCustomerForUpdate returns a customer's open obligations, oldest
// due first, with their rows locked
func (r *GormObligationRepository) FindOpenByCustomerForUpdate(ctx context.Context, tenantID, customerID uuid.UUID) ([]*finance.Obligation, error) {
	var obligationModels []models.ObligationModel
	if err := forUpdate(r.db.WithContext(ctx)).
		Scopes(tenant.Scope(tenantID)).
		Where("customer_id = ? AND status IN ?", customerID, openObligationStatuses).
		Order("due_date ASC").
		Order("created_at ASC").
		Find(&obligationModels).Error; err != nil {
		return nil, err
	}
	return toObligations(obligationModels), nil
}

// FindActiveByContract returns the non-cancelled obligations of a contract
func (r *GormObligationRepository) FindActiveByContract(ctx context.Context, tenantID, contractID uuid.UUID) ([]*finance.Obligation, error) {
	var obligationModels []models.ObligationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("contract_id = ? AND status <> ?", contractID, finance.ObligationStatusCancelled).
		Order("due_date ASC").
		Find(&obligationModels).Error; err != nil {
		return nil, err
	}
	return toObligations(obligationModels), nil
}

// Create inserts a new obligation. The unique billing month index turns a
// concurrent duplicate into ALREADY_EXISTS.
func (r *GormObligationRepository) Create(ctx context.Context, obligation *finance.Obligation) error {
	model := models.ObligationModelFromDomain(obligation)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.NewDomainErrorf(shared.ErrAlreadyExists.Code,
				"contract already has an obligation for %s", model.BillingMonth)
		}
		return err
	}
	return nil
}

// SaveWithLock saves with optimistic locking
func (r *GormObligationRepository) SaveWithLock(ctx context.Context, obligation *finance.Obligation) error {
	model := models.ObligationModelFromDomain(obligation)
	model.UpdatedAt = time.Now()
	columns := model.MutableColumns()
	columns["version"] = obligation.Version + 1

	result := r.db.WithContext(ctx).
		Model(&models.ObligationModel{}).
		Scopes(tenant.Scope(obligation.TenantID)).
		Where("id = ? AND version = ?", obligation.ID, obligation.Version).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainErrorf(shared.ErrConcurrencyConflict.Code,
			"obligation %s has been modified by another transaction", obligation.ObligationNumber)
	}
	obligation.Version++
	obligation.UpdatedAt = model.UpdatedAt
	return nil
}

func toObligations(obligationModels []models.ObligationModel) []*finance.Obligation {
	obligations := make([]*finance.Obligation, len(obligationModels))
	for i := range obligationModels {
		obligations[i] = obligationModels[i].ToDomain()
	}
	return obligations
}

var _ finance.ObligationRepository = (*GormObligationRepository)(nil)
