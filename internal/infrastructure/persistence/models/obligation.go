package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObligationModel is the persistence model for the Obligation aggregate root
type ObligationModel struct {
	TenantAggregateModel
	ContractID       uuid.UUID                `gorm:"type:uuid;not null;index"`
	CustomerID       uuid.UUID                `gorm:"type:uuid;not null;index"`
	ObligationNumber string                   `gorm:"type:varchar(50);not null"`
	ObligationType   finance.ObligationType   `gorm:"column:obligation_type;type:varchar(20);not null"`
	OriginalAmount   decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	PaidAmount       decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	RemainingAmount  decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency         string                   `gorm:"type:varchar(3);not null"`
	DueDate          *time.Time               `gorm:"index"`
	BillingMonth     string                   `gorm:"type:varchar(7);not null"`
	Status           finance.ObligationStatus `gorm:"type:varchar(20);not null;index"`
}

// TableName returns the table name for GORM
func (ObligationModel) TableName() string {
	return "obligations"
}

// ToDomain converts the persistence model to a domain Obligation
func (m *ObligationModel) ToDomain() *finance.Obligation {
	return &finance.Obligation{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		ContractID:          m.ContractID,
		CustomerID:          m.CustomerID,
		ObligationNumber:    m.ObligationNumber,
		Type:                m.ObligationType,
		OriginalAmount:      m.OriginalAmount,
		PaidAmount:          m.PaidAmount,
		RemainingAmount:     m.RemainingAmount,
		Currency:            m.Currency,
		DueDate:             m.DueDate,
		Status:              m.Status,
	}
}

// FromDomain populates the persistence model from a domain Obligation.
// BillingMonth backs the one-obligation-per-contract-month index.
func (m *ObligationModel) FromDomain(o *finance.Obligation) {
	m.FromDomainTenantAggregateRoot(o.TenantAggregateRoot)
	m.ContractID = o.ContractID
	m.CustomerID = o.CustomerID
	m.ObligationNumber = o.ObligationNumber
	m.ObligationType = o.Type
	m.OriginalAmount = o.OriginalAmount
	m.PaidAmount = o.PaidAmount
	m.RemainingAmount = o.RemainingAmount
	m.Currency = o.Currency
	m.DueDate = o.DueDate
	m.BillingMonth = o.MonthKey()
	m.Status = o.Status
}

// MutableColumns returns the columns a save may change
func (m *ObligationModel) MutableColumns() map[string]any {
	return map[string]any{
		"paid_amount":      m.PaidAmount,
		"remaining_amount": m.RemainingAmount,
		"status":           m.Status,
		"updated_at":       m.UpdatedAt,
	}
}

// ObligationModelFromDomain creates a new persistence model from a domain Obligation
func ObligationModelFromDomain(o *finance.Obligation) *ObligationModel {
	m := &ObligationModel{}
	m.FromDomain(o)
	return m
}
