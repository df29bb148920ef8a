package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationModel is an insert-only row of payment_allocations
type AllocationModel struct {
	ID             uuid.UUID                      `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID                      `gorm:"type:uuid;not null;index"`
	PaymentID      uuid.UUID                      `gorm:"type:uuid;not null;index"`
	ObligationID   uuid.UUID                      `gorm:"type:uuid;not null;index"`
	Amount         decimal.Decimal                `gorm:"type:decimal(18,4);not null"`
	AllocationType finance.AllocationType         `gorm:"column:allocation_type;type:varchar(20);not null"`
	Strategy       finance.AllocationStrategyType `gorm:"type:varchar(30);not null"`
	ReversesID     *uuid.UUID                     `gorm:"type:uuid;index"`
	Actor          string                         `gorm:"type:varchar(100)"`
	CreatedAt      time.Time                      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the persistence model to a domain Allocation
func (m *AllocationModel) ToDomain() finance.Allocation {
	return finance.Allocation{
		ID:           m.ID,
		TenantID:     m.TenantID,
		PaymentID:    m.PaymentID,
		ObligationID: m.ObligationID,
		Amount:       m.Amount,
		Type:         m.AllocationType,
		Strategy:     m.Strategy,
		ReversesID:   m.ReversesID,
		Actor:        m.Actor,
		CreatedAt:    m.CreatedAt,
	}
}

// AllocationModelFromDomain creates a persistence model from a domain Allocation
func AllocationModelFromDomain(a finance.Allocation) *AllocationModel {
	return &AllocationModel{
		ID:             a.ID,
		TenantID:       a.TenantID,
		PaymentID:      a.PaymentID,
		ObligationID:   a.ObligationID,
		Amount:         a.Amount,
		AllocationType: a.Type,
		Strategy:       a.Strategy,
		ReversesID:     a.ReversesID,
		Actor:          a.Actor,
		CreatedAt:      a.CreatedAt,
	}
}

// CustomerCreditModel is one line of the customer credit ledger
type CustomerCreditModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID uuid.UUID       `gorm:"type:uuid;not null;index"`
	PaymentID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency   string          `gorm:"type:varchar(3);not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CustomerCreditModel) TableName() string {
	return "customer_credits"
}

// CustomerCreditModelFromDomain creates a persistence model from a credit entry
func CustomerCreditModelFromDomain(e finance.CreditEntry) *CustomerCreditModel {
	return &CustomerCreditModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		CustomerID: e.CustomerID,
		PaymentID:  e.PaymentID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		CreatedAt:  e.CreatedAt,
	}
}
