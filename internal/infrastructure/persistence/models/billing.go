package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel maps the billing module's invoices table
type InvoiceModel struct {
	BaseModel
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	ContractID    *uuid.UUID      `gorm:"type:uuid;index"`
	InvoiceNumber string          `gorm:"type:varchar(50);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency      string          `gorm:"type:varchar(3);not null"`
	DueDate       *time.Time
	Status        string `gorm:"type:varchar(20);not null;index"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *finance.Invoice {
	return &finance.Invoice{
		ID:            m.ID,
		TenantID:      m.TenantID,
		CustomerID:    m.CustomerID,
		ContractID:    m.ContractID,
		InvoiceNumber: m.InvoiceNumber,
		TotalAmount:   m.TotalAmount,
		Currency:      m.Currency,
		DueDate:       m.DueDate,
		Status:        m.Status,
		CreatedAt:     m.CreatedAt,
	}
}

// InvoiceModelFromDomain creates a persistence model from a domain Invoice
func InvoiceModelFromDomain(i *finance.Invoice) *InvoiceModel {
	return &InvoiceModel{
		BaseModel:     BaseModel{ID: i.ID, CreatedAt: i.CreatedAt, UpdatedAt: i.CreatedAt},
		TenantID:      i.TenantID,
		CustomerID:    i.CustomerID,
		ContractID:    i.ContractID,
		InvoiceNumber: i.InvoiceNumber,
		TotalAmount:   i.TotalAmount,
		Currency:      i.Currency,
		DueDate:       i.DueDate,
		Status:        i.Status,
	}
}

// ContractModel maps the billing module's contracts table
type ContractModel struct {
	BaseModel
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	ContractNumber string          `gorm:"type:varchar(50);not null"`
	ContractAmount decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MonthlyAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalPaid      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	StartDate      time.Time       `gorm:"not null"`
	EndDate        *time.Time
	Status         string `gorm:"type:varchar(20);not null;index"`
}

// TableName returns the table name for GORM
func (ContractModel) TableName() string {
	return "contracts"
}

// ToDomain converts the persistence model to a domain Contract
func (m *ContractModel) ToDomain() *finance.Contract {
	return &finance.Contract{
		ID:             m.ID,
		TenantID:       m.TenantID,
		CustomerID:     m.CustomerID,
		ContractNumber: m.ContractNumber,
		ContractAmount: m.ContractAmount,
		MonthlyAmount:  m.MonthlyAmount,
		TotalPaid:      m.TotalPaid,
		Currency:       m.Currency,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
}

// ContractModelFromDomain creates a persistence model from a domain Contract
func ContractModelFromDomain(c *finance.Contract) *ContractModel {
	return &ContractModel{
		BaseModel:      BaseModel{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.CreatedAt},
		TenantID:       c.TenantID,
		CustomerID:     c.CustomerID,
		ContractNumber: c.ContractNumber,
		ContractAmount: c.ContractAmount,
		MonthlyAmount:  c.MonthlyAmount,
		TotalPaid:      c.TotalPaid,
		Currency:       c.Currency,
		StartDate:      c.StartDate,
		EndDate:        c.EndDate,
		Status:         c.Status,
	}
}
