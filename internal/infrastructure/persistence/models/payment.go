package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentModel is the persistence model for the Payment aggregate root.
// The link is stored as two nullable columns, at most one of them set.
type PaymentModel struct {
	TenantAggregateModel
	PaymentNumber     string                   `gorm:"type:varchar(50);not null;index"`
	CustomerID        uuid.UUID                `gorm:"type:uuid;not null;index"`
	Amount            decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency          string                   `gorm:"type:varchar(3);not null"`
	PaymentDate       time.Time                `gorm:"not null;index"`
	Reference         string                   `gorm:"type:varchar(200)"`
	InvoiceID         *uuid.UUID               `gorm:"type:uuid;index"`
	ContractID        *uuid.UUID               `gorm:"type:uuid;index"`
	AllocatedAmount   decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	CreditedAmount    decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	AllocationStatus  finance.AllocationStatus `gorm:"type:varchar(30);not null;index"`
	ProcessingStatus  finance.ProcessingStatus `gorm:"type:varchar(20);not null"`
	LinkingConfidence int                      `gorm:"not null;default:0"`
	LinkedAt          *time.Time
	Notes             string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() (*finance.Payment, error) {
	target, err := finance.TargetFromColumns(m.InvoiceID, m.ContractID)
	if err != nil {
		return nil, err
	}
	return &finance.Payment{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		PaymentNumber:       m.PaymentNumber,
		CustomerID:          m.CustomerID,
		Amount:              m.Amount,
		Currency:            m.Currency,
		PaymentDate:         m.PaymentDate,
		Reference:           m.Reference,
		Target:              target,
		AllocatedAmount:     m.AllocatedAmount,
		CreditedAmount:      m.CreditedAmount,
		AllocationStatus:    m.AllocationStatus,
		ProcessingStatus:    m.ProcessingStatus,
		LinkingConfidence:   m.LinkingConfidence,
		LinkedAt:            m.LinkedAt,
		Notes:               m.Notes,
	}, nil
}

// FromDomain populates the persistence model from a domain Payment
func (m *PaymentModel) FromDomain(p *finance.Payment) {
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	m.PaymentNumber = p.PaymentNumber
	m.CustomerID = p.CustomerID
	m.Amount = p.Amount
	m.Currency = p.Currency
	m.PaymentDate = p.PaymentDate
	m.Reference = p.Reference
	m.InvoiceID = p.Target.InvoiceID()
	m.ContractID = p.Target.ContractID()
	m.AllocatedAmount = p.AllocatedAmount
	m.CreditedAmount = p.CreditedAmount
	m.AllocationStatus = p.AllocationStatus
	m.ProcessingStatus = p.ProcessingStatus
	m.LinkingConfidence = p.LinkingConfidence
	m.LinkedAt = p.LinkedAt
	m.Notes = p.Notes
}

// MutableColumns returns the columns a save may change. A map is used so
// that zero values and cleared links are written too.
func (m *PaymentModel) MutableColumns() map[string]any {
	return map[string]any{
		"reference":          m.Reference,
		"invoice_id":         m.InvoiceID,
		"contract_id":        m.ContractID,
		"allocated_amount":   m.AllocatedAmount,
		"credited_amount":    m.CreditedAmount,
		"allocation_status":  m.AllocationStatus,
		"processing_status":  m.ProcessingStatus,
		"linking_confidence": m.LinkingConfidence,
		"linked_at":          m.LinkedAt,
		"notes":              m.Notes,
		"updated_at":         m.UpdatedAt,
	}
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment
func PaymentModelFromDomain(p *finance.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}
