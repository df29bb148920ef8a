package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/google/uuid"
)

// AuditLogModel is an append-only row of reconciliation_audit_logs
type AuditLogModel struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	PaymentID  *uuid.UUID          `gorm:"type:uuid;index"`
	Action     finance.AuditAction `gorm:"type:varchar(30);not null;index"`
	Actor      string              `gorm:"type:varchar(100)"`
	TargetType finance.TargetType  `gorm:"type:varchar(20)"`
	TargetID   *uuid.UUID          `gorm:"type:uuid"`
	Confidence int                 `gorm:"not null;default:0"`
	Reason     string              `gorm:"type:text"`
	CreatedAt  time.Time           `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditLogModel) TableName() string {
	return "reconciliation_audit_logs"
}

// ToDomain converts the persistence model to a domain AuditEntry
func (m *AuditLogModel) ToDomain() finance.AuditEntry {
	return finance.AuditEntry{
		ID:         m.ID,
		TenantID:   m.TenantID,
		PaymentID:  m.PaymentID,
		Action:     m.Action,
		Actor:      m.Actor,
		TargetType: m.TargetType,
		TargetID:   m.TargetID,
		Confidence: m.Confidence,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
	}
}

// AuditLogModelFromDomain creates a persistence model from a domain AuditEntry
func AuditLogModelFromDomain(e finance.AuditEntry) *AuditLogModel {
	return &AuditLogModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		PaymentID:  e.PaymentID,
		Action:     e.Action,
		Actor:      e.Actor,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Confidence: e.Confidence,
		Reason:     e.Reason,
		CreatedAt:  e.CreatedAt,
	}
}

// AllModels lists every model owned by this module, for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&PaymentModel{},
		&ObligationModel{},
		&AllocationModel{},
		&InvoiceModel{},
		&ContractModel{},
		&CustomerCreditModel{},
		&AuditLogModel{},
	}
}
