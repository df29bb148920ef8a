package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of reconciliation decision being recorded
type AuditAction string

const (
	AuditActionAutoLinked         AuditAction = "auto_linked"
	AuditActionNoMatch            AuditAction = "no_match"
	AuditActionManualLink         AuditAction = "manual_link"
	AuditActionUnlink             AuditAction = "unlink"
	AuditActionAllocated          AuditAction = "allocated"
	AuditActionAllocationReversed AuditAction = "allocation_reversed"
	AuditActionGuardRejected      AuditAction = "guard_rejected"
)

// AuditEntry is one append-only record of a linking or allocation decision
type AuditEntry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PaymentID  *uuid.UUID
	Action     AuditAction
	Actor      string
	TargetType TargetType
	TargetID   *uuid.UUID
	Confidence int
	Reason     string
	CreatedAt  time.Time
}

// NewAuditEntry creates an audit entry for a payment decision
func NewAuditEntry(tenantID uuid.UUID, paymentID *uuid.UUID, action AuditAction, actor, reason string) AuditEntry {
	return AuditEntry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		PaymentID: paymentID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// WithTarget sets the document the decision concerns
func (e AuditEntry) WithTarget(target PaymentTarget, confidence int) AuditEntry {
	if !target.IsNone() {
		e.TargetType = target.Type()
		id := target.ID()
		e.TargetID = &id
	}
	e.Confidence = confidence
	return e
}

// AuditSink receives audit entries. Delivery is best effort and a failure
// never undoes the financial change it describes.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditLog is an AuditSink that can also be read back
type AuditLog interface {
	AuditSink
	ListByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]AuditEntry, error)
}
