package finance

import (
	"fmt"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

// TargetType identifies what kind of document a payment settles
type TargetType string

const (
	TargetTypeInvoice  TargetType = "invoice"
	TargetTypeContract TargetType = "contract"
)

// IsValid returns true if the target type is valid
func (t TargetType) IsValid() bool {
	return t == TargetTypeInvoice || t == TargetTypeContract
}

// String returns the string representation
func (t TargetType) String() string {
	return string(t)
}

// PaymentTarget is the document a payment is linked to: an invoice, a
// contract, or nothing. The zero value is "no target", and a target can never
// reference an invoice and a contract at once.
type PaymentTarget struct {
	kind TargetType
	id   uuid.UUID
}

// NoTarget returns the empty target
func NoTarget() PaymentTarget {
	return PaymentTarget{}
}

// InvoiceTarget links to an invoice
func InvoiceTarget(id uuid.UUID) PaymentTarget {
	return PaymentTarget{kind: TargetTypeInvoice, id: id}
}

// ContractTarget links to a contract
func ContractTarget(id uuid.UUID) PaymentTarget {
	return PaymentTarget{kind: TargetTypeContract, id: id}
}

// NewPaymentTarget builds a target from its type name
func NewPaymentTarget(targetType TargetType, id uuid.UUID) (PaymentTarget, error) {
	if !targetType.IsValid() {
		return NoTarget(), shared.NewDomainErrorf("INVALID_TARGET_TYPE", "target type %q must be invoice or contract", targetType)
	}
	if id == uuid.Nil {
		return NoTarget(), shared.NewDomainError("INVALID_TARGET", "Target ID cannot be empty")
	}
	return PaymentTarget{kind: targetType, id: id}, nil
}

// TargetFromColumns rebuilds a target from the nullable invoice and contract
// columns a store keeps. Having both set is corrupt data.
func TargetFromColumns(invoiceID, contractID *uuid.UUID) (PaymentTarget, error) {
	switch {
	case invoiceID != nil && contractID != nil:
		return NoTarget(), shared.NewDomainErrorf("INVALID_TARGET", "payment links both invoice %s and contract %s", *invoiceID, *contractID)
	case invoiceID != nil:
		return InvoiceTarget(*invoiceID), nil
	case contractID != nil:
		return ContractTarget(*contractID), nil
	default:
		return NoTarget(), nil
	}
}

// Type returns the target type, empty for no target
func (t PaymentTarget) Type() TargetType { return t.kind }

// ID returns the linked document ID
func (t PaymentTarget) ID() uuid.UUID { return t.id }

// IsNone reports whether the payment has no link
func (t PaymentTarget) IsNone() bool { return t.kind == "" }

// IsInvoice reports whether the payment is linked to an invoice
func (t PaymentTarget) IsInvoice() bool { return t.kind == TargetTypeInvoice }

// IsContract reports whether the payment is linked to a contract
func (t PaymentTarget) IsContract() bool { return t.kind == TargetTypeContract }

// Matches reports whether the target points at the given document
func (t PaymentTarget) Matches(targetType TargetType, id uuid.UUID) bool {
	return !t.IsNone() && t.kind == targetType && t.id == id
}

// InvoiceID returns the invoice ID column value
func (t PaymentTarget) InvoiceID() *uuid.UUID {
	if !t.IsInvoice() {
		return nil
	}
	id := t.id
	return &id
}

// ContractID returns the contract ID column value
func (t PaymentTarget) ContractID() *uuid.UUID {
	if !t.IsContract() {
		return nil
	}
	id := t.id
	return &id
}

func (t PaymentTarget) String() string {
	if t.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%s:%s", t.kind, t.id)
}
