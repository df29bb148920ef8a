package finance

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationType records how an allocation came about
type AllocationType string

const (
	AllocationTypeAutomatic AllocationType = "automatic"
	AllocationTypeManual    AllocationType = "manual"
	AllocationTypeReversal  AllocationType = "reversal"
)

// IsValid returns true if the allocation type is valid
func (t AllocationType) IsValid() bool {
	switch t {
	case AllocationTypeAutomatic, AllocationTypeManual, AllocationTypeReversal:
		return true
	}
	return false
}

// Allocation applies part of one payment to one obligation. Allocations are
// never edited; a correction is a new reversal row with a negative amount
// pointing at the original through ReversesID.
type Allocation struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PaymentID    uuid.UUID
	ObligationID uuid.UUID
	Amount       decimal.Decimal
	Type         AllocationType
	Strategy     AllocationStrategyType
	ReversesID   *uuid.UUID
	Actor        string
	CreatedAt    time.Time
}

// NewAllocation creates a positive allocation of a payment to an obligation
func NewAllocation(
	payment *Payment,
	obligation *Obligation,
	amount decimal.Decimal,
	allocationType AllocationType,
	strategyType AllocationStrategyType,
	actor string,
) (Allocation, error) {
	if allocationType != AllocationTypeAutomatic && allocationType != AllocationTypeManual {
		return Allocation{}, shared.NewDomainErrorf("INVALID_ALLOCATION_TYPE", "allocation type %q is not valid here", allocationType)
	}
	if !amount.IsPositive() {
		return Allocation{}, shared.NewDomainError("INVALID_AMOUNT", "Allocation amount must be positive")
	}
	if payment.TenantID != obligation.TenantID {
		return Allocation{}, shared.NewDomainError("INVALID_ALLOCATION", "Payment and obligation belong to different tenants")
	}
	return Allocation{
		ID:           uuid.New(),
		TenantID:     payment.TenantID,
		PaymentID:    payment.ID,
		ObligationID: obligation.ID,
		Amount:       amount,
		Type:         allocationType,
		Strategy:     strategyType,
		Actor:        actor,
		CreatedAt:    time.Now(),
	}, nil
}

// NewReversal creates the counter-allocation for original
func NewReversal(original Allocation, actor string) (Allocation, error) {
	if original.Type == AllocationTypeReversal {
		return Allocation{}, shared.NewDomainError("INVALID_REVERSAL", "A reversal cannot itself be reversed")
	}
	if !original.Amount.IsPositive() {
		return Allocation{}, shared.NewDomainError("INVALID_REVERSAL", "Only positive allocations can be reversed")
	}
	reversesID := original.ID
	return Allocation{
		ID:           uuid.New(),
		TenantID:     original.TenantID,
		PaymentID:    original.PaymentID,
		ObligationID: original.ObligationID,
		Amount:       original.Amount.Neg(),
		Type:         AllocationTypeReversal,
		Strategy:     original.Strategy,
		ReversesID:   &reversesID,
		Actor:        actor,
		CreatedAt:    time.Now(),
	}, nil
}

// IsReversal reports whether the allocation undoes another one
func (a Allocation) IsReversal() bool {
	return a.Type == AllocationTypeReversal
}

// SumAllocations nets a set of allocations, reversals included
func SumAllocations(allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total
}
