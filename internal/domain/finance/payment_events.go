package finance

import (
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate and event type names
const (
	AggregateTypePayment = "Payment"

	EventTypePaymentLinked      = "PaymentLinked"
	EventTypePaymentUnlinked    = "PaymentUnlinked"
	EventTypePaymentAllocated   = "PaymentAllocated"
	EventTypeAllocationReversed = "AllocationReversed"
)

// PaymentLinkedEvent is raised when a payment is attached to an invoice or contract
type PaymentLinkedEvent struct {
	shared.BaseDomainEvent
	PaymentID      uuid.UUID  `json:"payment_id"`
	PaymentNumber  string     `json:"payment_number"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	TargetType     TargetType `json:"target_type"`
	TargetID       uuid.UUID  `json:"target_id"`
	PreviousTarget string     `json:"previous_target"`
	Confidence     int        `json:"confidence"`
	Actor          string     `json:"actor"`
}

// NewPaymentLinkedEvent creates a new PaymentLinkedEvent
func NewPaymentLinkedEvent(p *Payment, previous PaymentTarget, actor string) *PaymentLinkedEvent {
	return &PaymentLinkedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentLinked, AggregateTypePayment, p.ID, p.TenantID),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		CustomerID:      p.CustomerID,
		TargetType:      p.Target.Type(),
		TargetID:        p.Target.ID(),
		PreviousTarget:  previous.String(),
		Confidence:      p.LinkingConfidence,
		Actor:           actor,
	}
}

// PaymentUnlinkedEvent is raised when a link is removed
type PaymentUnlinkedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID  `json:"payment_id"`
	PaymentNumber string     `json:"payment_number"`
	TargetType    TargetType `json:"target_type"`
	TargetID      uuid.UUID  `json:"target_id"`
	Actor         string     `json:"actor"`
}

// NewPaymentUnlinkedEvent creates a new PaymentUnlinkedEvent
func NewPaymentUnlinkedEvent(p *Payment, previous PaymentTarget, actor string) *PaymentUnlinkedEvent {
	return &PaymentUnlinkedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentUnlinked, AggregateTypePayment, p.ID, p.TenantID),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		TargetType:      previous.Type(),
		TargetID:        previous.ID(),
		Actor:           actor,
	}
}

// PaymentAllocatedEvent is raised when allocations are applied to a payment
type PaymentAllocatedEvent struct {
	shared.BaseDomainEvent
	PaymentID        uuid.UUID        `json:"payment_id"`
	PaymentNumber    string           `json:"payment_number"`
	CustomerID       uuid.UUID        `json:"customer_id"`
	AllocationCount  int              `json:"allocation_count"`
	AllocatedNow     decimal.Decimal  `json:"allocated_now"`
	CreditedNow      decimal.Decimal  `json:"credited_now"`
	TotalAllocated   decimal.Decimal  `json:"total_allocated"`
	AllocationStatus AllocationStatus `json:"allocation_status"`
}

// NewPaymentAllocatedEvent creates a new PaymentAllocatedEvent
func NewPaymentAllocatedEvent(p *Payment, allocations []Allocation, credit decimal.Decimal) *PaymentAllocatedEvent {
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	return &PaymentAllocatedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypePaymentAllocated, AggregateTypePayment, p.ID, p.TenantID),
		PaymentID:        p.ID,
		PaymentNumber:    p.PaymentNumber,
		CustomerID:       p.CustomerID,
		AllocationCount:  len(allocations),
		AllocatedNow:     allocated,
		CreditedNow:      credit,
		TotalAllocated:   p.AllocatedAmount,
		AllocationStatus: p.AllocationStatus,
	}
}

// AllocationReversedEvent is raised when an allocation is reversed
type AllocationReversedEvent struct {
	shared.BaseDomainEvent
	PaymentID      uuid.UUID       `json:"payment_id"`
	AllocationID   uuid.UUID       `json:"allocation_id"`
	ReversedID     uuid.UUID       `json:"reversed_id"`
	ObligationID   uuid.UUID       `json:"obligation_id"`
	Amount         decimal.Decimal `json:"amount"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Actor          string          `json:"actor"`
}

// NewAllocationReversedEvent creates a new AllocationReversedEvent
func NewAllocationReversedEvent(p *Payment, reversal Allocation, actor string) *AllocationReversedEvent {
	var reversed uuid.UUID
	if reversal.ReversesID != nil {
		reversed = *reversal.ReversesID
	}
	return &AllocationReversedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAllocationReversed, AggregateTypePayment, p.ID, p.TenantID),
		PaymentID:       p.ID,
		AllocationID:    reversal.ID,
		ReversedID:      reversed,
		ObligationID:    reversal.ObligationID,
		Amount:          reversal.Amount,
		TotalAllocated:  p.AllocatedAmount,
		Actor:           actor,
	}
}
