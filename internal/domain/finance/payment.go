package finance

import (
	"strings"
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationStatus tracks how much of a payment has been applied to obligations
type AllocationStatus string

const (
	AllocationStatusUnallocated        AllocationStatus = "unallocated"
	AllocationStatusPartiallyAllocated AllocationStatus = "partially_allocated"
	AllocationStatusAllocated          AllocationStatus = "allocated"
)

// IsValid returns true if the status is valid
func (s AllocationStatus) IsValid() bool {
	switch s {
	case AllocationStatusUnallocated, AllocationStatusPartiallyAllocated, AllocationStatusAllocated:
		return true
	}
	return false
}

// String returns the string representation
func (s AllocationStatus) String() string {
	return string(s)
}

// ProcessingStatus is the payment's processing lifecycle
type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusCompleted ProcessingStatus = "completed"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// IsValid returns true if the status is valid
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	}
	return false
}

// String returns the string representation
func (s ProcessingStatus) String() string {
	return string(s)
}

// Payment is money received from a customer. The received amount never
// changes; matching and allocation only set the link, the applied amounts
// and the statuses.
type Payment struct {
	shared.TenantAggregateRoot
	PaymentNumber     string
	CustomerID        uuid.UUID
	Amount            decimal.Decimal
	Currency          string
	PaymentDate       time.Time
	Reference         string
	Target            PaymentTarget
	AllocatedAmount   decimal.Decimal
	CreditedAmount    decimal.Decimal
	AllocationStatus  AllocationStatus
	ProcessingStatus  ProcessingStatus
	LinkingConfidence int
	LinkedAt          *time.Time
	Notes             string
}

// NewPayment creates a new unallocated payment
func NewPayment(
	tenantID uuid.UUID,
	customerID uuid.UUID,
	paymentNumber string,
	amount decimal.Decimal,
	currency string,
	paymentDate time.Time,
) (*Payment, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if paymentNumber == "" {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot be empty")
	}
	if len(paymentNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot exceed 50 characters")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	if currency == "" {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency is required")
	}
	if paymentDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required")
	}

	return &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PaymentNumber:       paymentNumber,
		CustomerID:          customerID,
		Amount:              amount,
		Currency:            strings.ToUpper(currency),
		PaymentDate:         paymentDate,
		Target:              NoTarget(),
		AllocatedAmount:     decimal.Zero,
		CreditedAmount:      decimal.Zero,
		AllocationStatus:    AllocationStatusUnallocated,
		ProcessingStatus:    ProcessingStatusPending,
	}, nil
}

// SetReference sets the free-text bank or cheque reference
func (p *Payment) SetReference(reference string) {
	p.Reference = strings.TrimSpace(reference)
	p.Touch()
}

// SetTarget records a link supplied when the payment was received, such as a
// payment keyed in against a known contract. Statuses are left alone so the
// payment can still be allocated within that contract.
func (p *Payment) SetTarget(target PaymentTarget) {
	p.Target = target
	p.Touch()
}

// RemainingAmount is what has been neither allocated nor credited yet
func (p *Payment) RemainingAmount() decimal.Decimal {
	return p.Amount.Sub(p.AllocatedAmount).Sub(p.CreditedAmount)
}

// IsContractScoped reports whether allocation is restricted to one contract
func (p *Payment) IsContractScoped() bool {
	return p.Target.IsContract()
}

// CanAllocate checks whether the allocation engine may run against this payment
func (p *Payment) CanAllocate() error {
	if p.AllocationStatus == AllocationStatusAllocated || !p.RemainingAmount().IsPositive() {
		return shared.NewDomainErrorf(ErrAlreadyAllocated.Code,
			"payment %s is already allocated (remaining %s)", p.PaymentNumber, p.RemainingAmount().StringFixed(2))
	}
	if p.Target.IsInvoice() {
		return shared.NewDomainErrorf("INVALID_STATE",
			"payment %s settles invoice %s; unlink it before allocating to obligations", p.PaymentNumber, p.Target.ID())
	}
	if p.ProcessingStatus == ProcessingStatusFailed {
		return shared.NewDomainErrorf("INVALID_STATE", "payment %s failed processing and cannot be allocated", p.PaymentNumber)
	}
	return nil
}

// IsLinkConfirmed reports whether the target was set by matching rather than
// only supplied when the payment was recorded
func (p *Payment) IsLinkConfirmed() bool {
	return !p.Target.IsNone() && p.LinkedAt != nil
}

// CanLink checks that none of the payment has gone to obligations or credit.
// A link settles the whole amount against one document.
func (p *Payment) CanLink() error {
	if p.AllocatedAmount.IsPositive() || p.CreditedAmount.IsPositive() {
		return shared.NewDomainErrorf(ErrAlreadyAllocated.Code,
			"payment %s already has %s allocated and %s credited; reverse the allocations before linking",
			p.PaymentNumber, p.AllocatedAmount.StringFixed(2), p.CreditedAmount.StringFixed(2))
	}
	return nil
}

// LinkTo attaches the payment to an invoice or contract. A link settles the
// payment against that document, so the payment is marked allocated and
// completed.
func (p *Payment) LinkTo(target PaymentTarget, confidence int, actor string) error {
	if target.IsNone() {
		return shared.NewDomainError("INVALID_TARGET", "Cannot link a payment to an empty target")
	}
	if err := p.CanLink(); err != nil {
		return err
	}
	previous := p.Target
	now := time.Now()
	p.Target = target
	p.LinkingConfidence = clampScore(confidence)
	p.LinkedAt = &now
	p.AllocationStatus = AllocationStatusAllocated
	p.ProcessingStatus = ProcessingStatusCompleted
	p.UpdatedAt = now

	p.AddDomainEvent(NewPaymentLinkedEvent(p, previous, actor))
	return nil
}

// ConfirmLink settles the payment against the target it was recorded with.
// It reports false when the link was already confirmed.
func (p *Payment) ConfirmLink(actor string) (bool, error) {
	if p.Target.IsNone() {
		return false, shared.NewDomainErrorf("INVALID_STATE", "payment %s is not linked", p.PaymentNumber)
	}
	if p.IsLinkConfirmed() {
		return false, nil
	}
	if err := p.CanLink(); err != nil {
		return false, err
	}
	now := time.Now()
	p.LinkingConfidence = MaxScore
	p.LinkedAt = &now
	p.AllocationStatus = AllocationStatusAllocated
	p.ProcessingStatus = ProcessingStatusCompleted
	p.UpdatedAt = now

	p.AddDomainEvent(NewPaymentLinkedEvent(p, p.Target, actor))
	return true, nil
}

// Unlink clears the target and falls back to the status implied by the
// obligation allocations. This is an administrative correction.
func (p *Payment) Unlink(actor string) error {
	if p.Target.IsNone() {
		return shared.NewDomainErrorf("INVALID_STATE", "payment %s is not linked", p.PaymentNumber)
	}
	previous := p.Target
	p.Target = NoTarget()
	p.LinkingConfidence = 0
	p.LinkedAt = nil
	p.recomputeAllocationStatus()
	if p.AllocatedAmount.IsZero() {
		p.ProcessingStatus = ProcessingStatusPending
	}
	p.Touch()

	p.AddDomainEvent(NewPaymentUnlinkedEvent(p, previous, actor))
	return nil
}

// ApplyAllocations records new obligation allocations and the residual that
// went to customer credit
func (p *Payment) ApplyAllocations(allocations []Allocation, credit decimal.Decimal) error {
	total := decimal.Zero
	for _, a := range allocations {
		if a.PaymentID != p.ID {
			return shared.NewDomainErrorf("INVALID_ALLOCATION", "allocation %s belongs to another payment", a.ID)
		}
		total = total.Add(a.Amount)
	}
	if credit.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Credit amount cannot be negative")
	}
	if total.Add(credit).GreaterThan(p.RemainingAmount()) {
		return shared.NewDomainErrorf("OVER_ALLOCATION",
			"allocating %s exceeds payment %s remaining amount %s",
			total.Add(credit).StringFixed(2), p.PaymentNumber, p.RemainingAmount().StringFixed(2))
	}

	p.AllocatedAmount = p.AllocatedAmount.Add(total)
	p.CreditedAmount = p.CreditedAmount.Add(credit)
	p.recomputeAllocationStatus()
	p.ProcessingStatus = ProcessingStatusCompleted
	p.Touch()

	p.AddDomainEvent(NewPaymentAllocatedEvent(p, allocations, credit))
	return nil
}

// ApplyReversal records a reversing allocation and steps the status back
func (p *Payment) ApplyReversal(reversal Allocation, actor string) error {
	if reversal.Type != AllocationTypeReversal || reversal.PaymentID != p.ID {
		return shared.NewDomainError("INVALID_ALLOCATION", "Not a reversal of this payment")
	}
	restored := reversal.Amount.Neg()
	if restored.GreaterThan(p.AllocatedAmount) {
		return shared.NewDomainErrorf("INVALID_ALLOCATION",
			"reversal of %s exceeds allocated amount %s", restored.StringFixed(2), p.AllocatedAmount.StringFixed(2))
	}
	p.AllocatedAmount = p.AllocatedAmount.Sub(restored)
	if p.Target.IsNone() {
		p.recomputeAllocationStatus()
	}
	p.Touch()

	p.AddDomainEvent(NewAllocationReversedEvent(p, reversal, actor))
	return nil
}

// AddNote appends an advisory note
func (p *Payment) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if p.Notes == "" {
		p.Notes = note
	} else {
		p.Notes = p.Notes + "\n" + note
	}
	p.Touch()
}

func (p *Payment) recomputeAllocationStatus() {
	switch {
	case p.AllocatedAmount.IsZero():
		p.AllocationStatus = AllocationStatusUnallocated
	case p.AllocatedAmount.GreaterThanOrEqual(p.Amount):
		p.AllocationStatus = AllocationStatusAllocated
	default:
		p.AllocationStatus = AllocationStatusPartiallyAllocated
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
