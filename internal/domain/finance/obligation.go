package finance

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObligationType is the kind of amount owed under a contract
type ObligationType string

const (
	ObligationTypeInstallment ObligationType = "installment"
	ObligationTypeDeposit     ObligationType = "deposit"
	ObligationTypeFee         ObligationType = "fee"
	ObligationTypePenalty     ObligationType = "penalty"
	ObligationTypeInsurance   ObligationType = "insurance"
)

// IsValid returns true if the obligation type is valid
func (t ObligationType) IsValid() bool {
	switch t {
	case ObligationTypeInstallment, ObligationTypeDeposit, ObligationTypeFee,
		ObligationTypePenalty, ObligationTypeInsurance:
		return true
	}
	return false
}

// String returns the string representation
func (t ObligationType) String() string {
	return string(t)
}

// ObligationStatus is the settlement state of an obligation
type ObligationStatus string

const (
	ObligationStatusPending       ObligationStatus = "pending"
	ObligationStatusPartiallyPaid ObligationStatus = "partially_paid"
	ObligationStatusPaid          ObligationStatus = "paid"
	ObligationStatusOverdue       ObligationStatus = "overdue"
	ObligationStatusCancelled     ObligationStatus = "cancelled"
)

// IsValid returns true if the status is valid
func (s ObligationStatus) IsValid() bool {
	switch s {
	case ObligationStatusPending, ObligationStatusPartiallyPaid, ObligationStatusPaid,
		ObligationStatusOverdue, ObligationStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation
func (s ObligationStatus) String() string {
	return string(s)
}

// Obligation is a single amount a customer owes under a contract.
// RemainingAmount always equals OriginalAmount - PaidAmount.
type Obligation struct {
	shared.TenantAggregateRoot
	ContractID       uuid.UUID
	CustomerID       uuid.UUID
	ObligationNumber string
	Type             ObligationType
	OriginalAmount   decimal.Decimal
	PaidAmount       decimal.Decimal
	RemainingAmount  decimal.Decimal
	Currency         string
	DueDate          *time.Time
	Status           ObligationStatus
}

// NewObligation creates a new pending obligation
func NewObligation(
	tenantID uuid.UUID,
	contractID uuid.UUID,
	customerID uuid.UUID,
	obligationNumber string,
	obligationType ObligationType,
	amount decimal.Decimal,
	currency string,
	dueDate *time.Time,
) (*Obligation, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if contractID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CONTRACT", "Contract ID cannot be empty")
	}
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if obligationNumber == "" {
		return nil, shared.NewDomainError("INVALID_OBLIGATION_NUMBER", "Obligation number cannot be empty")
	}
	if !obligationType.IsValid() {
		return nil, shared.NewDomainErrorf("INVALID_OBLIGATION_TYPE", "obligation type %q is not valid", obligationType)
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	if currency == "" {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency is required")
	}

	return &Obligation{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ContractID:          contractID,
		CustomerID:          customerID,
		ObligationNumber:    obligationNumber,
		Type:                obligationType,
		OriginalAmount:      amount,
		PaidAmount:          decimal.Zero,
		RemainingAmount:     amount,
		Currency:            currency,
		DueDate:             dueDate,
		Status:              ObligationStatusPending,
	}, nil
}

// IsOpen reports whether the obligation can still receive allocations
func (o *Obligation) IsOpen() bool {
	return o.Status != ObligationStatusCancelled && o.Status != ObligationStatusPaid && o.RemainingAmount.IsPositive()
}

// IsOverdue reports whether an open obligation is past its due date
func (o *Obligation) IsOverdue(now time.Time) bool {
	return o.DaysOverdue(now) > 0
}

// DaysOverdue is the number of whole days past the due date, zero when
// the obligation is settled, cancelled, undated or not yet due
func (o *Obligation) DaysOverdue(now time.Time) int {
	if o.DueDate == nil || !o.IsOpen() {
		return 0
	}
	due := startOfDay(*o.DueDate)
	today := startOfDay(now)
	if !today.After(due) {
		return 0
	}
	return int(today.Sub(due).Hours() / 24)
}

// MonthKey is the calendar month the obligation bills for, taken from the
// due date or, for undated obligations, the creation date
func (o *Obligation) MonthKey() string {
	ref := o.CreatedAt
	if o.DueDate != nil {
		ref = *o.DueDate
	}
	return ref.Format("2006-01")
}

// ApplyAllocation retires part of the remaining amount
func (o *Obligation) ApplyAllocation(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return shared.NewDomainError("INVALID_AMOUNT", "Allocation amount must be positive")
	}
	if !o.IsOpen() {
		return shared.NewDomainErrorf("INVALID_STATE", "obligation %s is %s and cannot receive payments", o.ObligationNumber, o.Status)
	}
	if amount.GreaterThan(o.RemainingAmount) {
		return shared.NewDomainErrorf("OVER_ALLOCATION",
			"allocation %s exceeds obligation %s remaining amount %s",
			amount.StringFixed(2), o.ObligationNumber, o.RemainingAmount.StringFixed(2))
	}
	o.PaidAmount = o.PaidAmount.Add(amount)
	o.RemainingAmount = o.OriginalAmount.Sub(o.PaidAmount)
	o.RefreshStatus(now)
	o.Touch()
	return nil
}

// ReverseAllocation puts a previously allocated amount back on the obligation
func (o *Obligation) ReverseAllocation(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return shared.NewDomainError("INVALID_AMOUNT", "Reversal amount must be positive")
	}
	if amount.GreaterThan(o.PaidAmount) {
		return shared.NewDomainErrorf("INVALID_REVERSAL",
			"reversal %s exceeds obligation %s paid amount %s",
			amount.StringFixed(2), o.ObligationNumber, o.PaidAmount.StringFixed(2))
	}
	o.PaidAmount = o.PaidAmount.Sub(amount)
	o.RemainingAmount = o.OriginalAmount.Sub(o.PaidAmount)
	if o.Status != ObligationStatusCancelled {
		// a paid obligation reopens
		o.Status = ObligationStatusPending
		o.RefreshStatus(now)
	}
	o.Touch()
	return nil
}

// Cancel voids an obligation that has not received any payment
func (o *Obligation) Cancel() error {
	if o.Status == ObligationStatusCancelled {
		return shared.NewDomainErrorf("INVALID_STATE", "obligation %s is already cancelled", o.ObligationNumber)
	}
	if o.PaidAmount.IsPositive() {
		return shared.NewDomainErrorf("INVALID_STATE", "obligation %s has payments and must be reversed first", o.ObligationNumber)
	}
	o.Status = ObligationStatusCancelled
	o.Touch()
	return nil
}

// RefreshStatus derives the status from the paid amount and due date.
// Cancelled is terminal.
func (o *Obligation) RefreshStatus(now time.Time) {
	if o.Status == ObligationStatusCancelled {
		return
	}
	switch {
	case o.RemainingAmount.IsZero():
		o.Status = ObligationStatusPaid
	case o.DueDate != nil && startOfDay(now).After(startOfDay(*o.DueDate)):
		o.Status = ObligationStatusOverdue
	case o.PaidAmount.IsPositive():
		o.Status = ObligationStatusPartiallyPaid
	default:
		o.Status = ObligationStatusPending
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
