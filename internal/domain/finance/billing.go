package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus values as kept by the billing module
const (
	InvoiceStatusOpen      = "open"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// ContractStatus values as kept by the contracts module
const (
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed"
	ContractStatusCancelled = "cancelled"
)

// Invoice is the billing module's invoice, read-only here
type Invoice struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	CustomerID    uuid.UUID
	ContractID    *uuid.UUID
	InvoiceNumber string
	TotalAmount   decimal.Decimal
	Currency      string
	DueDate       *time.Time
	Status        string
	CreatedAt     time.Time
}

// IsOpen reports whether the invoice still expects payment
func (i *Invoice) IsOpen() bool {
	return i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusCancelled
}

// Contract is a customer agreement with a monthly billing schedule. Only
// TotalPaid is written by reconciliation.
type Contract struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	CustomerID     uuid.UUID
	ContractNumber string
	ContractAmount decimal.Decimal
	MonthlyAmount  decimal.Decimal
	TotalPaid      decimal.Decimal
	Currency       string
	StartDate      time.Time
	EndDate        *time.Time
	Status         string
	CreatedAt      time.Time
}

// IsActive reports whether the contract accepts payments
func (c *Contract) IsActive() bool {
	return c.Status == ContractStatusActive
}

// Candidate is a document a payment may belong to, flattened for scoring
type Candidate struct {
	Target         PaymentTarget
	Number         string
	CustomerID     uuid.UUID
	ExpectedAmount decimal.Decimal
	CreatedAt      time.Time

	// cycleAnchor is the invoice due date or the contract start date
	cycleAnchor *time.Time
	monthly     bool
}

// InvoiceCandidate builds a candidate from an invoice
func InvoiceCandidate(inv *Invoice) Candidate {
	anchor := inv.DueDate
	if anchor == nil {
		created := inv.CreatedAt
		anchor = &created
	}
	return Candidate{
		Target:         InvoiceTarget(inv.ID),
		Number:         inv.InvoiceNumber,
		CustomerID:     inv.CustomerID,
		ExpectedAmount: inv.TotalAmount,
		CreatedAt:      inv.CreatedAt,
		cycleAnchor:    anchor,
	}
}

// ContractCandidate builds a candidate from a contract. A contract payment is
// expected to cover one monthly installment.
func ContractCandidate(c *Contract) Candidate {
	expected := c.MonthlyAmount
	if !expected.IsPositive() {
		expected = c.ContractAmount
	}
	start := c.StartDate
	return Candidate{
		Target:         ContractTarget(c.ID),
		Number:         c.ContractNumber,
		CustomerID:     c.CustomerID,
		ExpectedAmount: expected,
		CreatedAt:      c.CreatedAt,
		cycleAnchor:    &start,
		monthly:        true,
	}
}

// NearestCycle returns the billing date closest to t: the invoice due date,
// or the monthly anniversary of the contract start date
func (c Candidate) NearestCycle(t time.Time) (time.Time, bool) {
	if c.cycleAnchor == nil || c.cycleAnchor.IsZero() {
		return time.Time{}, false
	}
	anchor := *c.cycleAnchor
	if !c.monthly || !t.After(anchor) {
		return anchor, true
	}

	months := (t.Year()-anchor.Year())*12 + int(t.Month()) - int(anchor.Month())
	best := anchor
	bestDist := absDuration(t.Sub(anchor))
	for _, k := range []int{months - 1, months, months + 1} {
		if k < 0 {
			continue
		}
		cycle := monthlyAnniversary(anchor, k)
		if d := absDuration(t.Sub(cycle)); d < bestDist {
			best, bestDist = cycle, d
		}
	}
	return best, true
}

// monthlyAnniversary adds months to anchor, clamping the day to the end of
// shorter months so that a 31st start bills on the 30th or 28th
func monthlyAnniversary(anchor time.Time, months int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(months), 1, anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// CreditEntry is one append-only line of a customer's credit balance
type CreditEntry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	PaymentID  uuid.UUID
	Amount     decimal.Decimal
	Currency   string
	CreatedAt  time.Time
}

// NewCreditEntry records the residual of a payment as customer credit
func NewCreditEntry(p *Payment, amount decimal.Decimal) CreditEntry {
	return CreditEntry{
		ID:         uuid.New(),
		TenantID:   p.TenantID,
		CustomerID: p.CustomerID,
		PaymentID:  p.ID,
		Amount:     amount,
		Currency:   p.Currency,
		CreatedAt:  time.Now(),
	}
}
