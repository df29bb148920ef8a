package finance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testTenantID   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testCustomerID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testContractID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	testNow        = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func datePtr(t time.Time) *time.Time {
	return &t
}

func newTestPayment(t *testing.T, amount string) *Payment {
	t.Helper()
	p, err := NewPayment(testTenantID, testCustomerID, "PAY-"+uuid.NewString()[:8], dec(amount), "SAR", testNow)
	require.NoError(t, err)
	return p
}

func newTestObligation(t *testing.T, number string, obligationType ObligationType, amount string, due *time.Time) *Obligation {
	t.Helper()
	o, err := NewObligation(testTenantID, testContractID, testCustomerID, number, obligationType, dec(amount), "SAR", due)
	require.NoError(t, err)
	return o
}

func newTestInvoice(number, total string, due *time.Time) *Invoice {
	return &Invoice{
		ID:            uuid.New(),
		TenantID:      testTenantID,
		CustomerID:    testCustomerID,
		InvoiceNumber: number,
		TotalAmount:   dec(total),
		Currency:      "SAR",
		DueDate:       due,
		Status:        InvoiceStatusOpen,
		CreatedAt:     testNow.AddDate(0, -2, 0),
	}
}

func newTestContract(number, contractAmount, monthly string, start time.Time) *Contract {
	return &Contract{
		ID:             uuid.New(),
		TenantID:       testTenantID,
		CustomerID:     testCustomerID,
		ContractNumber: number,
		ContractAmount: dec(contractAmount),
		MonthlyAmount:  dec(monthly),
		TotalPaid:      decimal.Zero,
		Currency:       "SAR",
		StartDate:      start,
		Status:         ContractStatusActive,
		CreatedAt:      start,
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}
