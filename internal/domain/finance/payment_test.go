package finance

import (
	"errors"
	"testing"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPayment(t *testing.T) {
	t.Run("creates unallocated pending payment", func(t *testing.T) {
		p, err := NewPayment(testTenantID, testCustomerID, "PAY-001", dec("1300"), "sar", testNow)
		require.NoError(t, err)
		assert.Equal(t, AllocationStatusUnallocated, p.AllocationStatus)
		assert.Equal(t, ProcessingStatusPending, p.ProcessingStatus)
		assert.True(t, p.Target.IsNone())
		assert.Equal(t, "SAR", p.Currency)
		assert.Equal(t, 1, p.Version)
		assert.True(t, p.RemainingAmount().Equal(dec("1300")))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		cases := []struct {
			name   string
			amount decimal.Decimal
			number string
			code   string
		}{
			{"zero amount", decimal.Zero, "PAY-1", "INVALID_AMOUNT"},
			{"negative amount", dec("-5"), "PAY-1", "INVALID_AMOUNT"},
			{"empty number", dec("5"), "", "INVALID_PAYMENT_NUMBER"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := NewPayment(testTenantID, testCustomerID, tc.number, tc.amount, "SAR", testNow)
				var de *shared.DomainError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, tc.code, de.Code)
			})
		}
	})
}

func TestPayment_LinkTo(t *testing.T) {
	p := newTestPayment(t, "1000")
	invoiceID := uuid.New()

	require.NoError(t, p.LinkTo(InvoiceTarget(invoiceID), 85, "auto"))
	assert.True(t, p.Target.IsInvoice())
	assert.Nil(t, p.Target.ContractID())
	assert.Equal(t, AllocationStatusAllocated, p.AllocationStatus)
	assert.Equal(t, ProcessingStatusCompleted, p.ProcessingStatus)
	assert.Equal(t, 85, p.LinkingConfidence)
	require.Len(t, p.GetDomainEvents(), 1)
	assert.Equal(t, EventTypePaymentLinked, p.GetDomainEvents()[0].EventType())

	t.Run("switching to a contract clears the invoice", func(t *testing.T) {
		contractID := uuid.New()
		require.NoError(t, p.LinkTo(ContractTarget(contractID), 100, "user-1"))
		assert.Nil(t, p.Target.InvoiceID())
		require.NotNil(t, p.Target.ContractID())
		assert.Equal(t, contractID, *p.Target.ContractID())
	})

	t.Run("empty target is rejected", func(t *testing.T) {
		assert.Error(t, p.LinkTo(NoTarget(), 100, "user-1"))
	})

	t.Run("allocated or credited money blocks the link", func(t *testing.T) {
		q := newTestPayment(t, "1000")
		o := newTestObligation(t, "OBL-1", ObligationTypeInstallment, "400", nil)
		a, err := NewAllocation(q, o, dec("400"), AllocationTypeAutomatic, AllocationStrategyFIFO, "system")
		require.NoError(t, err)
		require.NoError(t, q.ApplyAllocations([]Allocation{a}, dec("600")))
		q.ClearDomainEvents()

		err = q.LinkTo(ContractTarget(uuid.New()), 100, "user-1")
		assert.ErrorIs(t, err, ErrAlreadyAllocated)
		assert.True(t, q.Target.IsNone())
		assert.Equal(t, AllocationStatusPartiallyAllocated, q.AllocationStatus)
		assert.Empty(t, q.GetDomainEvents())
	})
}

func TestPayment_ConfirmLink(t *testing.T) {
	t.Run("settles a target supplied on receipt", func(t *testing.T) {
		p := newTestPayment(t, "1000")
		p.SetTarget(InvoiceTarget(uuid.New()))
		assert.False(t, p.IsLinkConfirmed())

		confirmed, err := p.ConfirmLink("auto")
		require.NoError(t, err)
		assert.True(t, confirmed)
		assert.True(t, p.IsLinkConfirmed())
		assert.Equal(t, AllocationStatusAllocated, p.AllocationStatus)
		assert.Equal(t, ProcessingStatusCompleted, p.ProcessingStatus)
		assert.Equal(t, MaxScore, p.LinkingConfidence)
		require.Len(t, p.GetDomainEvents(), 1)

		again, err := p.ConfirmLink("auto")
		require.NoError(t, err)
		assert.False(t, again)
		assert.Len(t, p.GetDomainEvents(), 1)
	})

	t.Run("unlinked payment has nothing to confirm", func(t *testing.T) {
		_, err := newTestPayment(t, "1000").ConfirmLink("auto")
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("contract payment allocated within its contract stays as is", func(t *testing.T) {
		p := newTestPayment(t, "1000")
		p.SetTarget(ContractTarget(uuid.New()))
		require.NoError(t, p.ApplyAllocations(nil, dec("250")))

		confirmed, err := p.ConfirmLink("auto")
		assert.ErrorIs(t, err, ErrAlreadyAllocated)
		assert.False(t, confirmed)
		assert.False(t, p.IsLinkConfirmed())
	})
}

func TestPayment_Unlink(t *testing.T) {
	t.Run("resets to unallocated when nothing was allocated", func(t *testing.T) {
		p := newTestPayment(t, "1000")
		require.NoError(t, p.LinkTo(InvoiceTarget(uuid.New()), 90, "auto"))

		require.NoError(t, p.Unlink("admin"))
		assert.True(t, p.Target.IsNone())
		assert.Equal(t, AllocationStatusUnallocated, p.AllocationStatus)
		assert.Equal(t, ProcessingStatusPending, p.ProcessingStatus)
		assert.Zero(t, p.LinkingConfidence)
		assert.Nil(t, p.LinkedAt)
	})

	t.Run("unlinking an unlinked payment fails", func(t *testing.T) {
		p := newTestPayment(t, "1000")
		err := p.Unlink("admin")
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})
}

func TestPayment_CanAllocate(t *testing.T) {
	t.Run("fresh payment can be allocated", func(t *testing.T) {
		assert.NoError(t, newTestPayment(t, "100").CanAllocate())
	})

	t.Run("allocated payment is a conflict", func(t *testing.T) {
		p := newTestPayment(t, "100")
		p.AllocationStatus = AllocationStatusAllocated
		assert.ErrorIs(t, p.CanAllocate(), ErrAlreadyAllocated)
	})

	t.Run("payment fully credited is a conflict", func(t *testing.T) {
		p := newTestPayment(t, "100")
		require.NoError(t, p.ApplyAllocations(nil, dec("100")))
		assert.Equal(t, AllocationStatusUnallocated, p.AllocationStatus)
		assert.ErrorIs(t, p.CanAllocate(), ErrAlreadyAllocated)
	})

	t.Run("invoice-linked payment cannot be allocated", func(t *testing.T) {
		p := newTestPayment(t, "100")
		p.SetTarget(InvoiceTarget(uuid.New()))
		assert.ErrorIs(t, p.CanAllocate(), shared.ErrInvalidState)
	})
}

func TestPayment_ApplyAllocations(t *testing.T) {
	p := newTestPayment(t, "1000")
	o := newTestObligation(t, "OBL-1", ObligationTypeInstallment, "600", nil)
	a, err := NewAllocation(p, o, dec("600"), AllocationTypeAutomatic, AllocationStrategyFIFO, "system")
	require.NoError(t, err)

	require.NoError(t, p.ApplyAllocations([]Allocation{a}, decimal.Zero))
	assert.Equal(t, AllocationStatusPartiallyAllocated, p.AllocationStatus)
	assert.True(t, p.RemainingAmount().Equal(dec("400")))

	t.Run("over allocation is rejected", func(t *testing.T) {
		err := p.ApplyAllocations(nil, dec("401"))
		var de *shared.DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "OVER_ALLOCATION", de.Code)
	})

	t.Run("completing the amount marks allocated", func(t *testing.T) {
		o2 := newTestObligation(t, "OBL-2", ObligationTypeFee, "400", nil)
		a2, err := NewAllocation(p, o2, dec("400"), AllocationTypeManual, AllocationStrategyManual, "user")
		require.NoError(t, err)
		require.NoError(t, p.ApplyAllocations([]Allocation{a2}, decimal.Zero))
		assert.Equal(t, AllocationStatusAllocated, p.AllocationStatus)
	})
}

func TestPayment_AddNote(t *testing.T) {
	p := newTestPayment(t, "10")
	p.AddNote("first")
	p.AddNote("  ")
	p.AddNote("second")
	assert.Equal(t, "first\nsecond", p.Notes)
}

func TestPaymentTarget(t *testing.T) {
	id := uuid.New()

	t.Run("zero value is none", func(t *testing.T) {
		var target PaymentTarget
		assert.True(t, target.IsNone())
		assert.Nil(t, target.InvoiceID())
		assert.Nil(t, target.ContractID())
		assert.Equal(t, "none", target.String())
	})

	t.Run("from columns", func(t *testing.T) {
		target, err := TargetFromColumns(&id, nil)
		require.NoError(t, err)
		assert.True(t, target.Matches(TargetTypeInvoice, id))

		target, err = TargetFromColumns(nil, &id)
		require.NoError(t, err)
		assert.True(t, target.Matches(TargetTypeContract, id))

		_, err = TargetFromColumns(&id, &id)
		assert.Error(t, err)
	})

	t.Run("new target validates type and id", func(t *testing.T) {
		_, err := NewPaymentTarget("receipt", id)
		assert.Error(t, err)
		_, err = NewPaymentTarget(TargetTypeInvoice, uuid.Nil)
		assert.Error(t, err)
		target, err := NewPaymentTarget(TargetTypeContract, id)
		require.NoError(t, err)
		assert.True(t, target.IsContract())
	})
}
