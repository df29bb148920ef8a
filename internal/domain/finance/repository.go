package finance

import (
	"context"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository persists payments. Lookups of a missing payment return
// an error matching shared.ErrNotFound.
type PaymentRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	// FindByIDForUpdate also takes a row lock where the store supports one
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindUnallocated(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*Payment, error)
	Create(ctx context.Context, payment *Payment) error
	// SaveWithLock updates the payment if its version is unchanged and bumps it
	SaveWithLock(ctx context.Context, payment *Payment) error
}

// ObligationRepository persists obligations
type ObligationRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Obligation, error)
	// FindOpenByCustomerForUpdate returns the open obligations of a customer, locked
	FindOpenByCustomerForUpdate(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Obligation, error)
	FindActiveByContract(ctx context.Context, tenantID, contractID uuid.UUID) ([]*Obligation, error)
	Create(ctx context.Context, obligation *Obligation) error
	SaveWithLock(ctx context.Context, obligation *Obligation) error
}

// AllocationRepository persists allocations, which are insert-only
type AllocationRepository interface {
	Create(ctx context.Context, allocations ...Allocation) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Allocation, error)
	FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]Allocation, error)
	// FindReversalOf returns nil when the allocation has not been reversed
	FindReversalOf(ctx context.Context, tenantID, allocationID uuid.UUID) (*Allocation, error)
	SumByObligation(ctx context.Context, tenantID, obligationID uuid.UUID) (decimal.Decimal, error)
}

// InvoiceReader reads invoices owned by the billing module
type InvoiceReader interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindOpenByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Invoice, error)
}

// ContractRepository reads contracts and maintains their paid total
type ContractRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Contract, error)
	FindActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Contract, error)
	AddToTotalPaid(ctx context.Context, tenantID, contractID uuid.UUID, amount decimal.Decimal) error
}

// CreditRepository keeps the customer credit ledger
type CreditRepository interface {
	Add(ctx context.Context, entry CreditEntry) error
	BalanceForCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error)
}

// Repositories groups the repositories that share one unit of work
type Repositories struct {
	Payments    PaymentRepository
	Obligations ObligationRepository
	Allocations AllocationRepository
	Invoices    InvoiceReader
	Contracts   ContractRepository
	Credits     CreditRepository
}

// Store hands out repositories, either standalone or bound to a transaction.
// If fn returns an error every write made through its repositories is rolled back.
type Store interface {
	Repositories() Repositories
	Transaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
