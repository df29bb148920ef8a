package persistence

import (
	"context"

	"github.com/erp/reconciliation/internal/domain/finance"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTransactionScope implements finance.Store using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Repositories returns repositories that run outside any transaction
func (s *GormTransactionScope) Repositories() finance.Repositories {
	return repositoriesFor(s.db)
}

// Transaction runs fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *GormTransactionScope) Transaction(ctx context.Context, fn func(ctx context.Context, repos finance.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, repositoriesFor(tx))
	})
}

func repositoriesFor(db *gorm.DB) finance.Repositories {
	return finance.Repositories{
		Payments:    NewGormPaymentRepository(db),
		Obligations: NewGormObligationRepository(db),
		Allocations: NewGormAllocationRepository(db),
		Invoices:    NewGormInvoiceReader(db),
		Contracts:   NewGormContractRepository(db),
		Credits:     NewGormCreditRepository(db),
	}
}

// forUpdate adds SELECT ... FOR UPDATE on dialects that support row locks.
// SQLite serialises writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

var _ finance.Store = (*GormTransactionScope)(nil)
