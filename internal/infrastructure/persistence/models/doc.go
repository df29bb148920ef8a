// Package models contains GORM persistence models for the reconciliation tables.
// Domain types carry no ORM tags; each model converts to and from its domain
// type with ToDomain and FromDomain.
//
// Tables:
//   - payments, obligations, payment_allocations: owned by reconciliation
//   - invoices, contracts: owned by billing, read here (contracts.total_paid is written)
//   - customer_credits: residual payment amounts kept as customer credit
//   - reconciliation_audit_logs: append-only linking and allocation decisions
package models
