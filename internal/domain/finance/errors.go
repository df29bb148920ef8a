package finance

import "github.com/erp/reconciliation/internal/domain/shared"

// ErrAlreadyAllocated is returned when a payment has nothing left to allocate.
// Callers should treat it as an idempotent no-op.
var ErrAlreadyAllocated = shared.NewDomainError("ALREADY_ALLOCATED", "Payment is already allocated")
