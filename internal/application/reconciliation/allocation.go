package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AllocatePayment spreads the payment's remaining amount over the customer's
// open obligations and moves any residual to customer credit. A payment with
// nothing left fails with finance.ErrAlreadyAllocated.
func (s *Service) AllocatePayment(ctx context.Context, req AllocatePaymentRequest) (result *AllocationResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "allocate_payment",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
	)
	defer func() { s.finish(ctx, span, "allocate_payment", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	strategy := finance.AllocationStrategyType(req.Strategy)
	if strategy == "" {
		strategy = s.settings.DefaultStrategy
	}
	allocationType := finance.AllocationTypeAutomatic
	if strategy == finance.AllocationStrategyManual {
		allocationType = finance.AllocationTypeManual
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrStrategy, string(strategy))
	actor := actorOr(ctx, req.Actor, ActorAutoMatch)

	var payment *finance.Payment
	err = s.transact(ctx, "allocate_payment", func(ctx context.Context, repos finance.Repositories) error {
		p, err := repos.Payments.FindByIDForUpdate(ctx, req.TenantID, req.PaymentID)
		if err != nil {
			return err
		}
		if err := p.CanAllocate(); err != nil {
			return err
		}
		obligations, err := repos.Obligations.FindOpenByCustomerForUpdate(ctx, req.TenantID, p.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to load obligations: %w", err)
		}

		plan, err := s.allocator.Plan(p, obligations, strategy, req.ManualAllocations)
		if err != nil {
			return err
		}
		allocations, err := s.allocator.Apply(p, obligations, plan, allocationType, actor)
		if err != nil {
			return err
		}

		if len(allocations) > 0 {
			if err := repos.Allocations.Create(ctx, allocations...); err != nil {
				return fmt.Errorf("failed to create allocations: %w", err)
			}
		}
		touched := make(map[uuid.UUID]bool, len(plan.Instructions))
		for _, ins := range plan.Instructions {
			touched[ins.ObligationID] = true
		}
		for _, o := range obligations {
			if !touched[o.ID] {
				continue
			}
			if err := repos.Obligations.SaveWithLock(ctx, o); err != nil {
				return err
			}
		}
		if plan.Residual.IsPositive() {
			if err := repos.Credits.Add(ctx, finance.NewCreditEntry(p, plan.Residual)); err != nil {
				return fmt.Errorf("failed to record customer credit: %w", err)
			}
		}
		if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
			return err
		}

		payment = p
		result = &AllocationResult{
			PaymentID:        p.ID,
			Strategy:         plan.Strategy,
			Allocations:      allocations,
			Instructions:     plan.Instructions,
			TotalAllocated:   plan.TotalAllocated,
			Residual:         plan.Residual,
			AllocationStatus: p.AllocationStatus,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrAllocations, len(result.Allocations))
	s.metrics.RecordAllocation(ctx, string(result.Strategy), len(result.Allocations), result.TotalAllocated, result.Residual)
	s.record(ctx, finance.NewAuditEntry(req.TenantID, &req.PaymentID, finance.AuditActionAllocated, actor,
		fmt.Sprintf("%s: %d allocations totalling %s, residual %s to credit",
			result.Strategy, len(result.Allocations), result.TotalAllocated.StringFixed(2), result.Residual.StringFixed(2))))
	s.publish(ctx, payment)
	s.log(ctx).Info("payment allocated",
		zap.String(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
		zap.String(telemetry.SpanAttrStrategy, string(result.Strategy)),
		zap.Int(telemetry.SpanAttrAllocations, len(result.Allocations)),
		zap.String("total_allocated", result.TotalAllocated.String()),
		zap.String("residual", result.Residual.String()),
	)
	return result, nil
}

// ReverseAllocation books the counter-allocation of one allocation. The
// obligation gets the amount back immediately. An allocation is reversed at
// most once and a reversal is never reversed.
func (s *Service) ReverseAllocation(ctx context.Context, req ReverseAllocationRequest) (reversal *finance.Allocation, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "reverse_allocation",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute("allocation_id", req.AllocationID.String()),
	)
	defer func() { s.finish(ctx, span, "reverse_allocation", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	actor := actorOr(ctx, req.Actor, "unknown")

	var payment *finance.Payment
	err = s.transact(ctx, "reverse_allocation", func(ctx context.Context, repos finance.Repositories) error {
		original, err := repos.Allocations.FindByIDForTenant(ctx, req.TenantID, req.AllocationID)
		if err != nil {
			return err
		}
		if original.IsReversal() {
			return shared.NewDomainError("INVALID_REVERSAL", "A reversal cannot itself be reversed")
		}
		existing, err := repos.Allocations.FindReversalOf(ctx, req.TenantID, original.ID)
		if err != nil {
			return fmt.Errorf("failed to look up reversal: %w", err)
		}
		if existing != nil {
			return shared.NewDomainErrorf(shared.ErrInvalidState.Code,
				"allocation %s was already reversed by %s", original.ID, existing.ID)
		}

		p, err := repos.Payments.FindByIDForUpdate(ctx, req.TenantID, original.PaymentID)
		if err != nil {
			return err
		}
		o, err := repos.Obligations.FindByIDForTenant(ctx, req.TenantID, original.ObligationID)
		if err != nil {
			return err
		}
		rev, err := s.allocator.Reverse(p, o, *original, actor)
		if err != nil {
			return err
		}
		if err := repos.Allocations.Create(ctx, rev); err != nil {
			return fmt.Errorf("failed to create reversal: %w", err)
		}
		if err := repos.Obligations.SaveWithLock(ctx, o); err != nil {
			return err
		}
		if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
			return err
		}
		payment, reversal = p, &rev
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("reversed allocation %s of %s", req.AllocationID, reversal.Amount.Neg().StringFixed(2))
	}
	s.metrics.RecordReversal(ctx)
	s.record(ctx, finance.NewAuditEntry(req.TenantID, &payment.ID, finance.AuditActionAllocationReversed, actor, reason))
	s.publish(ctx, payment)
	s.log(ctx).Info("allocation reversed",
		zap.String(telemetry.SpanAttrPaymentID, payment.ID.String()),
		zap.String("allocation_id", req.AllocationID.String()),
		zap.String("reversal_id", reversal.ID.String()),
		zap.String("actor", actor),
	)
	return reversal, nil
}
