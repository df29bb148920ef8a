package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ValidatePayment runs the guard over a payment as it stands, against the
// contract or invoice it is linked to. Nothing is stored.
func (s *Service) ValidatePayment(ctx context.Context, p *finance.Payment) (report finance.ValidationReport, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "validate_payment")
	defer func() { s.finish(ctx, span, "validate_payment", start, err) }()

	if p == nil {
		return finance.ValidationReport{}, shared.NewDomainError(shared.ErrInvalidInput.Code, "payment is required")
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, p.ID.String(),
		telemetry.SpanAttrAmount, p.Amount.String(),
	)

	repos := s.store.Repositories()
	contract, invoice, err := loadTarget(ctx, repos, p.TenantID, p.Target)
	if err != nil {
		return finance.ValidationReport{}, err
	}
	if contract, err = guardContext(ctx, repos, p, contract, invoice); err != nil {
		return finance.ValidationReport{}, err
	}
	report = s.guard.CheckPayment(p, contract, invoice)

	outcome := "ok"
	switch {
	case !report.OK():
		outcome = "rejected"
	case len(report.Warnings) > 0:
		outcome = "warning"
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrGuardOutcome, outcome)
	return report, nil
}

// RecordPayment validates and stores a received payment. A payment keyed
// against a contract counts towards the contract's paid total at once. A
// payment the guard rejects is not stored.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (result *RecordPaymentResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "record_payment",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrCustomerID, req.CustomerID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, req.Amount.String()),
	)
	defer func() { s.finish(ctx, span, "record_payment", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if (req.TargetType == "") != (req.TargetID == nil) {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "target_type and target_id must be given together")
	}
	actor := actorOr(ctx, req.Actor, "unknown")

	p, err := finance.NewPayment(req.TenantID, req.CustomerID, req.PaymentNumber, req.Amount, req.Currency, req.PaymentDate)
	if err != nil {
		return nil, err
	}
	if req.Reference != "" {
		p.SetReference(req.Reference)
	}
	if req.TargetID != nil {
		target, err := finance.NewPaymentTarget(finance.TargetType(req.TargetType), *req.TargetID)
		if err != nil {
			return nil, err
		}
		p.SetTarget(target)
	}

	var report finance.ValidationReport
	err = s.transact(ctx, "record_payment", func(ctx context.Context, repos finance.Repositories) error {
		contract, invoice, err := loadTarget(ctx, repos, p.TenantID, p.Target)
		if err != nil {
			return err
		}
		if contract != nil && contract.CustomerID != p.CustomerID {
			return shared.NewDomainErrorf(shared.ErrInvalidInput.Code,
				"contract %s belongs to another customer", contract.ContractNumber)
		}
		if invoice != nil && invoice.CustomerID != p.CustomerID {
			return shared.NewDomainErrorf(shared.ErrInvalidInput.Code,
				"invoice %s belongs to another customer", invoice.InvoiceNumber)
		}
		guardContract, err := guardContext(ctx, repos, p, contract, invoice)
		if err != nil {
			return err
		}

		report = s.guard.CheckPayment(p, guardContract, invoice)
		if !report.OK() {
			return report.Err()
		}
		s.guard.ApplyWarnings(p, report)

		if err := repos.Payments.Create(ctx, p); err != nil {
			return err
		}
		if p.Target.IsContract() {
			if err := repos.Contracts.AddToTotalPaid(ctx, p.TenantID, p.Target.ID(), p.Amount); err != nil {
				return fmt.Errorf("failed to update contract total: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		var guardErr *finance.GuardError
		if errors.As(err, &guardErr) {
			return nil, s.rejectByGuard(ctx, span, req.TenantID, nil, p.Target, actor, report)
		}
		return nil, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, p.ID.String(),
		telemetry.SpanAttrGuardOutcome, "accepted",
	)
	s.log(ctx).Info("payment recorded",
		zap.String(telemetry.SpanAttrPaymentID, p.ID.String()),
		zap.String("payment_number", p.PaymentNumber),
		zap.String(telemetry.SpanAttrAmount, p.Amount.String()),
		zap.Int("warnings", len(report.Warnings)),
	)
	return &RecordPaymentResult{Payment: p, Report: report}, nil
}

// CreateObligation adds an obligation to a contract unless the contract
// already has a live obligation for the same calendar month
func (s *Service) CreateObligation(ctx context.Context, req CreateObligationRequest) (obligation *finance.Obligation, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "create_obligation",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute("contract_id", req.ContractID.String()),
	)
	defer func() { s.finish(ctx, span, "create_obligation", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	actor := actorOr(ctx, req.Actor, "unknown")

	var report finance.ValidationReport
	err = s.transact(ctx, "create_obligation", func(ctx context.Context, repos finance.Repositories) error {
		contract, err := repos.Contracts.FindByIDForTenant(ctx, req.TenantID, req.ContractID)
		if err != nil {
			return err
		}
		if !contract.IsActive() {
			return shared.NewDomainErrorf(shared.ErrInvalidState.Code,
				"contract %s is %s", contract.ContractNumber, contract.Status)
		}
		o, err := finance.NewObligation(req.TenantID, contract.ID, contract.CustomerID, req.ObligationNumber,
			finance.ObligationType(req.Type), req.Amount, contract.Currency, req.DueDate)
		if err != nil {
			return err
		}
		existing, err := repos.Obligations.FindActiveByContract(ctx, req.TenantID, contract.ID)
		if err != nil {
			return fmt.Errorf("failed to load obligations: %w", err)
		}
		report = s.guard.CheckObligation(o, existing)
		if !report.OK() {
			return report.Err()
		}
		if err := repos.Obligations.Create(ctx, o); err != nil {
			return err
		}
		obligation = o
		return nil
	})
	if err != nil {
		var guardErr *finance.GuardError
		if errors.As(err, &guardErr) {
			return nil, s.rejectByGuard(ctx, span, req.TenantID, nil, finance.ContractTarget(req.ContractID), actor, report)
		}
		return nil, err
	}

	s.log(ctx).Info("obligation created",
		zap.String("obligation_id", obligation.ID.String()),
		zap.String("obligation_number", obligation.ObligationNumber),
		zap.String("contract_id", req.ContractID.String()),
		zap.String("month", obligation.MonthKey()),
	)
	return obligation, nil
}
