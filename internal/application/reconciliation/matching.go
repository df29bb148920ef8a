package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// candidates collects the open invoices and active contracts of the
// payment's customer
func candidates(ctx context.Context, repos finance.Repositories, p *finance.Payment) ([]finance.Candidate, error) {
	invoices, err := repos.Invoices.FindOpenByCustomer(ctx, p.TenantID, p.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	contracts, err := repos.Contracts.FindActiveByCustomer(ctx, p.TenantID, p.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}

	result := make([]finance.Candidate, 0, len(invoices)+len(contracts))
	for _, inv := range invoices {
		result = append(result, finance.InvoiceCandidate(inv))
	}
	for _, c := range contracts {
		result = append(result, finance.ContractCandidate(c))
	}
	return result, nil
}

// FindMatchingSuggestions ranks the documents the payment may belong to,
// best first. Nothing is changed.
func (s *Service) FindMatchingSuggestions(ctx context.Context, tenantID, paymentID uuid.UUID) (suggestions []finance.MatchSuggestion, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "find_matching_suggestions",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, paymentID.String()),
	)
	defer func() { s.finish(ctx, span, "find_matching_suggestions", start, err) }()

	repos := s.store.Repositories()
	p, err := repos.Payments.FindByIDForTenant(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	cands, err := candidates(ctx, repos, p)
	if err != nil {
		return nil, err
	}

	suggestions = s.matcher.Suggest(p, cands)
	if len(suggestions) > 0 {
		telemetry.SetAttribute(span, telemetry.SpanAttrConfidence, suggestions[0].Score)
	}
	s.log(ctx).Debug("matching suggestions computed",
		zap.String(telemetry.SpanAttrPaymentID, paymentID.String()),
		zap.Int("candidates", len(cands)),
		zap.Int("suggestions", len(suggestions)),
	)
	return suggestions, nil
}

// AttemptAutoMatch links the payment to its best candidate when that
// candidate clears finance.AutoMatchThreshold. A target supplied when the
// payment was recorded is confirmed at score 100. It returns nil when nothing
// qualified. A payment that is already linked is reported as matched.
func (s *Service) AttemptAutoMatch(ctx context.Context, tenantID, paymentID uuid.UUID) (result *finance.MatchResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "attempt_auto_match",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, paymentID.String()),
	)
	defer func() { s.finish(ctx, span, "attempt_auto_match", start, err) }()

	actor := actorOr(ctx, "", ActorAutoMatch)
	var (
		outcome  finance.MatchResult
		matched  bool
		linked   bool
		blocked  error
		rejected *finance.ValidationReport
	)
	err = s.transact(ctx, "attempt_auto_match", func(ctx context.Context, repos finance.Repositories) error {
		rejected, linked = nil, false
		p, err := repos.Payments.FindByIDForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		cands, err := candidates(ctx, repos, p)
		if err != nil {
			return err
		}

		previous, confirmed := p.Target, p.IsLinkConfirmed()
		blocked = p.CanLink()
		outcome, matched = s.matcher.AutoMatch(p, cands, actor)
		if !matched || confirmed {
			return nil
		}
		if !previous.IsNone() {
			// recorded against this target, which the guard checked then
			if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
				return err
			}
			linked = true
			return nil
		}

		contract, invoice, err := loadTarget(ctx, repos, tenantID, p.Target)
		if err != nil {
			return err
		}
		guardContract, err := guardContext(ctx, repos, p, contract, invoice)
		if err != nil {
			return err
		}
		report := s.guard.CheckPayment(p, guardContract, invoice)
		if !report.OK() {
			rejected = &report
			return report.Err()
		}
		s.guard.ApplyWarnings(p, report)

		if err := moveContractTotals(ctx, repos, p, previous); err != nil {
			return err
		}
		if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
			return err
		}
		linked = true
		return nil
	})
	if err != nil {
		if rejected != nil {
			return nil, s.rejectByGuard(ctx, span, tenantID, &paymentID, outcome.Suggestion.Target(), actor, *rejected)
		}
		return nil, err
	}

	switch {
	case linked:
		s.metrics.RecordMatch(ctx, telemetry.MatchOutcomeAutoLinked, outcome.Suggestion.Score)
		s.record(ctx, finance.NewAuditEntry(tenantID, &paymentID, finance.AuditActionAutoLinked, actor, outcome.Suggestion.Reason).
			WithTarget(outcome.Payment.Target, outcome.Suggestion.Score))
		s.publish(ctx, outcome.Payment)
		s.log(ctx).Info("payment auto-linked",
			zap.String(telemetry.SpanAttrPaymentID, paymentID.String()),
			zap.String(telemetry.SpanAttrTargetType, outcome.Suggestion.TargetType.String()),
			zap.String(telemetry.SpanAttrTargetID, outcome.Suggestion.TargetID.String()),
			zap.Int(telemetry.SpanAttrConfidence, outcome.Suggestion.Score),
		)
	case matched:
		s.metrics.RecordMatch(ctx, telemetry.MatchOutcomeAlreadyLinked, outcome.Suggestion.Score)
	default:
		reason := "no candidates"
		switch {
		case blocked != nil:
			reason = blocked.Error()
		case outcome.Suggestion.TargetID != uuid.Nil:
			reason = fmt.Sprintf("best candidate %s scored %d, below %d: %s",
				outcome.Suggestion.TargetNumber, outcome.Suggestion.Score, finance.AutoMatchThreshold, outcome.Suggestion.Reason)
		}
		s.metrics.RecordMatch(ctx, telemetry.MatchOutcomeNoMatch, outcome.Suggestion.Score)
		s.record(ctx, finance.NewAuditEntry(tenantID, &paymentID, finance.AuditActionNoMatch, actor, reason).
			WithTarget(outcome.Suggestion.Target(), outcome.Suggestion.Score))
		s.log(ctx).Info("payment not auto-matched",
			zap.String(telemetry.SpanAttrPaymentID, paymentID.String()),
			zap.String("reason", reason),
		)
		return nil, nil
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrConfidence, outcome.Suggestion.Score)
	return &outcome, nil
}

// MatchPayment links the payment to the named invoice or contract regardless
// of its score, replacing any previous link
func (s *Service) MatchPayment(ctx context.Context, req MatchPaymentRequest) (result *finance.MatchResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "match_payment",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrTargetType, req.TargetType),
		telemetry.WithAttribute(telemetry.SpanAttrTargetID, req.TargetID.String()),
	)
	defer func() { s.finish(ctx, span, "match_payment", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	target, err := finance.NewPaymentTarget(finance.TargetType(req.TargetType), req.TargetID)
	if err != nil {
		return nil, err
	}
	actor := actorOr(ctx, req.Actor, "unknown")

	var (
		payment  *finance.Payment
		number   string
		changed  bool
		rejected *finance.ValidationReport
	)
	err = s.transact(ctx, "match_payment", func(ctx context.Context, repos finance.Repositories) error {
		rejected, changed = nil, false
		p, err := repos.Payments.FindByIDForUpdate(ctx, req.TenantID, req.PaymentID)
		if err != nil {
			return err
		}
		contract, invoice, err := loadTarget(ctx, repos, req.TenantID, target)
		if err != nil {
			return err
		}
		if contract != nil {
			number = contract.ContractNumber
		} else {
			number = invoice.InvoiceNumber
		}
		if p.Target == target {
			confirmed, err := p.ConfirmLink(actor)
			if err != nil {
				return err
			}
			if confirmed {
				if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
					return err
				}
			}
			payment, changed = p, confirmed
			return nil
		}

		previous := p.Target
		if err := p.LinkTo(target, finance.MaxScore, actor); err != nil {
			return err
		}
		guardContract, err := guardContext(ctx, repos, p, contract, invoice)
		if err != nil {
			return err
		}
		// the payment already counts towards a contract it stays on
		if guardContract != nil && previous.Matches(finance.TargetTypeContract, guardContract.ID) {
			relieved := *guardContract
			relieved.TotalPaid = relieved.TotalPaid.Sub(p.Amount)
			guardContract = &relieved
		}
		report := s.guard.CheckPayment(p, guardContract, invoice)
		if !report.OK() {
			rejected = &report
			return report.Err()
		}
		s.guard.ApplyWarnings(p, report)

		if err := moveContractTotals(ctx, repos, p, previous); err != nil {
			return err
		}
		if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
			return err
		}
		payment, changed = p, true
		return nil
	})
	if err != nil {
		if rejected != nil {
			return nil, s.rejectByGuard(ctx, span, req.TenantID, &req.PaymentID, target, actor, *rejected)
		}
		return nil, err
	}

	suggestion := finance.MatchSuggestion{
		TargetType:    target.Type(),
		TargetID:      target.ID(),
		TargetNumber:  number,
		Score:         finance.MaxScore,
		Reason:        "manual link",
		AutoMatchable: true,
	}
	if !changed {
		suggestion.Reason = "already linked"
		return &finance.MatchResult{Payment: payment, Suggestion: suggestion, Success: true}, nil
	}

	s.metrics.RecordMatch(ctx, telemetry.MatchOutcomeManual, finance.MaxScore)
	s.record(ctx, finance.NewAuditEntry(req.TenantID, &req.PaymentID, finance.AuditActionManualLink, actor, "manual link to "+number).
		WithTarget(target, finance.MaxScore))
	s.publish(ctx, payment)
	s.log(ctx).Info("payment linked manually",
		zap.String(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
		zap.String(telemetry.SpanAttrTargetType, req.TargetType),
		zap.String(telemetry.SpanAttrTargetID, req.TargetID.String()),
		zap.String("actor", actor),
	)
	return &finance.MatchResult{Payment: payment, Suggestion: suggestion, Success: true}, nil
}

// UnlinkPayment removes the payment's link and steps its status back to
// what its obligation allocations imply
func (s *Service) UnlinkPayment(ctx context.Context, req UnlinkPaymentRequest) (payment *finance.Payment, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "unlink_payment",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
	)
	defer func() { s.finish(ctx, span, "unlink_payment", start, err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	actor := actorOr(ctx, req.Actor, "unknown")

	var previous finance.PaymentTarget
	err = s.transact(ctx, "unlink_payment", func(ctx context.Context, repos finance.Repositories) error {
		p, err := repos.Payments.FindByIDForUpdate(ctx, req.TenantID, req.PaymentID)
		if err != nil {
			return err
		}
		previous = p.Target
		if err := p.Unlink(actor); err != nil {
			return err
		}
		if err := moveContractTotals(ctx, repos, p, previous); err != nil {
			return err
		}
		if err := repos.Payments.SaveWithLock(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "unlinked from " + previous.String()
	}
	s.record(ctx, finance.NewAuditEntry(req.TenantID, &req.PaymentID, finance.AuditActionUnlink, actor, reason).
		WithTarget(previous, 0))
	s.publish(ctx, payment)
	s.log(ctx).Info("payment unlinked",
		zap.String(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
		zap.String("previous_target", previous.String()),
		zap.String("actor", actor),
	)
	return payment, nil
}

// LinkingHistory lists the payment's linking and allocation decisions,
// newest first
func (s *Service) LinkingHistory(ctx context.Context, tenantID, paymentID uuid.UUID) ([]finance.AuditEntry, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "linking_history",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, paymentID.String()),
	)
	defer span.End()

	if _, err := s.store.Repositories().Payments.FindByIDForTenant(ctx, tenantID, paymentID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if s.audit == nil {
		return []finance.AuditEntry{}, nil
	}
	entries, err := s.audit.ListByPayment(ctx, tenantID, paymentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
