package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ActorAutoMatch is recorded for links made without a person involved
const ActorAutoMatch = "system:auto-match"

// Settings are the tunables of the reconciliation service
type Settings struct {
	Scoring         finance.ScoringConfig
	Guard           finance.GuardConfig
	MaxSuggestions  int
	DefaultStrategy finance.AllocationStrategyType
	MaxRetries      int
	StoreTimeout    time.Duration
}

// DefaultSettings returns the built-in thresholds with fifo allocation and
// three attempts per unit of work
func DefaultSettings() Settings {
	return Settings{
		Scoring:         finance.DefaultScoringConfig(),
		Guard:           finance.DefaultGuardConfig(),
		MaxSuggestions:  finance.DefaultMaxSuggestions,
		DefaultStrategy: finance.AllocationStrategyFIFO,
		MaxRetries:      3,
	}
}

// SettingsFromConfig converts the loaded configuration
func SettingsFromConfig(rc config.ReconciliationConfig, gc config.GuardConfig) Settings {
	return Settings{
		Scoring: finance.ScoringConfig{
			AmountTolerance: decimal.NewFromFloat(rc.AmountTolerance),
			LooseTolerance:  decimal.NewFromFloat(rc.LooseTolerance),
			CycleWindowDays: rc.CycleWindowDays,
		},
		Guard: finance.GuardConfig{
			OutlierMultiplier:   decimal.NewFromFloat(gc.OutlierMultiplier),
			AbsoluteCeiling:     decimal.NewFromFloat(gc.AbsoluteCeiling),
			OverpaymentHeadroom: decimal.NewFromFloat(gc.OverpaymentHeadroom),
			InvoiceVariance:     decimal.NewFromFloat(gc.InvoiceVariance),
		},
		MaxSuggestions:  rc.MaxSuggestions,
		DefaultStrategy: finance.AllocationStrategyType(rc.DefaultStrategy),
		MaxRetries:      rc.MaxRetries,
		StoreTimeout:    rc.StoreTimeout,
	}
}

// Service is the single entry point for matching, allocating and
// correcting payments. Every state change runs as one store transaction.
type Service struct {
	store     finance.Store
	audit     finance.AuditLog
	events    shared.EventPublisher
	matcher   *finance.MatchingEngine
	allocator *finance.AllocationEngine
	guard     *finance.PaymentGuard
	metrics   *telemetry.ReconciliationMetrics
	logger    *zap.Logger
	settings  Settings
}

// Option configures a Service
type Option func(*Service)

// WithSettings replaces the default settings
func WithSettings(settings Settings) Option {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithEventPublisher publishes payment events after each commit
func WithEventPublisher(p shared.EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithMetrics records reconciliation metrics
func WithMetrics(m *telemetry.ReconciliationMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the base logger, used when the context carries none
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithAllocationEngine replaces the allocation engine, e.g. to pin its clock
func WithAllocationEngine(e *finance.AllocationEngine) Option {
	return func(s *Service) {
		s.allocator = e
	}
}

// NewService creates the reconciliation service
func NewService(store finance.Store, audit finance.AuditLog, opts ...Option) *Service {
	s := &Service{
		store:    store,
		audit:    audit,
		logger:   zap.NewNop(),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings.MaxRetries < 1 {
		s.settings.MaxRetries = 1
	}
	if !s.settings.DefaultStrategy.IsValid() || s.settings.DefaultStrategy == finance.AllocationStrategyManual {
		s.settings.DefaultStrategy = finance.AllocationStrategyFIFO
	}
	s.matcher = finance.NewMatchingEngine(
		finance.NewDefaultScorer(s.settings.Scoring),
		finance.WithMaxSuggestions(s.settings.MaxSuggestions),
	)
	s.guard = finance.NewPaymentGuard(s.settings.Guard)
	if s.allocator == nil {
		s.allocator = finance.NewAllocationEngine()
	}
	return s
}

// DefaultStrategy returns the strategy used when a request names none
func (s *Service) DefaultStrategy() finance.AllocationStrategyType {
	return s.settings.DefaultStrategy
}

// transact runs fn as one unit of work, retrying the whole unit with fresh
// state when an optimistic lock check fails
func (s *Service) transact(ctx context.Context, operation string, fn func(ctx context.Context, repos finance.Repositories) error) error {
	if s.settings.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.StoreTimeout)
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= s.settings.MaxRetries; attempt++ {
		err = s.store.Transaction(ctx, fn)
		if err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		s.metrics.RecordLockConflict(ctx, operation)
		s.log(ctx).Warn("optimistic lock conflict",
			zap.String("operation", operation),
			zap.Int(telemetry.SpanAttrAttempt, attempt),
			zap.Int("max_attempts", s.settings.MaxRetries),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// record writes an audit entry. The change it describes is already
// committed, so a failure is only logged.
func (s *Service) record(ctx context.Context, entry finance.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log(ctx).Warn("failed to record audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

// publish hands the payment's pending events to the publisher and clears them
func (s *Service) publish(ctx context.Context, p *finance.Payment) {
	if p == nil {
		return
	}
	events := p.GetDomainEvents()
	p.ClearDomainEvents()
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.log(ctx).Warn("failed to publish payment events",
			zap.String(telemetry.SpanAttrPaymentID, p.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) log(ctx context.Context) *logger.ContextLogger {
	return logger.LOr(ctx, s.logger)
}

// finish closes an operation's span and records its duration
func (s *Service) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	s.metrics.RecordDuration(ctx, operation, time.Since(start), err)
	span.End()
}

// actorOr returns actor, or the actor carried by ctx, or def
func actorOr(ctx context.Context, actor, def string) string {
	if actor != "" {
		return actor
	}
	if a := logger.GetActor(ctx); a != "" {
		return a
	}
	return def
}

// loadTarget fetches the document a target points to. Exactly one of the
// returned pointers is set for a non-empty target.
func loadTarget(ctx context.Context, repos finance.Repositories, tenantID uuid.UUID, target finance.PaymentTarget) (*finance.Contract, *finance.Invoice, error) {
	switch {
	case target.IsContract():
		c, err := repos.Contracts.FindByIDForTenant(ctx, tenantID, target.ID())
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	case target.IsInvoice():
		inv, err := repos.Invoices.FindByIDForTenant(ctx, tenantID, target.ID())
		if err != nil {
			return nil, nil, err
		}
		return nil, inv, nil
	}
	return nil, nil, nil
}

// guardContext returns the contract a payment is checked against: the target
// contract, or the contract of the target invoice when it has one
func guardContext(ctx context.Context, repos finance.Repositories, p *finance.Payment, contract *finance.Contract, invoice *finance.Invoice) (*finance.Contract, error) {
	if contract != nil || invoice == nil || invoice.ContractID == nil {
		return contract, nil
	}
	c, err := repos.Contracts.FindByIDForTenant(ctx, p.TenantID, *invoice.ContractID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// moveContractTotals keeps contract total_paid in step with the contract a
// payment is linked to
func moveContractTotals(ctx context.Context, repos finance.Repositories, p *finance.Payment, previous finance.PaymentTarget) error {
	if previous == p.Target {
		return nil
	}
	if previous.IsContract() {
		if err := repos.Contracts.AddToTotalPaid(ctx, p.TenantID, previous.ID(), p.Amount.Neg()); err != nil {
			return fmt.Errorf("failed to update contract total: %w", err)
		}
	}
	if p.Target.IsContract() {
		if err := repos.Contracts.AddToTotalPaid(ctx, p.TenantID, p.Target.ID(), p.Amount); err != nil {
			return fmt.Errorf("failed to update contract total: %w", err)
		}
	}
	return nil
}

func (s *Service) rejectByGuard(ctx context.Context, span trace.Span, tenantID uuid.UUID, paymentID *uuid.UUID, target finance.PaymentTarget, actor string, report finance.ValidationReport) error {
	err := report.Err()
	telemetry.SetAttribute(span, telemetry.SpanAttrGuardOutcome, "rejected")
	for _, v := range report.Violations {
		s.metrics.RecordGuardRejection(ctx, string(v.Rule))
	}
	s.record(ctx, finance.NewAuditEntry(tenantID, paymentID, finance.AuditActionGuardRejected, actor, err.Error()).
		WithTarget(target, 0))
	s.log(ctx).Info("guard rejected change", zap.Error(err))
	return err
}
