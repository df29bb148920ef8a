package finance

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationEngine turns a payment and a customer's obligations into
// allocations. It plans without side effects and then applies a plan to the
// in-memory aggregates; persisting them is the caller's job.
type AllocationEngine struct {
	factory *AllocationStrategyFactory
	clock   func() time.Time
}

// AllocationEngineOption configures an AllocationEngine
type AllocationEngineOption func(*AllocationEngine)

// WithStrategyFactory sets the strategy factory
func WithStrategyFactory(f *AllocationStrategyFactory) AllocationEngineOption {
	return func(e *AllocationEngine) {
		if f != nil {
			e.factory = f
		}
	}
}

// WithClock sets the time source used for overdue and nearest-due decisions
func WithClock(clock func() time.Time) AllocationEngineOption {
	return func(e *AllocationEngine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewAllocationEngine creates an allocation engine
func NewAllocationEngine(opts ...AllocationEngineOption) *AllocationEngine {
	e := &AllocationEngine{
		factory: NewAllocationStrategyFactory(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time
func (e *AllocationEngine) Now() time.Time {
	return e.clock()
}

// EligibleObligations keeps open obligations of the payment's customer, and of
// its contract when the payment is contract-scoped
func EligibleObligations(p *Payment, obligations []*Obligation) []*Obligation {
	eligible := make([]*Obligation, 0, len(obligations))
	for _, o := range obligations {
		if o == nil || !o.IsOpen() {
			continue
		}
		if o.TenantID != p.TenantID || o.CustomerID != p.CustomerID {
			continue
		}
		if p.IsContractScoped() && o.ContractID != p.Target.ID() {
			continue
		}
		if o.Currency != p.Currency {
			continue
		}
		eligible = append(eligible, o)
	}
	return eligible
}

// Plan computes how the payment's remaining amount would be spread. A payment
// with nothing left yields an empty plan.
func (e *AllocationEngine) Plan(
	p *Payment,
	obligations []*Obligation,
	strategyType AllocationStrategyType,
	manual []ManualAllocation,
) (*AllocationPlan, error) {
	if p == nil {
		return nil, shared.NewDomainError("INVALID_PAYMENT", "Payment cannot be nil")
	}
	if !strategyType.IsValid() {
		return nil, shared.NewDomainErrorf("INVALID_STRATEGY", "unknown allocation strategy %q", strategyType)
	}
	amount := p.RemainingAmount()
	if !amount.IsPositive() {
		return emptyPlan(strategyType, decimal.Zero), nil
	}

	s, err := e.factory.GetStrategy(strategyType, manual)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	eligible := EligibleObligations(p, obligations)
	targets := make([]AllocationTarget, 0, len(eligible))
	for _, o := range eligible {
		targets = append(targets, TargetFromObligation(o, now))
	}
	return s.Allocate(amount, targets, now)
}

// Apply executes a plan against the aggregates: obligations are retired,
// allocation rows are created and the payment records the allocated amount
// and the residual credit. Nothing is changed if any step fails.
func (e *AllocationEngine) Apply(
	p *Payment,
	obligations []*Obligation,
	plan *AllocationPlan,
	allocationType AllocationType,
	actor string,
) ([]Allocation, error) {
	if err := p.CanAllocate(); err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Obligation, len(obligations))
	for _, o := range obligations {
		byID[o.ID] = o
	}

	// validate everything before touching any aggregate
	needed := make(map[uuid.UUID]decimal.Decimal, len(plan.Instructions))
	for _, ins := range plan.Instructions {
		o, ok := byID[ins.ObligationID]
		if !ok {
			return nil, shared.NotFound("obligation", ins.ObligationID)
		}
		if !o.IsOpen() {
			return nil, shared.NewDomainErrorf("INVALID_STATE", "obligation %s is %s", o.ObligationNumber, o.Status)
		}
		needed[o.ID] = needed[o.ID].Add(ins.Amount)
		if needed[o.ID].GreaterThan(o.RemainingAmount) {
			return nil, shared.NewDomainErrorf("OVER_ALLOCATION",
				"obligation %s has %s remaining, plan needs %s",
				o.ObligationNumber, o.RemainingAmount.StringFixed(2), needed[o.ID].StringFixed(2))
		}
	}
	if plan.TotalAllocated.Add(plan.Residual).GreaterThan(p.RemainingAmount()) {
		return nil, shared.NewDomainErrorf("OVER_ALLOCATION",
			"plan of %s exceeds payment %s remaining amount %s",
			plan.TotalAllocated.Add(plan.Residual).StringFixed(2), p.PaymentNumber, p.RemainingAmount().StringFixed(2))
	}

	now := e.clock()
	allocations := make([]Allocation, 0, len(plan.Instructions))
	for _, ins := range plan.Instructions {
		o := byID[ins.ObligationID]
		a, err := NewAllocation(p, o, ins.Amount, allocationType, plan.Strategy, actor)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	for _, ins := range plan.Instructions {
		if err := byID[ins.ObligationID].ApplyAllocation(ins.Amount, now); err != nil {
			return nil, err
		}
	}
	if err := p.ApplyAllocations(allocations, plan.Residual); err != nil {
		return nil, err
	}
	return allocations, nil
}

// Reverse undoes one allocation: the obligation gets the amount back at once
// and the payment steps back to the status its remaining allocations imply
func (e *AllocationEngine) Reverse(
	p *Payment,
	obligation *Obligation,
	original Allocation,
	actor string,
) (Allocation, error) {
	if original.PaymentID != p.ID || original.ObligationID != obligation.ID {
		return Allocation{}, shared.NewDomainError("INVALID_REVERSAL", "Allocation does not belong to this payment and obligation")
	}
	reversal, err := NewReversal(original, actor)
	if err != nil {
		return Allocation{}, err
	}
	if original.Amount.GreaterThan(p.AllocatedAmount) {
		return Allocation{}, shared.NewDomainErrorf("INVALID_REVERSAL",
			"reversal of %s exceeds payment %s allocated amount %s",
			original.Amount.StringFixed(2), p.PaymentNumber, p.AllocatedAmount.StringFixed(2))
	}
	if err := obligation.ReverseAllocation(original.Amount, e.clock()); err != nil {
		return Allocation{}, err
	}
	if err := p.ApplyReversal(reversal, actor); err != nil {
		return Allocation{}, err
	}
	return reversal, nil
}
