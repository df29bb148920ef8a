package finance

import (
	"sort"
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationStrategyType selects how a payment is spread over obligations
type AllocationStrategyType string

const (
	AllocationStrategyFIFO            AllocationStrategyType = "fifo"
	AllocationStrategyNearestDue      AllocationStrategyType = "nearest_due"
	AllocationStrategyHighestInterest AllocationStrategyType = "highest_interest"
	AllocationStrategyManual          AllocationStrategyType = "manual"
)

// IsValid returns true if the strategy type is valid
func (t AllocationStrategyType) IsValid() bool {
	switch t {
	case AllocationStrategyFIFO, AllocationStrategyNearestDue, AllocationStrategyHighestInterest, AllocationStrategyManual:
		return true
	}
	return false
}

// String returns the string representation
func (t AllocationStrategyType) String() string {
	return string(t)
}

// AllAllocationStrategyTypes returns all valid strategy types
func AllAllocationStrategyTypes() []AllocationStrategyType {
	return []AllocationStrategyType{
		AllocationStrategyFIFO,
		AllocationStrategyNearestDue,
		AllocationStrategyHighestInterest,
		AllocationStrategyManual,
	}
}

// AllocationTarget is an obligation as seen by a strategy
type AllocationTarget struct {
	ID                uuid.UUID
	Number            string
	Type              ObligationType
	OutstandingAmount decimal.Decimal
	DueDate           *time.Time
	DaysOverdue       int
	CreatedAt         time.Time
}

// TargetFromObligation builds a strategy target from an obligation
func TargetFromObligation(o *Obligation, now time.Time) AllocationTarget {
	return AllocationTarget{
		ID:                o.ID,
		Number:            o.ObligationNumber,
		Type:              o.Type,
		OutstandingAmount: o.RemainingAmount,
		DueDate:           o.DueDate,
		DaysOverdue:       o.DaysOverdue(now),
		CreatedAt:         o.CreatedAt,
	}
}

// AllocationInstruction says how much of the payment goes to one obligation
type AllocationInstruction struct {
	ObligationID     uuid.UUID       `json:"obligation_id"`
	ObligationNumber string          `json:"obligation_number"`
	Amount           decimal.Decimal `json:"amount"`
	RemainingBefore  decimal.Decimal `json:"remaining_before"`
	RemainingAfter   decimal.Decimal `json:"remaining_after"`
}

// AllocationPlan is a strategy's output: what to allocate where, and what is
// left over as customer credit
type AllocationPlan struct {
	Strategy                 AllocationStrategyType  `json:"strategy"`
	Instructions             []AllocationInstruction `json:"instructions"`
	TotalAllocated           decimal.Decimal         `json:"total_allocated"`
	Residual                 decimal.Decimal         `json:"residual"`
	ObligationsFullyPaid     []uuid.UUID             `json:"obligations_fully_paid"`
	ObligationsPartiallyPaid []uuid.UUID             `json:"obligations_partially_paid"`
}

func emptyPlan(strategyType AllocationStrategyType, residual decimal.Decimal) *AllocationPlan {
	return &AllocationPlan{
		Strategy:                 strategyType,
		Instructions:             make([]AllocationInstruction, 0),
		TotalAllocated:           decimal.Zero,
		Residual:                 residual,
		ObligationsFullyPaid:     make([]uuid.UUID, 0),
		ObligationsPartiallyPaid: make([]uuid.UUID, 0),
	}
}

func (p *AllocationPlan) add(target AllocationTarget, amount decimal.Decimal) {
	after := target.OutstandingAmount.Sub(amount)
	p.Instructions = append(p.Instructions, AllocationInstruction{
		ObligationID:     target.ID,
		ObligationNumber: target.Number,
		Amount:           amount,
		RemainingBefore:  target.OutstandingAmount,
		RemainingAfter:   after,
	})
	p.TotalAllocated = p.TotalAllocated.Add(amount)
	if after.IsZero() {
		p.ObligationsFullyPaid = append(p.ObligationsFullyPaid, target.ID)
	} else {
		p.ObligationsPartiallyPaid = append(p.ObligationsPartiallyPaid, target.ID)
	}
}

// AllocationStrategy spreads an amount over eligible targets
type AllocationStrategy interface {
	strategy.Strategy
	StrategyType() AllocationStrategyType
	// Allocate never mutates targets; amount <= 0 yields an empty plan
	Allocate(amount decimal.Decimal, targets []AllocationTarget, now time.Time) (*AllocationPlan, error)
}

// orderedStrategy sorts targets and then consumes them greedily
type orderedStrategy struct {
	strategy.BaseStrategy
	strategyType AllocationStrategyType
	less         func(a, b AllocationTarget, now time.Time) bool
}

func (s *orderedStrategy) StrategyType() AllocationStrategyType {
	return s.strategyType
}

func (s *orderedStrategy) Allocate(amount decimal.Decimal, targets []AllocationTarget, now time.Time) (*AllocationPlan, error) {
	if !amount.IsPositive() {
		return emptyPlan(s.strategyType, decimal.Zero), nil
	}

	sorted := make([]AllocationTarget, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.less(sorted[i], sorted[j], now)
	})

	plan := emptyPlan(s.strategyType, decimal.Zero)
	remaining := amount
	for _, target := range sorted {
		if remaining.IsZero() {
			break
		}
		if !target.OutstandingAmount.IsPositive() {
			continue
		}
		alloc := decimal.Min(remaining, target.OutstandingAmount)
		plan.add(target, alloc)
		remaining = remaining.Sub(alloc)
	}
	plan.Residual = remaining
	return plan, nil
}

// NewFIFOAllocationStrategy allocates to the earliest due obligations first.
// Undated obligations go last; ties fall back to creation order.
func NewFIFOAllocationStrategy() AllocationStrategy {
	return &orderedStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			"fifo_allocation",
			strategy.StrategyTypeAllocation,
			"Allocates to the oldest due obligations first, then by creation date",
		),
		strategyType: AllocationStrategyFIFO,
		less: func(a, b AllocationTarget, _ time.Time) bool {
			return fifoLess(a, b)
		},
	}
}

// NewNearestDueAllocationStrategy allocates to the obligation whose due date
// is closest to today, overdue or upcoming
func NewNearestDueAllocationStrategy() AllocationStrategy {
	return &orderedStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			"nearest_due_allocation",
			strategy.StrategyTypeAllocation,
			"Allocates to obligations due closest to the current date first",
		),
		strategyType: AllocationStrategyNearestDue,
		less: func(a, b AllocationTarget, now time.Time) bool {
			if a.DueDate == nil || b.DueDate == nil {
				return fifoLess(a, b)
			}
			today := startOfDay(now)
			da := absDuration(startOfDay(*a.DueDate).Sub(today))
			db := absDuration(startOfDay(*b.DueDate).Sub(today))
			if da != db {
				return da < db
			}
			return fifoLess(a, b)
		},
	}
}

// NewHighestInterestAllocationStrategy allocates to the obligations that cost
// the customer most to leave unpaid: penalties, then overdue installments,
// then anything else overdue
func NewHighestInterestAllocationStrategy() AllocationStrategy {
	return &orderedStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			"highest_interest_allocation",
			strategy.StrategyTypeAllocation,
			"Allocates to penalties and overdue installments before plain fees",
		),
		strategyType: AllocationStrategyHighestInterest,
		less: func(a, b AllocationTarget, _ time.Time) bool {
			wa, wb := interestWeight(a), interestWeight(b)
			if wa != wb {
				return wa > wb
			}
			return fifoLess(a, b)
		},
	}
}

func interestWeight(t AllocationTarget) int {
	switch {
	case t.Type == ObligationTypePenalty:
		return 3
	case t.Type == ObligationTypeInstallment && t.DaysOverdue > 0:
		return 2
	case t.DaysOverdue > 0:
		return 1
	default:
		return 0
	}
}

func fifoLess(a, b AllocationTarget) bool {
	if a.DueDate != nil && b.DueDate != nil {
		if !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
	} else if a.DueDate != nil {
		return true
	} else if b.DueDate != nil {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// ManualAllocation is a caller-chosen amount for one obligation
type ManualAllocation struct {
	ObligationID uuid.UUID       `json:"obligation_id"`
	Amount       decimal.Decimal `json:"amount"`
}

// ManualAllocationStrategy applies exactly the amounts the caller asked for,
// in the caller's order, after checking them against the balances
type ManualAllocationStrategy struct {
	strategy.BaseStrategy
	allocations []ManualAllocation
}

// NewManualAllocationStrategy creates a manual strategy over the requests
func NewManualAllocationStrategy(allocations []ManualAllocation) *ManualAllocationStrategy {
	return &ManualAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			"manual_allocation",
			strategy.StrategyTypeAllocation,
			"Allocates caller-specified amounts to caller-specified obligations",
		),
		allocations: allocations,
	}
}

// StrategyType returns manual
func (s *ManualAllocationStrategy) StrategyType() AllocationStrategyType {
	return AllocationStrategyManual
}

// Allocations returns the requested allocations
func (s *ManualAllocationStrategy) Allocations() []ManualAllocation {
	return s.allocations
}

// Allocate validates and applies the requested allocations
func (s *ManualAllocationStrategy) Allocate(amount decimal.Decimal, targets []AllocationTarget, _ time.Time) (*AllocationPlan, error) {
	if !amount.IsPositive() {
		return emptyPlan(AllocationStrategyManual, decimal.Zero), nil
	}
	if len(s.allocations) == 0 {
		return nil, shared.NewDomainError("INVALID_MANUAL_ALLOCATION", "Manual allocation requires at least one obligation")
	}

	byID := make(map[uuid.UUID]AllocationTarget, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	requested := make(map[uuid.UUID]decimal.Decimal, len(s.allocations))
	total := decimal.Zero
	for _, req := range s.allocations {
		if !req.Amount.IsPositive() {
			return nil, shared.NewDomainErrorf("INVALID_MANUAL_ALLOCATION",
				"amount %s for obligation %s must be positive", req.Amount.String(), req.ObligationID)
		}
		target, ok := byID[req.ObligationID]
		if !ok {
			return nil, shared.NewDomainErrorf("INVALID_MANUAL_ALLOCATION",
				"obligation %s is not open for this payment", req.ObligationID)
		}
		requested[req.ObligationID] = requested[req.ObligationID].Add(req.Amount)
		if requested[req.ObligationID].GreaterThan(target.OutstandingAmount) {
			return nil, shared.NewDomainErrorf("INVALID_MANUAL_ALLOCATION",
				"allocation %s to obligation %s exceeds its remaining balance %s",
				requested[req.ObligationID].StringFixed(2), target.Number, target.OutstandingAmount.StringFixed(2))
		}
		total = total.Add(req.Amount)
	}
	if total.GreaterThan(amount) {
		return nil, shared.NewDomainErrorf("INVALID_MANUAL_ALLOCATION",
			"manual allocations total %s exceeds the payment amount available %s",
			total.StringFixed(2), amount.StringFixed(2))
	}

	plan := emptyPlan(AllocationStrategyManual, decimal.Zero)
	for _, req := range s.allocations {
		target := byID[req.ObligationID]
		plan.add(target, req.Amount)
		target.OutstandingAmount = target.OutstandingAmount.Sub(req.Amount)
		byID[req.ObligationID] = target
	}
	plan.Residual = amount.Sub(total)
	return plan, nil
}

// AllocationStrategyFactory resolves a strategy type to its implementation
type AllocationStrategyFactory struct {
	strategies map[AllocationStrategyType]AllocationStrategy
}

// NewAllocationStrategyFactory creates a factory with the ordering strategies
func NewAllocationStrategyFactory() *AllocationStrategyFactory {
	f := &AllocationStrategyFactory{
		strategies: make(map[AllocationStrategyType]AllocationStrategy),
	}
	f.Register(NewFIFOAllocationStrategy())
	f.Register(NewNearestDueAllocationStrategy())
	f.Register(NewHighestInterestAllocationStrategy())
	return f
}

// Register adds or replaces an ordering strategy
func (f *AllocationStrategyFactory) Register(s AllocationStrategy) {
	f.strategies[s.StrategyType()] = s
}

// GetStrategy returns the strategy for the type. Manual strategies are built
// per call from the caller's allocations.
func (f *AllocationStrategyFactory) GetStrategy(strategyType AllocationStrategyType, manual []ManualAllocation) (AllocationStrategy, error) {
	if strategyType == AllocationStrategyManual {
		return NewManualAllocationStrategy(manual), nil
	}
	s, ok := f.strategies[strategyType]
	if !ok {
		return nil, shared.NewDomainErrorf("INVALID_STRATEGY", "unknown allocation strategy %q", strategyType)
	}
	return s, nil
}
