package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/reconciliation/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// MaxScore is the highest confidence a candidate can reach
const MaxScore = 100

// Score is the scorer's verdict for one payment and candidate
type Score struct {
	Value  int
	Reason string
}

// RuleOutcome is one rule's contribution. Floor is the minimum score the
// evidence guarantees on its own; Bonus is what the rule adds when another
// rule supplies the floor.
type RuleOutcome struct {
	Matched      bool
	Floor        int
	Bonus        int
	Reason       string
	ShortCircuit bool
}

// ScoringRule is a single independent matching signal
type ScoringRule interface {
	strategy.Strategy
	Evaluate(p *Payment, c Candidate) RuleOutcome
}

// ScoringConfig holds the tolerances the default rules use
type ScoringConfig struct {
	AmountTolerance decimal.Decimal
	LooseTolerance  decimal.Decimal
	CycleWindowDays int
}

// DefaultScoringConfig returns ±5% / ±20% bands and a 7 day cycle window
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AmountTolerance: decimal.NewFromFloat(0.05),
		LooseTolerance:  decimal.NewFromFloat(0.20),
		CycleWindowDays: 7,
	}
}

// DefaultScoringRules returns the standard rule set, strongest evidence first
func DefaultScoringRules(cfg ScoringConfig) []ScoringRule {
	return []ScoringRule{
		NewExplicitLinkRule(),
		NewReferenceRule(),
		NewCustomerCycleRule(cfg.AmountTolerance, cfg.CycleWindowDays),
		NewAmountRule(cfg.AmountTolerance),
		NewLooseAmountRule(cfg.AmountTolerance, cfg.LooseTolerance),
		NewDateProximityRule(cfg.CycleWindowDays),
	}
}

// Scorer combines scoring rules into a 0-100 confidence. The strongest floor
// wins, every other matched rule adds its bonus, and the sum is capped.
// Without any floor a candidate needs at least two weak signals.
type Scorer struct {
	rules []ScoringRule
}

// NewScorer creates a scorer over the given rules
func NewScorer(rules ...ScoringRule) *Scorer {
	return &Scorer{rules: rules}
}

// NewDefaultScorer creates a scorer with the standard rules
func NewDefaultScorer(cfg ScoringConfig) *Scorer {
	return NewScorer(DefaultScoringRules(cfg)...)
}

// Rules returns the configured rules
func (s *Scorer) Rules() []ScoringRule {
	return s.rules
}

// Score rates how likely the payment belongs to the candidate
func (s *Scorer) Score(p *Payment, c Candidate) Score {
	var matched []RuleOutcome
	floorIdx := -1
	for _, rule := range s.rules {
		out := rule.Evaluate(p, c)
		if !out.Matched {
			continue
		}
		if out.ShortCircuit {
			return Score{Value: MaxScore, Reason: out.Reason}
		}
		matched = append(matched, out)
		if out.Floor > 0 && (floorIdx < 0 || out.Floor > matched[floorIdx].Floor) {
			floorIdx = len(matched) - 1
		}
	}

	if floorIdx < 0 && len(matched) < 2 {
		return Score{}
	}

	total := 0
	reasons := make([]string, 0, len(matched))
	for i, out := range matched {
		if i == floorIdx {
			total += out.Floor
		} else {
			total += out.Bonus
		}
		reasons = append(reasons, out.Reason)
	}
	if total <= 0 {
		return Score{}
	}
	return Score{Value: clampScore(total), Reason: strings.Join(reasons, " + ")}
}

type explicitLinkRule struct {
	strategy.BaseStrategy
}

// NewExplicitLinkRule scores 100 when the payment already points at the candidate
func NewExplicitLinkRule() ScoringRule {
	return &explicitLinkRule{
		BaseStrategy: strategy.NewBaseStrategy("explicit_link", strategy.StrategyTypeScoring,
			"Payment already carries a link to this document"),
	}
}

func (r *explicitLinkRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	if p.Target.Matches(c.Target.Type(), c.Target.ID()) {
		return RuleOutcome{Matched: true, Floor: MaxScore, ShortCircuit: true, Reason: "exact reference"}
	}
	return RuleOutcome{}
}

type referenceRule struct {
	strategy.BaseStrategy
}

// NewReferenceRule matches the document number against the payment reference,
// case-insensitively and in either direction
func NewReferenceRule() ScoringRule {
	return &referenceRule{
		BaseStrategy: strategy.NewBaseStrategy("reference", strategy.StrategyTypeScoring,
			"Document number appears in the payment reference"),
	}
}

func (r *referenceRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	ref := strings.ToLower(strings.TrimSpace(p.Reference))
	number := strings.ToLower(strings.TrimSpace(c.Number))
	if ref == "" || number == "" {
		return RuleOutcome{}
	}
	if strings.Contains(ref, number) || strings.Contains(number, ref) {
		return RuleOutcome{
			Matched: true,
			Floor:   90,
			Bonus:   10,
			Reason:  fmt.Sprintf("reference match (%s)", c.Number),
		}
	}
	return RuleOutcome{}
}

type customerCycleRule struct {
	strategy.BaseStrategy
	tolerance decimal.Decimal
	window    time.Duration
}

// NewCustomerCycleRule matches a payment from the same customer for the
// expected amount close to a billing date
func NewCustomerCycleRule(tolerance decimal.Decimal, windowDays int) ScoringRule {
	return &customerCycleRule{
		BaseStrategy: strategy.NewBaseStrategy("customer_cycle", strategy.StrategyTypeScoring,
			"Same customer, expected amount, near a billing date"),
		tolerance: tolerance,
		window:    days(windowDays),
	}
}

func (r *customerCycleRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	if p.CustomerID != c.CustomerID {
		return RuleOutcome{}
	}
	if !withinTolerance(p.Amount, c.ExpectedAmount, r.tolerance) {
		return RuleOutcome{}
	}
	cycle, ok := c.NearestCycle(p.PaymentDate)
	if !ok || absDuration(p.PaymentDate.Sub(cycle)) > r.window {
		return RuleOutcome{}
	}
	return RuleOutcome{Matched: true, Floor: 60, Bonus: 10, Reason: "customer, amount and billing cycle match"}
}

type amountRule struct {
	strategy.BaseStrategy
	tolerance decimal.Decimal
}

// NewAmountRule matches amounts inside the tight tolerance band
func NewAmountRule(tolerance decimal.Decimal) ScoringRule {
	return &amountRule{
		BaseStrategy: strategy.NewBaseStrategy("amount", strategy.StrategyTypeScoring,
			"Payment amount matches the expected amount"),
		tolerance: tolerance,
	}
}

func (r *amountRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	if !withinTolerance(p.Amount, c.ExpectedAmount, r.tolerance) {
		return RuleOutcome{}
	}
	if p.Amount.Equal(c.ExpectedAmount) {
		return RuleOutcome{Matched: true, Floor: 40, Bonus: 10, Reason: "exact amount"}
	}
	return RuleOutcome{
		Matched: true,
		Floor:   40,
		Bonus:   5,
		Reason:  fmt.Sprintf("amount within %s%%", percent(r.tolerance)),
	}
}

type looseAmountRule struct {
	strategy.BaseStrategy
	tight decimal.Decimal
	loose decimal.Decimal
}

// NewLooseAmountRule adds a small bonus for amounts outside the tight band
// but inside the loose one
func NewLooseAmountRule(tight, loose decimal.Decimal) ScoringRule {
	return &looseAmountRule{
		BaseStrategy: strategy.NewBaseStrategy("loose_amount", strategy.StrategyTypeScoring,
			"Payment amount is close to the expected amount"),
		tight: tight,
		loose: loose,
	}
}

func (r *looseAmountRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	if withinTolerance(p.Amount, c.ExpectedAmount, r.tight) || !withinTolerance(p.Amount, c.ExpectedAmount, r.loose) {
		return RuleOutcome{}
	}
	return RuleOutcome{
		Matched: true,
		Bonus:   10,
		Reason:  fmt.Sprintf("amount within %s%%", percent(r.loose)),
	}
}

type dateProximityRule struct {
	strategy.BaseStrategy
	windowDays int
}

// NewDateProximityRule adds a bonus when the payment lands near a billing date
func NewDateProximityRule(windowDays int) ScoringRule {
	return &dateProximityRule{
		BaseStrategy: strategy.NewBaseStrategy("date_proximity", strategy.StrategyTypeScoring,
			"Payment date is close to a billing date"),
		windowDays: windowDays,
	}
}

func (r *dateProximityRule) Evaluate(p *Payment, c Candidate) RuleOutcome {
	cycle, ok := c.NearestCycle(p.PaymentDate)
	if !ok || absDuration(p.PaymentDate.Sub(cycle)) > days(r.windowDays) {
		return RuleOutcome{}
	}
	return RuleOutcome{
		Matched: true,
		Bonus:   5,
		Reason:  fmt.Sprintf("paid within %d days of billing date %s", r.windowDays, cycle.Format("2006-01-02")),
	}
}

// withinTolerance reports |amount - expected| <= expected * tolerance
func withinTolerance(amount, expected, tolerance decimal.Decimal) bool {
	if !expected.IsPositive() {
		return false
	}
	return amount.Sub(expected).Abs().LessThanOrEqual(expected.Mul(tolerance))
}

func percent(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).String()
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
