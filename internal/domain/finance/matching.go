package finance

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutoMatchThreshold is the confidence at or above which a payment is linked
// without human confirmation
const AutoMatchThreshold = 70

// DefaultMaxSuggestions caps the ranked list returned to callers
const DefaultMaxSuggestions = 10

// MatchSuggestion is a ranked candidate for a payment. Suggestions are built
// per query and never stored.
type MatchSuggestion struct {
	TargetType    TargetType      `json:"target_type"`
	TargetID      uuid.UUID       `json:"target_id"`
	TargetNumber  string          `json:"target_number"`
	Score         int             `json:"score"`
	Reason        string          `json:"reason"`
	AmountDelta   decimal.Decimal `json:"amount_delta"`
	AutoMatchable bool            `json:"auto_matchable"`

	createdAt time.Time
}

// Target returns the suggestion as a payment target
func (s MatchSuggestion) Target() PaymentTarget {
	return PaymentTarget{kind: s.TargetType, id: s.TargetID}
}

// MatchResult is the outcome of linking a payment
type MatchResult struct {
	Payment    *Payment
	Suggestion MatchSuggestion
	Success    bool
}

// MatchingEngine ranks candidates with a Scorer and performs auto-linking
type MatchingEngine struct {
	scorer         *Scorer
	maxSuggestions int
}

// MatchingEngineOption configures a MatchingEngine
type MatchingEngineOption func(*MatchingEngine)

// WithMaxSuggestions caps the number of suggestions returned
func WithMaxSuggestions(n int) MatchingEngineOption {
	return func(e *MatchingEngine) {
		if n > 0 {
			e.maxSuggestions = n
		}
	}
}

// NewMatchingEngine creates a matching engine
func NewMatchingEngine(scorer *Scorer, opts ...MatchingEngineOption) *MatchingEngine {
	e := &MatchingEngine{
		scorer:         scorer,
		maxSuggestions: DefaultMaxSuggestions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest scores every candidate and returns them best first. A payment that
// already carries a link yields exactly that one candidate at 100.
func (e *MatchingEngine) Suggest(p *Payment, candidates []Candidate) []MatchSuggestion {
	if !p.Target.IsNone() {
		return []MatchSuggestion{e.explicitSuggestion(p, candidates)}
	}

	suggestions := make([]MatchSuggestion, 0, len(candidates))
	for _, c := range candidates {
		if c.CustomerID != p.CustomerID {
			continue
		}
		score := e.scorer.Score(p, c)
		if score.Value <= 0 {
			continue
		}
		suggestions = append(suggestions, newSuggestion(p, c, score))
	}

	SortSuggestions(suggestions)
	if len(suggestions) > e.maxSuggestions {
		suggestions = suggestions[:e.maxSuggestions]
	}
	return suggestions
}

// AutoMatch links the payment to its best candidate when that candidate
// clears AutoMatchThreshold. A target supplied on receipt is the candidate
// and gets confirmed. A confirmed link is reported as matched without being
// touched. Payments already spread over obligations or credit never match.
func (e *MatchingEngine) AutoMatch(p *Payment, candidates []Candidate, actor string) (MatchResult, bool) {
	if p.CanLink() != nil {
		return MatchResult{Payment: p}, false
	}
	if !p.Target.IsNone() {
		s := e.explicitSuggestion(p, candidates)
		if p.IsLinkConfirmed() {
			s.Reason = "already linked"
		} else if _, err := p.ConfirmLink(actor); err != nil {
			return MatchResult{Payment: p, Suggestion: s}, false
		}
		return MatchResult{Payment: p, Suggestion: s, Success: true}, true
	}

	suggestions := e.Suggest(p, candidates)
	if len(suggestions) == 0 {
		return MatchResult{Payment: p}, false
	}
	top := suggestions[0]
	if !top.AutoMatchable {
		return MatchResult{Payment: p, Suggestion: top}, false
	}
	if err := p.LinkTo(top.Target(), top.Score, actor); err != nil {
		return MatchResult{Payment: p, Suggestion: top}, false
	}
	return MatchResult{Payment: p, Suggestion: top, Success: true}, true
}

func (e *MatchingEngine) explicitSuggestion(p *Payment, candidates []Candidate) MatchSuggestion {
	for _, c := range candidates {
		if p.Target.Matches(c.Target.Type(), c.Target.ID()) {
			return newSuggestion(p, c, Score{Value: MaxScore, Reason: "exact reference"})
		}
	}
	return MatchSuggestion{
		TargetType:    p.Target.Type(),
		TargetID:      p.Target.ID(),
		Score:         MaxScore,
		Reason:        "exact reference",
		AmountDelta:   decimal.Zero,
		AutoMatchable: true,
	}
}

func newSuggestion(p *Payment, c Candidate, score Score) MatchSuggestion {
	return MatchSuggestion{
		TargetType:    c.Target.Type(),
		TargetID:      c.Target.ID(),
		TargetNumber:  c.Number,
		Score:         score.Value,
		Reason:        score.Reason,
		AmountDelta:   p.Amount.Sub(c.ExpectedAmount),
		AutoMatchable: score.Value >= AutoMatchThreshold,
		createdAt:     c.CreatedAt,
	}
}

// SortSuggestions orders by score descending, then smaller absolute amount
// difference, then older document, then ID
func SortSuggestions(s []MatchSuggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		di, dj := s[i].AmountDelta.Abs(), s[j].AmountDelta.Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		if !s[i].createdAt.Equal(s[j].createdAt) {
			return s[i].createdAt.Before(s[j].createdAt)
		}
		return s[i].TargetID.String() < s[j].TargetID.String()
	})
}
