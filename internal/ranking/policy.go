package ranking

import (
	"cmp"
	"slices"

	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/models"
)

// BaselineScore is the expected full-funnel conversion of an item:
// stage1 * stage2 * stage3.
func BaselineScore(it models.Item) float64 {
	return it.Stage1Score * it.Stage2Score * it.Stage3Score
}

// ProposedScore adds a lookahead term to the baseline: items likely to win
// stage 1 are rewarded in proportion to the state-score gain a conversion
// would bring.
func ProposedScore(it models.Item, delta, lambda float64) float64 {
	return it.Stage1Score*it.Stage2Score*it.Stage3Score + lambda*it.Stage1Score*delta
}

// ScoredItem is an item with the objective value it was ranked by.
type ScoredItem struct {
	Item  models.Item
	Score float64
}

// Policy orders candidate items and selects the top-K to offer.
type Policy struct {
	lambda float64
	topK   int
}

// NewPolicy creates a ranking policy. lambda == 0 selects the baseline
// objective exactly. topK below 1 is treated as 1.
func NewPolicy(lambda float64, topK int) *Policy {
	if topK < 1 {
		topK = constants.DefaultTopK
	}
	return &Policy{lambda: lambda, topK: topK}
}

// Lambda returns the lookahead weight.
func (p *Policy) Lambda() float64 {
	return p.lambda
}

// TopK returns how many items Select offers.
func (p *Policy) TopK() int {
	return p.topK
}

// Name returns the objective this policy ranks by.
func (p *Policy) Name() constants.Policy {
	return constants.PolicyFor(p.lambda)
}

// NeedsDelta reports whether Rank uses the user's score delta. Callers can
// skip computing it for the baseline.
func (p *Policy) NeedsDelta() bool {
	return p.lambda != 0
}

// objective returns the value an item is ranked by.
func (p *Policy) objective(it models.Item, delta float64) float64 {
	if p.lambda == 0 {
		return BaselineScore(it)
	}
	return ProposedScore(it, delta, p.lambda)
}

// Rank returns all candidates ordered by descending objective. The sort is
// stable: equal scores keep their input order. The input is not modified.
func (p *Policy) Rank(candidates []models.Item, delta float64) []ScoredItem {
	ranked := make([]ScoredItem, len(candidates))
	for i, it := range candidates {
		ranked[i] = ScoredItem{Item: it, Score: p.objective(it, delta)}
	}

	slices.SortStableFunc(ranked, func(a, b ScoredItem) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return ranked
}

// Select returns the top-K items in rank order.
func (p *Policy) Select(candidates []models.Item, delta float64) []models.Item {
	if len(candidates) == 0 {
		return nil
	}

	ranked := p.Rank(candidates, delta)
	n := min(p.topK, len(ranked))

	out := make([]models.Item, n)
	for i := range n {
		out[i] = ranked[i].Item
	}
	return out
}
