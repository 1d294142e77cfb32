// Package ranking scores user state and orders candidate items under the
// baseline and proposed objectives.
package ranking

import (
	"fmt"
	"math"

	"github.com/nvandessel/funnelsim/internal/constants"
)

// StateScorer maps a user's conversion history to a propensity score in
// (0, 2]. The score is the product of a saturating magnitude term driven by
// the conversion count and an exponential recency decay.
type StateScorer struct {
	maxConversions int
	maxSteps       int

	// decayRate is chosen so decayRate^maxSteps == DecayFloor.
	decayRate float64

	// logCap is ln(1 + maxConversions), the denominator of the magnitude term.
	logCap float64
}

// NewStateScorer creates a scorer with the given caps. Both caps must be positive.
func NewStateScorer(maxConversions, maxSteps int) (*StateScorer, error) {
	if maxConversions <= 0 {
		return nil, fmt.Errorf("max conversions must be positive, got %d", maxConversions)
	}
	if maxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", maxSteps)
	}

	return &StateScorer{
		maxConversions: maxConversions,
		maxSteps:       maxSteps,
		decayRate:      math.Pow(constants.DecayFloor, 1/float64(maxSteps)),
		logCap:         math.Log1p(float64(maxConversions)),
	}, nil
}

// DefaultStateScorer returns a scorer with the default caps.
func DefaultStateScorer() *StateScorer {
	s, _ := NewStateScorer(constants.DefaultMaxConversions, constants.DefaultMaxSteps)
	return s
}

// DecayRate returns the per-step decay factor.
func (s *StateScorer) DecayRate() float64 {
	return s.decayRate
}

// Magnitude returns the conversion-count term: 1 with no conversions,
// otherwise 1 + ln(1+c)/ln(1+cap), reaching 2 at the cap.
func (s *StateScorer) Magnitude(conversions int) float64 {
	c := clamp(conversions, s.maxConversions)
	if c == 0 {
		return constants.BaseStateScore
	}
	return constants.BaseStateScore + math.Log1p(float64(c))/s.logCap
}

// DecayTerm returns decayRate^steps with steps clamped to the cap.
func (s *StateScorer) DecayTerm(steps int) float64 {
	return math.Pow(s.decayRate, float64(clamp(steps, s.maxSteps)))
}

// Score returns the propensity score for a user state.
// Score(0, 0) is exactly 1.
func (s *StateScorer) Score(conversions, steps int) float64 {
	return s.Magnitude(conversions) * s.DecayTerm(steps)
}

// Delta returns the score change one more conversion right now would cause:
// Score(c+1, 0) - Score(c, s). It is negative when the current score already
// exceeds the post-conversion state; callers must not correct for that.
func (s *StateScorer) Delta(conversions, steps int) float64 {
	return s.Score(conversions+1, 0) - s.Score(conversions, steps)
}

// clamp bounds v to [0, max].
func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
