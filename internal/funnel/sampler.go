// Package funnel draws stochastic outcomes of the three-stage conversion funnel.
//
// Draws follow a fixed protocol so seeded runs reproduce exactly: stage 1 is
// drawn first; stage 2 only after a stage-1 hit; stage 3 only after a stage-2
// hit. Each performed draw consumes exactly one uniform value from the shared
// source. A draw hits when u < p. Probabilities are never clamped: a
// probability above 1 always hits and is reported as saturated.
package funnel

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/models"
)

// ErrNonFiniteProbability is returned when a stage probability is NaN or
// infinite. This only happens with malformed upstream scores.
var ErrNonFiniteProbability = errors.New("non-finite stage probability")

// RandSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// Exponents are the per-stage powers applied to the propensity score when
// decay scaling is enabled.
type Exponents struct {
	Stage1 float64 `json:"stage1" yaml:"stage1"`
	Stage2 float64 `json:"stage2" yaml:"stage2"`
	Stage3 float64 `json:"stage3" yaml:"stage3"`
}

// DefaultExponents returns the cube root for every stage.
func DefaultExponents() Exponents {
	return Exponents{
		Stage1: constants.DefaultStageExponent,
		Stage2: constants.DefaultStageExponent,
		Stage3: constants.DefaultStageExponent,
	}
}

// Get returns the exponent for a stage.
func (e Exponents) Get(stage models.Stage) float64 {
	switch stage {
	case models.Stage1:
		return e.Stage1
	case models.Stage2:
		return e.Stage2
	case models.Stage3:
		return e.Stage3
	default:
		return 0
	}
}

// Outcome is the result of one item exposure.
// Stage2 implies Stage1 and Stage3 implies Stage2.
type Outcome struct {
	Stage1 bool
	Stage2 bool
	Stage3 bool

	// Draws is the number of uniform values consumed (1 to 3).
	Draws int

	// Saturated counts performed draws whose probability exceeded 1.
	Saturated int
}

// Counts converts the outcome into stage counters.
func (o Outcome) Counts() models.StageCounts {
	var c models.StageCounts
	if o.Stage1 {
		c.Stage1 = 1
	}
	if o.Stage2 {
		c.Stage2 = 1
	}
	if o.Stage3 {
		c.Stage3 = 1
	}
	return c
}

// Sampler draws funnel outcomes.
type Sampler struct {
	exponents Exponents
}

// NewSampler creates a sampler with the given per-stage exponents.
func NewSampler(exponents Exponents) *Sampler {
	return &Sampler{exponents: exponents}
}

// Exponents returns the configured per-stage exponents.
func (s *Sampler) Exponents() Exponents {
	return s.exponents
}

// Probabilities returns the effective per-stage probabilities for an item.
// With decay enabled each stage score is scaled by propensity^exponent;
// otherwise the raw scores are used.
func (s *Sampler) Probabilities(item models.Item, propensity float64, decayEnabled bool) [constants.NumStages]float64 {
	var p [constants.NumStages]float64
	for i, stage := range models.Stages {
		p[i] = item.Score(stage)
		if decayEnabled {
			p[i] *= math.Pow(propensity, s.exponents.Get(stage))
		}
	}
	return p
}

// Sample draws the outcome of offering item to a user with the given propensity.
func (s *Sampler) Sample(item models.Item, propensity float64, decayEnabled bool, rng RandSource) (Outcome, error) {
	p := s.Probabilities(item, propensity, decayEnabled)
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Outcome{}, fmt.Errorf("stage %d of item (user %d, step %d, slot %d): %w",
				i+1, item.User, item.Step, item.Slot, ErrNonFiniteProbability)
		}
	}

	var out Outcome
	hits := [constants.NumStages]*bool{&out.Stage1, &out.Stage2, &out.Stage3}
	for i := range p {
		out.Draws++
		if p[i] > 1 {
			out.Saturated++
		}
		if rng.Float64() >= p[i] {
			break
		}
		*hits[i] = true
	}

	return out, nil
}
