// Package simulation drives a single trial of the conversion funnel.
//
// A trial walks every step in order and, within a step, every active user in
// id order. Each user is offered the top-K items of its candidate set for that
// step, ranked by the configured policy. Funnel outcomes update the user's
// state before the next item is drawn, so propensity is recomputed per item.
// Users that reach stage 3 are finished and skipped for the rest of the trial.
//
// Usage:
//
//	sim, err := simulation.New(simulation.Options{
//	    Scorer:  ranking.DefaultStateScorer(),
//	    Policy:  ranking.NewPolicy(0.1, 1),
//	    Sampler: funnel.NewSampler(funnel.DefaultExponents()),
//	    Steps:   50,
//	    DecayEnabled: true,
//	})
//	result, err := sim.Run(data, rand.New(rand.NewSource(seed)))
package simulation

import (
	"errors"
	"fmt"

	"github.com/nvandessel/funnelsim/internal/funnel"
	"github.com/nvandessel/funnelsim/internal/models"
	"github.com/nvandessel/funnelsim/internal/ranking"
)

// StepFunc observes per-step counters as a trial progresses.
type StepFunc func(trial, step int, counts models.StageCounts)

// Options configures a Simulator.
type Options struct {
	Scorer  *ranking.StateScorer
	Policy  *ranking.Policy
	Sampler *funnel.Sampler

	// Steps is the number of discrete steps in a trial.
	Steps int

	// DecayEnabled scales stage probabilities by the user's propensity.
	DecayEnabled bool

	// RecordSteps keeps per-step counters on the TrialResult.
	RecordSteps bool

	// OnStep, if set, is called after every step.
	OnStep StepFunc
}

// StepOutcome is what happened to one user during one step.
type StepOutcome struct {
	Counts    models.StageCounts
	Offered   int
	Saturated int
}

// Simulator runs trials. It holds no per-trial state and is safe for
// concurrent use as long as each Run gets its own random source.
type Simulator struct {
	opts Options
}

// New creates a simulator.
func New(opts Options) (*Simulator, error) {
	if opts.Scorer == nil {
		return nil, errors.New("simulation: scorer is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("simulation: policy is required")
	}
	if opts.Sampler == nil {
		return nil, errors.New("simulation: sampler is required")
	}
	if opts.Steps <= 0 {
		return nil, fmt.Errorf("simulation: steps must be positive, got %d", opts.Steps)
	}
	return &Simulator{opts: opts}, nil
}

// Steps returns the configured number of steps per trial.
func (s *Simulator) Steps() int {
	return s.opts.Steps
}

// Run executes one trial over data using rng for every funnel draw.
// The returned result's Seed is left for the caller to fill in.
func (s *Simulator) Run(data *models.TrialData, rng funnel.RandSource) (*models.TrialResult, error) {
	users := models.NewUsers(data.Users)
	index := models.BuildCandidateIndex(data.Items)

	result := &models.TrialResult{Trial: data.Trial}
	if s.opts.RecordSteps {
		result.Steps = make([]models.StageCounts, 0, s.opts.Steps)
	}

	for step := 0; step < s.opts.Steps; step++ {
		var stepCounts models.StageCounts

		for i := range users {
			u := &users[i]
			if u.Finished {
				continue
			}

			out, err := s.Advance(u, index.Lookup(u.ID, step), rng)
			if err != nil {
				return nil, fmt.Errorf("trial %d step %d user %d: %w", data.Trial, step, u.ID, err)
			}
			stepCounts.Add(out.Counts)
			result.Saturated += out.Saturated
			if u.Finished {
				result.Finished++
			}
		}

		result.StageCounts.Add(stepCounts)
		if s.opts.RecordSteps {
			result.Steps = append(result.Steps, stepCounts)
		}
		if s.opts.OnStep != nil {
			s.opts.OnStep(data.Trial, step, stepCounts)
		}
	}

	return result, nil
}

// Advance offers one user its ranked candidates for a single step and
// updates the user in place. An empty candidate set leaves the user
// untouched. Processing stops as soon as the user finishes.
func (s *Simulator) Advance(u *models.User, candidates []models.Item, rng funnel.RandSource) (StepOutcome, error) {
	var out StepOutcome
	if u.Finished || len(candidates) == 0 {
		return out, nil
	}

	// Delta is taken from the state at the start of the step.
	var delta float64
	if s.opts.Policy.NeedsDelta() {
		delta = s.opts.Scorer.Delta(u.ConversionCount, u.StepsSinceLastConversion)
	}

	for _, it := range s.opts.Policy.Select(candidates, delta) {
		propensity := s.opts.Scorer.Score(u.ConversionCount, u.StepsSinceLastConversion)

		o, err := s.opts.Sampler.Sample(it, propensity, s.opts.DecayEnabled, rng)
		if err != nil {
			return out, err
		}
		out.Offered++
		out.Saturated += o.Saturated
		out.Counts.Add(o.Counts())

		if o.Stage1 {
			u.RecordConversion(o.Stage3)
		} else {
			u.RecordMiss()
		}
		if u.Finished {
			break
		}
	}

	return out, nil
}
