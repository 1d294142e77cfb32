// Package experiment repeats trials with independently seeded random sources
// and aggregates their funnel counters.
//
// Trial i always uses seed BaseSeed+i, and results are collected by trial
// index, so a run is bit-for-bit reproducible regardless of parallelism.
package experiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/dataset"
	"github.com/nvandessel/funnelsim/internal/funnel"
	"github.com/nvandessel/funnelsim/internal/logging"
	"github.com/nvandessel/funnelsim/internal/metrics"
	"github.com/nvandessel/funnelsim/internal/models"
	"github.com/nvandessel/funnelsim/internal/ranking"
	"github.com/nvandessel/funnelsim/internal/simulation"
)

// Result is the outcome of one run.
type Result struct {
	RunID     string
	Policy    string
	Aggregate models.AggregateResult
	Trials    []models.TrialResult
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTrialLogger sets the JSONL trial logger.
func WithTrialLogger(tl *logging.TrialLogger) Option {
	return func(r *Runner) { r.trialLog = tl }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRecordSteps keeps per-step counters on every trial result.
func WithRecordSteps(on bool) Option {
	return func(r *Runner) { r.recordSteps = on }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// Runner executes the trials of one experiment configuration.
type Runner struct {
	cfg    config.ExperimentConfig
	loader dataset.Loader

	runID       string
	recordSteps bool
	logger      *slog.Logger
	trialLog    *logging.TrialLogger
	metrics     *metrics.Recorder

	sim    *simulation.Simulator
	policy *ranking.Policy
}

// NewRunner validates cfg and prepares a runner. Configuration problems are
// reported here, before any trial runs.
func NewRunner(cfg config.ExperimentConfig, loader dataset.Loader, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, fmt.Errorf("experiment: loader is required")
	}

	r := &Runner{
		cfg:    cfg,
		loader: loader,
		runID:  uuid.NewString(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	scorer, err := ranking.NewStateScorer(cfg.MaxConversions, cfg.MaxSteps)
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	r.policy = ranking.NewPolicy(cfg.Lambda, cfg.TopK)

	simOpts := simulation.Options{
		Scorer: scorer,
		Policy: r.policy,
		Sampler: funnel.NewSampler(funnel.Exponents{
			Stage1: cfg.Exponents.Stage1,
			Stage2: cfg.Exponents.Stage2,
			Stage3: cfg.Exponents.Stage3,
		}),
		Steps:        cfg.Steps,
		DecayEnabled: cfg.DecayEnabled,
		RecordSteps:  r.recordSteps,
	}
	if r.trialLog.StepsEnabled() {
		simOpts.OnStep = func(trial, step int, counts models.StageCounts) {
			r.trialLog.LogStep(r.runID, trial, step, counts)
		}
	}

	r.sim, err = simulation.New(simOpts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RunID returns the identifier attached to this run's logs and results.
func (r *Runner) RunID() string {
	return r.runID
}

// Config returns the experiment configuration.
func (r *Runner) Config() config.ExperimentConfig {
	return r.cfg
}

// TrialSeed returns the seed of trial i.
func (r *Runner) TrialSeed(i int) int64 {
	return r.cfg.Seed + int64(i)
}

func (r *Runner) parallelism() int {
	if r.cfg.Parallelism > 0 {
		return r.cfg.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

// Run executes every trial and aggregates the results. The first failing
// trial cancels the rest and its error is returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	policy := r.policy.Name().String()
	logger := r.logger.With("run_id", r.runID, "policy", policy, "lambda", r.cfg.Lambda, "decay", r.cfg.DecayEnabled)
	logger.Info("run started", "trials", r.cfg.Trials, "parallelism", r.parallelism())

	start := time.Now()
	trials := make([]models.TrialResult, r.cfg.Trials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism())

	for i := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			trialStart := time.Now()
			res, err := r.RunTrial(gctx, i)
			if err != nil {
				return err
			}
			elapsed := time.Since(trialStart)

			trials[i] = *res
			r.trialLog.LogTrial(r.runID, r.cfg.Lambda, r.cfg.DecayEnabled, res, elapsed)
			r.metrics.ObserveTrial(policy, r.cfg.DecayEnabled, res, elapsed)
			logger.Debug("trial finished", "trial", i, "seed", res.Seed,
				"stage1", res.Stage1, "stage2", res.Stage2, "stage3", res.Stage3, "elapsed", elapsed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	agg := Aggregate(trials)
	agg.Lambda = r.cfg.Lambda
	agg.DecayEnabled = r.cfg.DecayEnabled
	agg.Duration = time.Since(start)

	r.metrics.ObserveRun(policy, &agg)
	logger.Info("run finished",
		"stage1_mean", agg.Mean.Stage1,
		"stage2_mean", agg.Mean.Stage2,
		"stage3_mean", agg.Mean.Stage3,
		"duration", agg.Duration)

	return &Result{
		RunID:     r.runID,
		Policy:    policy,
		Aggregate: agg,
		Trials:    trials,
	}, nil
}

// RunTrial loads and simulates trial i with its own seeded source.
func (r *Runner) RunTrial(ctx context.Context, i int) (*models.TrialResult, error) {
	data, err := r.loader.Load(ctx, i)
	if err != nil {
		return nil, fmt.Errorf("loading trial %d: %w", i, err)
	}

	seed := r.TrialSeed(i)
	res, err := r.sim.Run(data, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	res.Trial = i
	res.Seed = seed
	return res, nil
}
