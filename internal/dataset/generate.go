package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/models"
	"golang.org/x/sync/errgroup"
)

// Generator synthesizes trial data the way the reference generator does:
// initial conversion counts and steps uniform in [0, 50], stage scores
// uniform in [0, 0.1) rounded to four decimals. Trial t draws from its own
// source seeded with Seed + t, so any trial can be produced independently.
type Generator struct {
	Dims Dimensions
	Seed int64
}

// DeriveSeed maps an experiment seed to a generator seed whose streams do
// not coincide with the experiment's per-trial funnel streams.
func DeriveSeed(seed int64) int64 {
	return int64(uint64(seed) * 0x9E3779B97F4A7C15)
}

// Trial generates the data of one trial.
func (g Generator) Trial(trial int) *models.TrialData {
	rng := rand.New(rand.NewSource(g.Seed + int64(trial)))

	users := make([]models.InitialState, g.Dims.Users)
	for i := range users {
		users[i].ConversionCount = rng.Intn(constants.MaxInitialConversions + 1)
	}
	for i := range users {
		users[i].StepsSinceLastConversion = rng.Intn(constants.MaxInitialSteps + 1)
	}

	items := make([]models.Item, 0, g.Dims.Users*g.Dims.Steps*g.Dims.Items)
	for u := 0; u < g.Dims.Users; u++ {
		for s := 0; s < g.Dims.Steps; s++ {
			for slot := 0; slot < g.Dims.Items; slot++ {
				items = append(items, models.Item{
					User:        u,
					Step:        s,
					Slot:        slot,
					Stage1Score: generatedScore(rng),
					Stage2Score: generatedScore(rng),
					Stage3Score: generatedScore(rng),
				})
			}
		}
	}

	return &models.TrialData{Trial: trial, Users: users, Items: items}
}

func generatedScore(rng *rand.Rand) float64 {
	scale := math.Pow10(constants.GeneratedScoreDecimals)
	return math.Round(rng.Float64()*constants.GeneratedScoreScale*scale) / scale
}

// WriteAll generates trials 0..trials-1 and writes them as CSV under dir.
// Files are written concurrently; each trial's content is independent of
// scheduling.
func (g Generator) WriteAll(ctx context.Context, dir string, trials int) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.GOMAXPROCS(0))

	for trial := 0; trial < trials; trial++ {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := WriteTrial(dir, g.Trial(trial)); err != nil {
				return fmt.Errorf("trial %d: %w", trial, err)
			}
			return nil
		})
	}

	return grp.Wait()
}

// MemoryLoader serves generated trial data without touching the filesystem.
type MemoryLoader struct {
	gen Generator
}

// NewMemoryLoader creates a loader backed by gen.
func NewMemoryLoader(gen Generator) *MemoryLoader {
	return &MemoryLoader{gen: gen}
}

// Load generates the data of one trial.
func (l *MemoryLoader) Load(ctx context.Context, trial int) (*models.TrialData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := l.gen.Trial(trial)
	if err := Validate(data, l.gen.Dims, false); err != nil {
		return nil, err
	}
	return data, nil
}
