package experiment

import (
	"math"

	"github.com/nvandessel/funnelsim/internal/models"
)

// Aggregate reduces trial results to the per-stage mean and population
// standard deviation. Metadata fields are left for the caller.
func Aggregate(trials []models.TrialResult) models.AggregateResult {
	agg := models.AggregateResult{Trials: len(trials)}
	if len(trials) == 0 {
		return agg
	}
	n := float64(len(trials))

	for _, stage := range models.Stages {
		var sum float64
		for _, t := range trials {
			sum += float64(t.Get(stage))
		}
		mean := sum / n

		var acc float64
		for _, t := range trials {
			d := float64(t.Get(stage)) - mean
			acc += d * d
		}

		agg.Mean.Set(stage, mean)
		agg.StdDev.Set(stage, math.Sqrt(acc/n))
	}

	return agg
}
