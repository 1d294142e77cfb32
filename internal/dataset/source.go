package dataset

import (
	"fmt"

	"github.com/nvandessel/funnelsim/internal/config"
)

// Data sources accepted by NewLoader.
const (
	SourceCSV       = "csv"
	SourceGenerated = "generated"
)

// DimensionsOf returns the data dimensions an experiment requires.
func DimensionsOf(cfg config.ExperimentConfig) Dimensions {
	return Dimensions{Users: cfg.Users, Items: cfg.Items, Steps: cfg.Steps}
}

// NewLoader builds the loader selected by data.Source. Generated data is
// seeded from DeriveSeed(exp.Seed).
func NewLoader(exp config.ExperimentConfig, data config.DataConfig) (Loader, error) {
	dims := DimensionsOf(exp)
	switch data.Source {
	case SourceCSV:
		return NewCSVLoader(data.Dir, dims, data.AllowSparse), nil
	case SourceGenerated:
		return NewMemoryLoader(Generator{Dims: dims, Seed: DeriveSeed(exp.Seed)}), nil
	default:
		return nil, &config.ConfigurationError{Field: "data.source", Reason: fmt.Sprintf("unknown source %q", data.Source)}
	}
}
