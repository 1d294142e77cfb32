package store

import (
	"time"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/experiment"
)

// NewRun converts a finished experiment into its stored form.
func NewRun(res *experiment.Result, cfg config.ExperimentConfig, createdAt time.Time, reportPath string) Run {
	return Run{
		ID:         res.RunID,
		CreatedAt:  createdAt,
		Policy:     res.Policy,
		Aggregate:  res.Aggregate,
		Config:     cfg,
		ReportPath: reportPath,
	}
}
