// Package store defines the RunStore interface for recording and querying
// finished experiment runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/models"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is the stored summary of one experiment run.
type Run struct {
	ID         string                  `json:"id"`
	CreatedAt  time.Time               `json:"created_at"`
	Policy     string                  `json:"policy"` // "baseline" or "proposed"
	Aggregate  models.AggregateResult  `json:"aggregate"`
	Config     config.ExperimentConfig `json:"config"`
	ReportPath string                  `json:"report_path,omitempty"` // file written by the report package, if any
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Policy string
	Decay  *bool
	Lambda *float64
	Limit  int
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f RunFilter) Matches(r Run) bool {
	if f.Policy != "" && r.Policy != f.Policy {
		return false
	}
	if f.Decay != nil && r.Aggregate.DecayEnabled != *f.Decay {
		return false
	}
	if f.Lambda != nil && r.Aggregate.Lambda != *f.Lambda {
		return false
	}
	return true
}

// RunStore defines the interface for persisting runs and their trials.
type RunStore interface {
	// SaveRun stores a run and its per-trial counters. Saving an existing
	// ID replaces the previous record.
	SaveRun(ctx context.Context, run Run, trials []models.TrialResult) error

	// GetRun returns ErrNotFound for unknown IDs.
	GetRun(ctx context.Context, id string) (*Run, error)
	GetTrials(ctx context.Context, id string) ([]models.TrialResult, error)

	// ListRuns returns matching runs, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error

	Close() error
}
