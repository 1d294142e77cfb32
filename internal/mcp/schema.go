// Package mcp provides an MCP (Model Context Protocol) server for funnelsim.
package mcp

import (
	"time"

	"github.com/nvandessel/funnelsim/internal/models"
)

// RunInput defines the input for the funnelsim_run tool. Unset fields keep
// the server's configured defaults.
type RunInput struct {
	Lambda  *float64 `json:"lambda,omitempty" jsonschema:"Lookahead weight; 0 runs the baseline policy"`
	Decay   *bool    `json:"decay,omitempty" jsonschema:"Scale stage probabilities by the user's propensity score"`
	Users   *int     `json:"users,omitempty" jsonschema:"Number of simulated users per trial"`
	Items   *int     `json:"items,omitempty" jsonschema:"Candidate items per user and step"`
	TopK    *int     `json:"top_k,omitempty" jsonschema:"Items offered per user and step"`
	Steps   *int     `json:"steps,omitempty" jsonschema:"Steps per trial"`
	Trials  *int     `json:"trials,omitempty" jsonschema:"Number of independent trials"`
	Seed    *int64   `json:"seed,omitempty" jsonschema:"Base seed; trial i uses seed+i"`
	Source  string   `json:"source,omitempty" jsonschema:"Trial data source: generated (default) or csv"`
	DataDir string   `json:"data_dir,omitempty" jsonschema:"CSV directory relative to the project root (source=csv only)"`
}

// RunOutput defines the output for the funnelsim_run tool.
type RunOutput struct {
	Run     RunSummary `json:"run" jsonschema:"Summary of the stored run"`
	Message string     `json:"message" jsonschema:"Human-readable result message"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Policy     string            `json:"policy"`
	Lambda     float64           `json:"lambda"`
	Decay      bool              `json:"decay"`
	Trials     int               `json:"trials"`
	Mean       models.StageStats `json:"mean"`
	StdDev     models.StageStats `json:"stddev"`
	DurationMs int64             `json:"duration_ms"`
}

// CompareInput defines the input for the funnelsim_compare tool. Lambda is
// the proposed policy's weight; the baseline always runs with 0.
type CompareInput = RunInput

// CompareOutput defines the output for the funnelsim_compare tool.
type CompareOutput struct {
	Baseline RunSummary        `json:"baseline" jsonschema:"Run with lambda 0"`
	Proposed RunSummary        `json:"proposed" jsonschema:"Run with the requested lambda"`
	Ratios   models.StageStats `json:"ratios" jsonschema:"Proposed mean over baseline mean per stage; 0 where the baseline is 0"`
	Message  string            `json:"message" jsonschema:"Human-readable result message"`
}

// ScoreInput defines the input for the funnelsim_score tool.
type ScoreInput struct {
	Conversions    int  `json:"conversions" jsonschema:"Stage-1 conversions so far"`
	StepsSince     int  `json:"steps_since" jsonschema:"Steps since the last stage-1 conversion"`
	MaxConversions *int `json:"max_conversions,omitempty" jsonschema:"Conversion cap (default from configuration)"`
	MaxSteps       *int `json:"max_steps,omitempty" jsonschema:"Steps cap (default from configuration)"`
}

// ScoreOutput defines the output for the funnelsim_score tool.
type ScoreOutput struct {
	Score     float64 `json:"score" jsonschema:"Propensity score of the state"`
	Delta     float64 `json:"delta" jsonschema:"Score gain of one more conversion made now"`
	Magnitude float64 `json:"magnitude" jsonschema:"Conversion-count factor of the score"`
	DecayRate float64 `json:"decay_rate" jsonschema:"Per-step decay factor"`
}

// HistoryInput defines the input for the funnelsim_history tool.
type HistoryInput struct {
	RunID  string   `json:"run_id,omitempty" jsonschema:"Return a single run with its trials"`
	Policy string   `json:"policy,omitempty" jsonschema:"Filter by policy: baseline or proposed"`
	Decay  *bool    `json:"decay,omitempty" jsonschema:"Filter by decay flag"`
	Lambda *float64 `json:"lambda,omitempty" jsonschema:"Filter by exact lambda"`
	Limit  int      `json:"limit,omitempty" jsonschema:"Maximum runs to return (default 20)"`
}

// HistoryOutput defines the output for the funnelsim_history tool.
type HistoryOutput struct {
	Runs   []RunSummary   `json:"runs" jsonschema:"Matching runs, newest first"`
	Trials []TrialSummary `json:"trials,omitempty" jsonschema:"Per-trial counters when run_id is given"`
	Count  int            `json:"count" jsonschema:"Number of runs returned"`
}

// TrialSummary is the stored counters of one trial.
type TrialSummary struct {
	Trial     int   `json:"trial"`
	Seed      int64 `json:"seed"`
	Stage1    int   `json:"stage1"`
	Stage2    int   `json:"stage2"`
	Stage3    int   `json:"stage3"`
	Finished  int   `json:"finished"`
	Saturated int   `json:"saturated"`
}
