package models

import "time"

// StageCounts holds hit counters for the three funnel stages.
type StageCounts struct {
	Stage1 int `json:"stage1" yaml:"stage1"`
	Stage2 int `json:"stage2" yaml:"stage2"`
	Stage3 int `json:"stage3" yaml:"stage3"`
}

// Add accumulates o into c.
func (c *StageCounts) Add(o StageCounts) {
	c.Stage1 += o.Stage1
	c.Stage2 += o.Stage2
	c.Stage3 += o.Stage3
}

// Get returns the counter for a stage.
func (c StageCounts) Get(stage Stage) int {
	switch stage {
	case Stage1:
		return c.Stage1
	case Stage2:
		return c.Stage2
	case Stage3:
		return c.Stage3
	default:
		return 0
	}
}

// IsZero reports whether no stage was hit.
func (c StageCounts) IsZero() bool {
	return c.Stage1 == 0 && c.Stage2 == 0 && c.Stage3 == 0
}

// StageStats holds one floating-point statistic per stage.
type StageStats struct {
	Stage1 float64 `json:"stage1" yaml:"stage1"`
	Stage2 float64 `json:"stage2" yaml:"stage2"`
	Stage3 float64 `json:"stage3" yaml:"stage3"`
}

// Get returns the statistic for a stage.
func (s StageStats) Get(stage Stage) float64 {
	switch stage {
	case Stage1:
		return s.Stage1
	case Stage2:
		return s.Stage2
	case Stage3:
		return s.Stage3
	default:
		return 0
	}
}

// Set stores the statistic for a stage.
func (s *StageStats) Set(stage Stage, v float64) {
	switch stage {
	case Stage1:
		s.Stage1 = v
	case Stage2:
		s.Stage2 = v
	case Stage3:
		s.Stage3 = v
	}
}

// TrialData is the exogenous input of one trial.
type TrialData struct {
	Trial int
	Users []InitialState
	Items []Item
}

// TrialResult holds the counters accumulated over one trial.
type TrialResult struct {
	Trial       int   `json:"trial" yaml:"trial"`
	Seed        int64 `json:"seed" yaml:"seed"`
	StageCounts `yaml:",inline"`

	// Finished is the number of users that reached stage 3.
	Finished int `json:"finished" yaml:"finished"`

	// Saturated counts draws whose probability exceeded 1 and therefore
	// could not fail. Probabilities are never clamped.
	Saturated int `json:"saturated" yaml:"saturated"`

	// Steps holds per-step counters when step recording is enabled.
	Steps []StageCounts `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// AggregateResult summarizes all trials of one run.
type AggregateResult struct {
	Lambda       float64       `json:"lambda" yaml:"lambda"`
	DecayEnabled bool          `json:"decay" yaml:"decay"`
	Trials       int           `json:"trials" yaml:"trials"`
	Mean         StageStats    `json:"mean" yaml:"mean"`
	StdDev       StageStats    `json:"stddev" yaml:"stddev"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}
