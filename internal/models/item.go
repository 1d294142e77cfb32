// Package models defines the records shared by the simulation, ranking and
// reporting packages: users, items, candidate sets and trial counters.
package models

// Stage identifies one phase of the conversion funnel.
type Stage int

const (
	Stage1 Stage = iota + 1 // first contact, e.g. click
	Stage2                  // intermediate commitment
	Stage3                  // completion; finishes the user
)

// Stages lists the funnel stages in draw order.
var Stages = [...]Stage{Stage1, Stage2, Stage3}

// Item is a candidate offered to one user at one step. Items are supplied
// externally and never modified by the simulation.
type Item struct {
	User        int     `json:"user" yaml:"user"`
	Step        int     `json:"step" yaml:"step"`
	Slot        int     `json:"slot" yaml:"slot"`
	Stage1Score float64 `json:"stage1_score" yaml:"stage1_score"`
	Stage2Score float64 `json:"stage2_score" yaml:"stage2_score"`
	Stage3Score float64 `json:"stage3_score" yaml:"stage3_score"`
}

// Score returns the item's affinity for the given stage.
func (it Item) Score(stage Stage) float64 {
	switch stage {
	case Stage1:
		return it.Stage1Score
	case Stage2:
		return it.Stage2Score
	case Stage3:
		return it.Stage3Score
	default:
		return 0
	}
}

// CandidateKey addresses the candidate set of one user at one step.
type CandidateKey struct {
	User int
	Step int
}

// CandidateIndex maps (user, step) to the items available there.
// It is built once per trial before stepping begins.
type CandidateIndex map[CandidateKey][]Item

// BuildCandidateIndex groups items by (user, step), keeping input order
// within each group so ranking ties resolve the same way every run.
func BuildCandidateIndex(items []Item) CandidateIndex {
	idx := make(CandidateIndex)
	for _, it := range items {
		key := CandidateKey{User: it.User, Step: it.Step}
		idx[key] = append(idx[key], it)
	}
	return idx
}

// Lookup returns the candidate set for a user at a step. The result is nil
// when the user has nothing to act on.
func (idx CandidateIndex) Lookup(user, step int) []Item {
	return idx[CandidateKey{User: user, Step: step}]
}
