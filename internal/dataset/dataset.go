// Package dataset supplies the exogenous per-trial inputs of an experiment:
// initial user states and per-(user, step, slot) stage scores.
//
// Data is read from the CSV layout of the reference generator
// (user_{trial}.csv, item_{trial}.csv) or synthesized in memory. Either way it
// is checked against the configured dimensions before a trial may use it.
package dataset

import (
	"context"
	"fmt"

	"github.com/nvandessel/funnelsim/internal/models"
)

// Loader produces the input data of one trial.
type Loader interface {
	Load(ctx context.Context, trial int) (*models.TrialData, error)
}

// Dimensions are the configured sizes a trial's data must cover.
type Dimensions struct {
	Users int
	Items int
	Steps int
}

// Validate checks that data covers dims. Every user 0..Users-1 must have an
// initial state and every item must lie inside the grid with no duplicate
// (user, step, slot). Unless allowSparse is set, every (user, step) must also
// carry all Items slots.
func Validate(data *models.TrialData, dims Dimensions, allowSparse bool) error {
	shapeErr := func(kind, format string, args ...any) error {
		return &models.DataShapeError{Trial: data.Trial, Kind: kind, Detail: fmt.Sprintf(format, args...)}
	}

	if len(data.Users) < dims.Users {
		return shapeErr(models.ShapeMissingUser, "have %d users, need %d", len(data.Users), dims.Users)
	}
	if len(data.Users) > dims.Users {
		return shapeErr(models.ShapeOutOfRange, "have %d users, configured %d", len(data.Users), dims.Users)
	}
	for id, s := range data.Users {
		if s.ConversionCount < 0 || s.StepsSinceLastConversion < 0 {
			return shapeErr(models.ShapeMalformed, "user %d has negative state (%d, %d)",
				id, s.ConversionCount, s.StepsSinceLastConversion)
		}
	}

	cell := func(user, step int) int { return user*dims.Steps + step }
	filled := make([]int, dims.Users*dims.Steps)
	seen := make(map[[3]int]struct{}, len(data.Items))

	for _, it := range data.Items {
		if it.User < 0 || it.User >= dims.Users ||
			it.Step < 0 || it.Step >= dims.Steps ||
			it.Slot < 0 || it.Slot >= dims.Items {
			return shapeErr(models.ShapeOutOfRange, "item (user %d, step %d, slot %d) outside %dx%dx%d",
				it.User, it.Step, it.Slot, dims.Users, dims.Steps, dims.Items)
		}

		key := [3]int{it.User, it.Step, it.Slot}
		if _, dup := seen[key]; dup {
			return shapeErr(models.ShapeDuplicateItem, "item (user %d, step %d, slot %d) appears twice",
				it.User, it.Step, it.Slot)
		}
		seen[key] = struct{}{}
		filled[cell(it.User, it.Step)]++
	}

	if allowSparse {
		return nil
	}

	for user := 0; user < dims.Users; user++ {
		for step := 0; step < dims.Steps; step++ {
			if n := filled[cell(user, step)]; n != dims.Items {
				return shapeErr(models.ShapeMissingItem, "user %d step %d has %d of %d items",
					user, step, n, dims.Items)
			}
		}
	}

	return nil
}
