package models

import "fmt"

// Data shape problem kinds.
const (
	ShapeMissingUser   = "missing_user"
	ShapeMissingItem   = "missing_item"
	ShapeDuplicateItem = "duplicate_item"
	ShapeOutOfRange    = "out_of_range"
	ShapeMalformed     = "malformed"
)

// DataShapeError reports exogenous input that does not cover the configured
// dimensions. A trial built on partial data is statistically invalid, so the
// error is fatal for the trial and never skipped.
type DataShapeError struct {
	Trial  int
	Kind   string
	Detail string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("trial %d: data shape: %s: %s", e.Trial, e.Kind, e.Detail)
}
