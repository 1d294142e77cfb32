package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/nvandessel/funnelsim/internal/models"
)

// DefaultRatioSteps are the checkpoints StepRatios reports by default.
var DefaultRatioSteps = []int{10, 20, 30, 40, 50}

// Compare returns proposed/baseline per stage. A stage whose baseline is 0
// has ratio 0.
func Compare(baseline, proposed models.StageStats) models.StageStats {
	var out models.StageStats
	for _, s := range models.Stages {
		if b := baseline.Get(s); b > 0 {
			out.Set(s, proposed.Get(s)/b)
		}
	}
	return out
}

// StepHistory sums per-step counters across trials. Trials recorded without
// step history contribute nothing.
func StepHistory(trials []models.TrialResult) []models.StageCounts {
	var n int
	for _, t := range trials {
		n = max(n, len(t.Steps))
	}

	history := make([]models.StageCounts, n)
	for _, t := range trials {
		for i, c := range t.Steps {
			history[i].Add(c)
		}
	}
	return history
}

// StepRatios compares cumulative counts over the first k steps for each
// checkpoint k. Checkpoints at or beyond the history length are reported
// as zero, as are stages whose cumulative baseline is 0.
func StepRatios(baseline, proposed []models.StageCounts, steps []int) map[int]models.StageStats {
	out := make(map[int]models.StageStats, len(steps))
	for _, k := range steps {
		out[k] = models.StageStats{}
		if k >= len(baseline) || k > len(proposed) {
			continue
		}

		var b, p models.StageCounts
		for i := 0; i < k; i++ {
			b.Add(baseline[i])
			p.Add(proposed[i])
		}

		var r models.StageStats
		for _, s := range models.Stages {
			if bv := b.Get(s); bv > 0 {
				r.Set(s, float64(p.Get(s))/float64(bv))
			}
		}
		out[k] = r
	}
	return out
}

// SummaryRow is one (λ, stage) line of a summary table.
type SummaryRow struct {
	Lambda   float64
	Metric   string
	Value    float64
	Baseline float64
	Ratio    float64
}

// Summarize compares the average of every report against the λ = 0 report
// with the same decay flag. The first λ = 0 report found is the baseline.
// A zero baseline yields +Inf.
func Summarize(reports []*Report) ([]SummaryRow, error) {
	var base *Report
	for _, r := range reports {
		if r.Lambda == 0 {
			base = r
			break
		}
	}
	if base == nil {
		return nil, fmt.Errorf("no baseline (lambda 0) report among %d reports", len(reports))
	}

	var rows []SummaryRow
	for _, r := range reports {
		if r.Decay != base.Decay {
			continue
		}
		for _, s := range models.Stages {
			row := SummaryRow{
				Lambda:   r.Lambda,
				Metric:   fmt.Sprintf("ph%d_score", int(s)),
				Value:    r.Average.Get(s),
				Baseline: base.Average.Get(s),
			}
			if row.Baseline != 0 {
				row.Ratio = row.Value / row.Baseline
			} else {
				row.Ratio = math.Inf(1)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// WriteSummaryCSV writes rows with the header lambda,metric,value,baseline,ratio.
func WriteSummaryCSV(w io.Writer, rows []SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lambda", "metric", "value", "baseline", "ratio"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, row := range rows {
		if err := cw.Write([]string{
			FormatLambda(row.Lambda),
			row.Metric,
			f(row.Value),
			f(row.Baseline),
			f(row.Ratio),
		}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
