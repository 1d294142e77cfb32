// Package report serializes experiment results and compares policies.
//
// Reports are written one file per run to <results>/decay_<flag>/ as
// lambda_<λ>_<timestamp>.json (or .yaml). Comparison helpers compute
// proposed/baseline ratios over averages and over per-step history.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/experiment"
	"github.com/nvandessel/funnelsim/internal/models"
)

// Supported encodings.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const timestampLayout = "20060102_150405"

// Report is the serialized outcome of one run.
type Report struct {
	RunID         string                  `json:"run_id" yaml:"run_id"`
	Policy        string                  `json:"policy" yaml:"policy"`
	Lambda        float64                 `json:"lambda" yaml:"lambda"`
	Decay         bool                    `json:"decay" yaml:"decay"`
	Trials        []models.TrialResult    `json:"trials" yaml:"trials"`
	Average       models.StageStats       `json:"average" yaml:"average"`
	StdDev        models.StageStats       `json:"stddev" yaml:"stddev"`
	ExecutionTime float64                 `json:"execution_time" yaml:"execution_time"`
	CreatedAt     time.Time               `json:"created_at" yaml:"created_at"`
	Config        config.ExperimentConfig `json:"config" yaml:"config"`
}

// FromResult builds a report for a finished run.
func FromResult(res *experiment.Result, cfg config.ExperimentConfig, createdAt time.Time) *Report {
	return &Report{
		RunID:         res.RunID,
		Policy:        res.Policy,
		Lambda:        res.Aggregate.Lambda,
		Decay:         res.Aggregate.DecayEnabled,
		Trials:        res.Trials,
		Average:       res.Aggregate.Mean,
		StdDev:        res.Aggregate.StdDev,
		ExecutionTime: res.Aggregate.Duration.Seconds(),
		CreatedAt:     createdAt.UTC(),
		Config:        cfg,
	}
}

// FormatLambda renders λ the way report file names carry it: always with a
// decimal point, so 0 becomes "0.0".
func FormatLambda(lambda float64) string {
	s := strconv.FormatFloat(lambda, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Dir returns the directory a report with the given decay flag belongs in.
func Dir(resultsDir string, decay bool) string {
	return filepath.Join(resultsDir, "decay_"+strconv.FormatBool(decay))
}

// Filename returns the base file name of the report.
func (r *Report) Filename(format string) string {
	return fmt.Sprintf("lambda_%s_%s.%s", FormatLambda(r.Lambda), r.CreatedAt.Format(timestampLayout), format)
}

// Marshal encodes the report.
func (r *Report) Marshal(format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML:
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// Write stores the report under Dir(resultsDir, r.Decay) and returns its path.
// A name clash within the same second is resolved by appending the run ID.
func (r *Report) Write(resultsDir, format string) (string, error) {
	data, err := r.Marshal(format)
	if err != nil {
		return "", err
	}

	dir := Dir(resultsDir, r.Decay)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating results directory: %w", err)
	}

	path := filepath.Join(dir, r.Filename(format))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) && r.RunID != "" {
		path = strings.TrimSuffix(path, "."+format) + "_" + shortID(r.RunID) + "." + format
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return "", fmt.Errorf("creating report: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Load reads a report, choosing the decoder by file extension.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var r Report
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(data, &r)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	default:
		return nil, fmt.Errorf("unsupported report file: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// LoadDir reads every report in dir, ordered by λ then creation time.
func LoadDir(dir string) ([]*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading results directory: %w", err)
	}

	var reports []*Report
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "lambda_") {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		r, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	slices.SortStableFunc(reports, func(a, b *Report) int {
		if a.Lambda != b.Lambda {
			if a.Lambda < b.Lambda {
				return -1
			}
			return 1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return reports, nil
}
