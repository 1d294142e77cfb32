package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/dataset"
	"github.com/nvandessel/funnelsim/internal/experiment"
	"github.com/nvandessel/funnelsim/internal/logging"
	"github.com/nvandessel/funnelsim/internal/metrics"
	"github.com/nvandessel/funnelsim/internal/models"
	"github.com/nvandessel/funnelsim/internal/report"
	"github.com/nvandessel/funnelsim/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment",
		Long: `Run every trial of one experiment configuration and report the
per-stage conversion counts.

Settings come from defaults, the config file, .env, FUNNELSIM_* variables
and finally these flags. The report is written to
<results>/decay_<flag>/lambda_<λ>_<timestamp>.json and the run is recorded
in .funnelsim/funnelsim.db.

Examples:
  funnelsim run --lambda 0                     # Baseline policy
  funnelsim run --lambda 0.5 --decay=false     # Proposed policy, no decay
  funnelsim run --source generated --trials 10 # In-memory data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			root, _ := cmd.Flags().GetString("root")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out, err := runExperiment(ctx, cmd.ErrOrStderr(), root, cfg)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out.summary())
			}
			printRun(cmd.OutOrStdout(), out)
			return nil
		},
	}

	addRunFlags(cmd)
	return cmd
}

// addRunFlags registers the experiment overrides shared by run and compare.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("lambda", constants.DefaultLambda, "Lookahead weight; 0 runs the baseline policy")
	f.Bool("decay", true, "Scale stage probabilities by the propensity score")
	f.Int("users", constants.DefaultUsers, "Users per trial")
	f.Int("items", constants.DefaultItems, "Candidate items per user and step")
	f.Int("top-k", constants.DefaultTopK, "Items offered per user and step")
	f.Int("steps", constants.DefaultSteps, "Steps per trial")
	f.Int("trials", constants.DefaultTrials, "Number of trials")
	f.Int64("seed", constants.DefaultSeed, "Base seed; trial i uses seed+i")
	f.Int("parallelism", 0, "Concurrent trials (0 = GOMAXPROCS)")
	f.String("source", "", "Trial data source: csv or generated")
	f.String("data", "", "CSV data directory")
	f.Bool("allow-sparse", false, "Accept (user, step) pairs with missing item slots")
	f.String("results", "", "Results directory")
	f.String("format", "", "Report format: json or yaml")
	f.Bool("no-store", false, "Do not record the run in the run store")
	f.Bool("record-steps", false, "Keep per-step counters in the report")
	f.String("metrics-file", "", "Write Prometheus metrics to this textfile")
	f.String("log-level", "", "Log level: info, debug or trace")
}

// applyRunFlags copies explicitly set flags over cfg and validates the result.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	e := &cfg.Experiment

	if f.Changed("lambda") {
		e.Lambda, _ = f.GetFloat64("lambda")
	}
	if f.Changed("decay") {
		e.DecayEnabled, _ = f.GetBool("decay")
	}
	if f.Changed("users") {
		e.Users, _ = f.GetInt("users")
	}
	if f.Changed("items") {
		e.Items, _ = f.GetInt("items")
	}
	if f.Changed("top-k") {
		e.TopK, _ = f.GetInt("top-k")
	}
	if f.Changed("steps") {
		e.Steps, _ = f.GetInt("steps")
	}
	if f.Changed("trials") {
		e.Trials, _ = f.GetInt("trials")
	}
	if f.Changed("seed") {
		e.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("parallelism") {
		e.Parallelism, _ = f.GetInt("parallelism")
	}
	if f.Changed("source") {
		cfg.Data.Source, _ = f.GetString("source")
	}
	if f.Changed("data") {
		cfg.Data.Dir, _ = f.GetString("data")
	}
	if f.Changed("allow-sparse") {
		cfg.Data.AllowSparse, _ = f.GetBool("allow-sparse")
	}
	if f.Changed("results") {
		cfg.Output.ResultsDir, _ = f.GetString("results")
	}
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("no-store") {
		noStore, _ := f.GetBool("no-store")
		cfg.Output.Store = !noStore
	}
	if f.Changed("record-steps") {
		cfg.Output.RecordSteps, _ = f.GetBool("record-steps")
	}
	if f.Changed("metrics-file") {
		cfg.Output.MetricsFile, _ = f.GetString("metrics-file")
	}
	if f.Changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	}

	return cfg.Validate()
}

// runOutcome is one finished run and where it was written.
type runOutcome struct {
	result     *experiment.Result
	reportPath string
	stored     bool
}

type runSummary struct {
	RunID      string            `json:"run_id"`
	Policy     string            `json:"policy"`
	Lambda     float64           `json:"lambda"`
	Decay      bool              `json:"decay"`
	Trials     int               `json:"trials"`
	Mean       models.StageStats `json:"mean"`
	StdDev     models.StageStats `json:"stddev"`
	Saturated  int               `json:"saturated,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Report     string            `json:"report"`
	Stored     bool              `json:"stored"`
}

func (o *runOutcome) summary() runSummary {
	agg := o.result.Aggregate
	var saturated int
	for _, t := range o.result.Trials {
		saturated += t.Saturated
	}
	return runSummary{
		RunID:      o.result.RunID,
		Policy:     o.result.Policy,
		Lambda:     agg.Lambda,
		Decay:      agg.DecayEnabled,
		Trials:     agg.Trials,
		Mean:       agg.Mean,
		StdDev:     agg.StdDev,
		Saturated:  saturated,
		DurationMs: agg.Duration.Milliseconds(),
		Report:     o.reportPath,
		Stored:     o.stored,
	}
}

func printRun(w io.Writer, o *runOutcome) {
	s := o.summary()
	fmt.Fprintf(w, "Run %s (%s, lambda=%s, decay=%t)\n", s.RunID, s.Policy, report.FormatLambda(s.Lambda), s.Decay)
	fmt.Fprintf(w, "  trials:   %d in %dms\n", s.Trials, s.DurationMs)
	fmt.Fprintf(w, "  stage 1:  %.3f ± %.3f\n", s.Mean.Stage1, s.StdDev.Stage1)
	fmt.Fprintf(w, "  stage 2:  %.3f ± %.3f\n", s.Mean.Stage2, s.StdDev.Stage2)
	fmt.Fprintf(w, "  stage 3:  %.3f ± %.3f\n", s.Mean.Stage3, s.StdDev.Stage3)
	if s.Saturated > 0 {
		fmt.Fprintf(w, "  warning:  %d draws had probability > 1\n", s.Saturated)
	}
	fmt.Fprintf(w, "  report:   %s\n", s.Report)
}

// runExperiment executes cfg, writes its report, records it in the run store
// and exports metrics if configured. Logs go to logw.
func runExperiment(ctx context.Context, logw io.Writer, root string, cfg *config.Config) (*runOutcome, error) {
	data := cfg.Data
	data.Dir = underRoot(root, data.Dir)
	loader, err := dataset.NewLoader(cfg.Experiment, data)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging.Level, logw)
	trialLog := logging.NewTrialLogger(store.LocalStatePath(root), cfg.Logging.Level)
	defer trialLog.Close()

	var recorder *metrics.Recorder
	if cfg.Output.MetricsFile != "" {
		recorder = metrics.NewRecorder()
	}

	runner, err := experiment.NewRunner(cfg.Experiment, loader,
		experiment.WithLogger(logger),
		experiment.WithTrialLogger(trialLog),
		experiment.WithMetrics(recorder),
		experiment.WithRecordSteps(cfg.Output.RecordSteps))
	if err != nil {
		return nil, err
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	rep := report.FromResult(res, cfg.Experiment, time.Now())
	path, err := rep.Write(underRoot(root, cfg.Output.ResultsDir), cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	out := &runOutcome{result: res, reportPath: path}

	if cfg.Output.Store {
		if err := saveRun(ctx, root, store.NewRun(res, cfg.Experiment, rep.CreatedAt, path), res.Trials); err != nil {
			return nil, err
		}
		out.stored = true
	}

	if cfg.Output.MetricsFile != "" {
		if err := recorder.WriteTextfile(underRoot(root, cfg.Output.MetricsFile)); err != nil {
			return nil, fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	return out, nil
}

func saveRun(ctx context.Context, root string, run store.Run, trials []models.TrialResult) error {
	s, err := store.NewSQLiteRunStore(root)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer s.Close()

	if err := s.SaveRun(ctx, run, trials); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}
