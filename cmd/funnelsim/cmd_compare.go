package main

import (
	"fmt"
	"sort"

	"github.com/nvandessel/funnelsim/internal/models"
	"github.com/nvandessel/funnelsim/internal/report"
	"github.com/spf13/cobra"
)

type compareOutput struct {
	Baseline   runSummary                `json:"baseline"`
	Proposed   runSummary                `json:"proposed"`
	Ratios     models.StageStats         `json:"ratios"`
	StepRatios map[int]models.StageStats `json:"step_ratios"`
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the baseline and the proposed policy and compare them",
		Long: `Run the same configuration twice, once with lambda 0 (baseline) and
once with --lambda (proposed), then print proposed/baseline ratios of the
mean stage counts and of cumulative counts at the --at step checkpoints.

Both runs use identical seeds and data, so any difference comes from the
ranking objective. Per-step counters are always recorded.

Example:
  funnelsim compare --lambda 0.5 --at 10,25,50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if cfg.Experiment.Lambda == 0 {
				return fmt.Errorf("compare needs a nonzero --lambda for the proposed policy")
			}
			cfg.Output.RecordSteps = true
			checkpoints, _ := cmd.Flags().GetIntSlice("at")
			root, _ := cmd.Flags().GetString("root")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			baseCfg := *cfg
			baseCfg.Experiment.Lambda = 0
			base, err := runExperiment(ctx, cmd.ErrOrStderr(), root, &baseCfg)
			if err != nil {
				return fmt.Errorf("baseline run: %w", err)
			}
			proposed, err := runExperiment(ctx, cmd.ErrOrStderr(), root, cfg)
			if err != nil {
				return fmt.Errorf("proposed run: %w", err)
			}

			out := compareOutput{
				Baseline: base.summary(),
				Proposed: proposed.summary(),
				Ratios:   report.Compare(base.result.Aggregate.Mean, proposed.result.Aggregate.Mean),
				StepRatios: report.StepRatios(
					report.StepHistory(base.result.Trials),
					report.StepHistory(proposed.result.Trials),
					checkpoints),
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			printRun(w, base)
			printRun(w, proposed)
			fmt.Fprintf(w, "\nProposed / baseline (lambda=%s):\n", report.FormatLambda(cfg.Experiment.Lambda))
			fmt.Fprintf(w, "  %-8s %8s %8s %8s\n", "", "stage1", "stage2", "stage3")
			fmt.Fprintf(w, "  %-8s %8.3f %8.3f %8.3f\n", "average", out.Ratios.Stage1, out.Ratios.Stage2, out.Ratios.Stage3)

			steps := make([]int, 0, len(out.StepRatios))
			for k := range out.StepRatios {
				steps = append(steps, k)
			}
			sort.Ints(steps)
			for _, k := range steps {
				r := out.StepRatios[k]
				fmt.Fprintf(w, "  %-8s %8.3f %8.3f %8.3f\n", fmt.Sprintf("step %d", k), r.Stage1, r.Stage2, r.Stage3)
			}
			return nil
		},
	}

	addRunFlags(cmd)
	cmd.Flags().IntSlice("at", report.DefaultRatioSteps, "Step checkpoints for cumulative ratios")
	return cmd
}
