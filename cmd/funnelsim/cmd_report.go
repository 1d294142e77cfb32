package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/nvandessel/funnelsim/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize and compare written reports",
		Long: `Work with the report files written by run and compare.

Examples:
  funnelsim report summary                     # results/decay_true vs lambda 0
  funnelsim report summary --decay=false --out summary.csv
  funnelsim report steps base.json proposed.json --at 10,20`,
	}

	cmd.AddCommand(
		newReportSummaryCmd(),
		newReportStepsCmd(),
	)
	return cmd
}

func newReportSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [dir]",
		Short: "Compare every report in a directory against its lambda 0 report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			decay, _ := cmd.Flags().GetBool("decay")
			outPath, _ := cmd.Flags().GetString("out")

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = report.Dir(underRoot(root, cfg.Output.ResultsDir), decay)
			}

			reports, err := report.LoadDir(dir)
			if err != nil {
				return err
			}
			rows, err := report.Summarize(reports)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut && outPath == "" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			if outPath == "" {
				return report.WriteSummaryCSV(cmd.OutOrStdout(), rows)
			}

			f, err := os.Create(underRoot(root, outPath))
			if err != nil {
				return fmt.Errorf("failed to create summary: %w", err)
			}
			if err := report.WriteSummaryCSV(f, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), outPath)
			return nil
		},
	}

	cmd.Flags().Bool("decay", true, "Summarize the decay_true (or decay_false) directory")
	cmd.Flags().String("out", "", "Write the CSV to this file instead of stdout")
	return cmd
}

func newReportStepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <baseline-report> <proposed-report>",
		Short: "Cumulative proposed/baseline ratios at step checkpoints",
		Long: `Compare the per-step history of two reports. Both must have been written
with --record-steps (compare always records steps).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpoints, _ := cmd.Flags().GetIntSlice("at")

			base, err := report.Load(args[0])
			if err != nil {
				return err
			}
			proposed, err := report.Load(args[1])
			if err != nil {
				return err
			}

			baseHistory := report.StepHistory(base.Trials)
			proposedHistory := report.StepHistory(proposed.Trials)
			if len(baseHistory) == 0 || len(proposedHistory) == 0 {
				return fmt.Errorf("report has no per-step history; rerun with --record-steps")
			}

			ratios := report.StepRatios(baseHistory, proposedHistory, checkpoints)

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), ratios)
			}

			steps := make([]int, 0, len(ratios))
			for k := range ratios {
				steps = append(steps, k)
			}
			sort.Ints(steps)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-6s %8s %8s %8s\n", "step", "stage1", "stage2", "stage3")
			for _, k := range steps {
				r := ratios[k]
				fmt.Fprintf(w, "%-6d %8.3f %8.3f %8.3f\n", k, r.Stage1, r.Stage2, r.Stage3)
			}
			return nil
		},
	}

	cmd.Flags().IntSlice("at", report.DefaultRatioSteps, "Step checkpoints")
	return cmd
}
