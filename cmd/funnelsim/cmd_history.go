package main

import (
	"fmt"

	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/report"
	"github.com/nvandessel/funnelsim/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in .funnelsim/funnelsim.db, newest first.

Examples:
  funnelsim history --policy proposed --limit 5
  funnelsim history show <run-id>
  funnelsim history delete <run-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			f := cmd.Flags()

			var filter store.RunFilter
			filter.Policy, _ = f.GetString("policy")
			filter.Limit, _ = f.GetInt("limit")
			if filter.Policy != "" && !constants.Policy(filter.Policy).Valid() {
				return fmt.Errorf("invalid policy: %s (valid: baseline, proposed)", filter.Policy)
			}
			if f.Changed("decay") {
				d, _ := f.GetBool("decay")
				filter.Decay = &d
			}
			if f.Changed("lambda") {
				l, _ := f.GetFloat64("lambda")
				filter.Lambda = &l
			}

			s, err := store.NewSQLiteRunStore(root)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"runs":  runs,
					"count": len(runs),
				})
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-20s  %-8s  %-7s  %-5s  %6s  %9s %9s %9s\n",
				"ID", "CREATED", "POLICY", "LAMBDA", "DECAY", "TRIALS", "STAGE1", "STAGE2", "STAGE3")
			for _, r := range runs {
				a := r.Aggregate
				fmt.Fprintf(w, "%-36s  %-20s  %-8s  %-7s  %-5t  %6d  %9.3f %9.3f %9.3f\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Policy, report.FormatLambda(a.Lambda),
					a.DecayEnabled, a.Trials, a.Mean.Stage1, a.Mean.Stage2, a.Mean.Stage3)
			}
			return nil
		},
	}

	cmd.Flags().String("policy", "", "Filter by policy: baseline or proposed")
	cmd.Flags().Bool("decay", true, "Filter by decay flag")
	cmd.Flags().Float64("lambda", 0, "Filter by exact lambda")
	cmd.Flags().Int("limit", 20, "Maximum runs to list (0 = all)")

	cmd.AddCommand(
		newHistoryShowCmd(),
		newHistoryDeleteCmd(),
	)
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its trials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			s, err := store.NewSQLiteRunStore(root)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			trials, err := s.GetTrials(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run":    run,
					"trials": trials,
				})
			}

			w := cmd.OutOrStdout()
			a := run.Aggregate
			fmt.Fprintf(w, "Run %s\n", run.ID)
			fmt.Fprintf(w, "  created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(w, "  policy:   %s (lambda=%s, decay=%t)\n", run.Policy, report.FormatLambda(a.Lambda), a.DecayEnabled)
			fmt.Fprintf(w, "  mean:     %.3f / %.3f / %.3f\n", a.Mean.Stage1, a.Mean.Stage2, a.Mean.Stage3)
			fmt.Fprintf(w, "  stddev:   %.3f / %.3f / %.3f\n", a.StdDev.Stage1, a.StdDev.Stage2, a.StdDev.Stage3)
			if run.ReportPath != "" {
				fmt.Fprintf(w, "  report:   %s\n", run.ReportPath)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "  %5s  %20s  %6s %6s %6s  %8s\n", "TRIAL", "SEED", "S1", "S2", "S3", "FINISHED")
			for _, t := range trials {
				fmt.Fprintf(w, "  %5d  %20d  %6d %6d %6d  %8d\n", t.Trial, t.Seed, t.Stage1, t.Stage2, t.Stage3, t.Finished)
			}
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			s, err := store.NewSQLiteRunStore(root)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer s.Close()

			if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
