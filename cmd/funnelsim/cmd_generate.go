package main

import (
	"fmt"

	"github.com/nvandessel/funnelsim/internal/dataset"
	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic trial data as CSV",
		Long: `Generate user_{n}.csv and item_{n}.csv for every trial.

Initial user states are uniform in [0, 50]; stage scores are uniform in
[0, 0.1) with four decimals. The data is a pure function of the seed and
matches what --source generated produces in memory.

Example:
  funnelsim generate --trials 100 --data data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			root, _ := cmd.Flags().GetString("root")
			dir := underRoot(root, cfg.Data.Dir)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			gen := dataset.Generator{
				Dims: dataset.DimensionsOf(cfg.Experiment),
				Seed: dataset.DeriveSeed(cfg.Experiment.Seed),
			}
			if err := gen.WriteAll(ctx, dir, cfg.Experiment.Trials); err != nil {
				return fmt.Errorf("failed to generate data: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"status": "generated",
					"dir":    dir,
					"trials": cfg.Experiment.Trials,
					"users":  cfg.Experiment.Users,
					"items":  cfg.Experiment.Items,
					"steps":  cfg.Experiment.Steps,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d trials (%d users, %d items, %d steps) in %s\n",
				cfg.Experiment.Trials, cfg.Experiment.Users, cfg.Experiment.Items, cfg.Experiment.Steps, dir)
			return nil
		},
	}

	addRunFlags(cmd)
	return cmd
}
