package main

import (
	"fmt"
	"strconv"

	"github.com/nvandessel/funnelsim/internal/ranking"
	"github.com/spf13/cobra"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <conversions> <steps-since>",
		Short: "Show the propensity score of a user state",
		Long: `Print the propensity score of a user with the given stage-1 conversion
count and steps since the last conversion, and the delta gained by one
more conversion now. Caps default to the configured values.

Example:
  funnelsim score 3 12`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversions, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversions: %s", args[0])
			}
			steps, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid steps-since: %s", args[1])
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			maxConv, maxSteps := cfg.Experiment.MaxConversions, cfg.Experiment.MaxSteps
			if cmd.Flags().Changed("max-conversions") {
				maxConv, _ = cmd.Flags().GetInt("max-conversions")
			}
			if cmd.Flags().Changed("max-steps") {
				maxSteps, _ = cmd.Flags().GetInt("max-steps")
			}

			scorer, err := ranking.NewStateScorer(maxConv, maxSteps)
			if err != nil {
				return err
			}

			score := scorer.Score(conversions, steps)
			delta := scorer.Delta(conversions, steps)

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"conversions": conversions,
					"steps_since": steps,
					"score":       score,
					"delta":       delta,
					"magnitude":   scorer.Magnitude(conversions),
					"decay_rate":  scorer.DecayRate(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "score = %.6f\ndelta = %.6f\n", score, delta)
			return nil
		},
	}

	cmd.Flags().Int("max-conversions", 0, "Conversion cap (default from config)")
	cmd.Flags().Int("max-steps", 0, "Steps cap (default from config)")
	return cmd
}
