package main

import (
	"fmt"
	"path/filepath"

	"github.com/nvandessel/funnelsim/internal/logging"
	"github.com/nvandessel/funnelsim/internal/mcp"
	"github.com/nvandessel/funnelsim/internal/metrics"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mcp-server",
		Aliases: []string{"mcp"},
		Short:   "Serve funnelsim tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout.

Tools: funnelsim_run, funnelsim_compare, funnelsim_score, funnelsim_history.
Resource: funnelsim://runs/recent.

Runs use configured defaults overridden by tool arguments, read generated
data unless source=csv, and are recorded in .funnelsim/funnelsim.db. Tool
calls are audited to .funnelsim/audit.jsonl. Logs go to stderr; metrics
are written to output.metrics_file on exit when it is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			root, _ := cmd.Flags().GetString("root")
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("failed to resolve root: %w", err)
			}

			recorder := metrics.NewRecorder()
			server, err := mcp.NewServer(&mcp.Config{
				Name:     "funnelsim",
				Version:  version,
				Root:     absRoot,
				Defaults: cfg,
				Logger:   logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
				Metrics:  recorder,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			err = server.Run(cmd.Context())
			if cfg.Output.MetricsFile != "" {
				if werr := recorder.WriteTextfile(underRoot(absRoot, cfg.Output.MetricsFile)); werr != nil && err == nil {
					err = fmt.Errorf("failed to write metrics: %w", werr)
				}
			}
			return err
		},
	}
}
