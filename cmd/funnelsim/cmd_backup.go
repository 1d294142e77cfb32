package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/funnelsim/internal/backup"
	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/pathutil"
	"github.com/nvandessel/funnelsim/internal/store"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the run store to a backup file",
		Long: `Write every recorded run and its trials to a checksummed, compressed file.

Default location: .funnelsim/backups/funnelsim-runs-YYYYMMDD-HHMMSS.json.gz
After writing, older archives in the same directory are pruned (default:
keep the last 10).

Examples:
  funnelsim backup                             # Backup to default location
  funnelsim backup --output runs.json.gz       # Backup to a specific file
  funnelsim backup --keep 3 --max-age 30d      # Keep 3 newest plus anything under 30 days
  funnelsim backup list                        # List backups
  funnelsim backup verify <file>               # Verify backup integrity
  funnelsim backup restore <file>              # Merge runs back into the store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			outputPath, _ := cmd.Flags().GetString("output")

			policy, err := retentionPolicy(cmd)
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = backup.GeneratePath(backup.DefaultDir(root), time.Now())
			} else if err := validateBackupPath(root, outputPath); err != nil {
				return err
			}

			s, err := store.NewSQLiteRunStore(root)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer s.Close()

			header, err := backup.Create(cmd.Context(), s, outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			deleted, err := backup.ApplyRetention(filepath.Dir(outputPath), policy)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":        outputPath,
					"run_count":   header.RunCount,
					"trial_count": header.TrialCount,
					"checksum":    header.Checksum,
					"pruned":      len(deleted),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %d runs, %d trials\n", header.RunCount, header.TrialCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			if len(deleted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  Pruned %d old backup(s)\n", len(deleted))
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path (default: auto-generated in .funnelsim/backups/)")
	cmd.Flags().Int("keep", 10, "Keep this many newest backups")
	cmd.Flags().String("max-age", "", "Also keep backups younger than this (e.g. 30d, 2w, 720h)")
	cmd.Flags().String("max-size", "", "Also keep newest backups up to this total size (e.g. 100MB)")

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupVerifyCmd(),
		newBackupRestoreCmd(),
	)
	return cmd
}

// retentionPolicy builds the union of the retention flags.
func retentionPolicy(cmd *cobra.Command) (backup.RetentionPolicy, error) {
	keep, _ := cmd.Flags().GetInt("keep")
	maxAge, _ := cmd.Flags().GetString("max-age")
	maxSize, _ := cmd.Flags().GetString("max-size")

	policies := []backup.RetentionPolicy{&backup.CountPolicy{MaxCount: keep}}
	if maxAge != "" {
		d, err := backup.ParseDuration(maxAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &backup.AgePolicy{MaxAge: d})
	}
	if maxSize != "" {
		n, err := backup.ParseSize(maxSize)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &backup.SizePolicy{MaxTotalBytes: n})
	}

	if len(policies) == 1 {
		return policies[0], nil
	}
	return &backup.CompositePolicy{Policies: policies}, nil
}

// validateBackupPath restricts archive paths to the project and ~/.funnelsim.
func validateBackupPath(root, path string) error {
	allowed, err := pathutil.AllowedDirs(root, constants.StateDirName)
	if err != nil {
		return fmt.Errorf("failed to determine allowed backup dirs: %w", err)
	}
	if err := pathutil.ValidatePath(path, allowed); err != nil {
		return fmt.Errorf("backup path rejected: %w", err)
	}
	return nil
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in the project backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			backups, err := backup.List(backup.DefaultDir(root))
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"backups": backups,
					"count":   len(backups),
				})
			}

			w := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintln(w, "No backups found.")
				return nil
			}
			for _, b := range backups {
				fmt.Fprintf(w, "%s  %5d runs  %8d bytes  %s\n",
					b.CreatedAt.Format("2006-01-02 15:04:05"), b.RunCount, b.Size, b.Path)
			}
			return nil
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a backup's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backup.Verify(args[0]); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			header, err := backup.ReadHeader(args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":   args[0],
					"valid":  true,
					"header": header,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (%d runs, %d trials, %s)\n",
				args[0], header.RunCount, header.TrialCount, header.Checksum)
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore runs from a backup",
		Long: `Restore recorded runs from a backup file.

Modes:
  merge   - Skip runs whose ID already exists (default)
  replace - Delete all recorded runs first, then restore`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			mode, _ := cmd.Flags().GetString("mode")

			if err := validateBackupPath(root, args[0]); err != nil {
				return err
			}

			s, err := store.NewSQLiteRunStore(root)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer s.Close()

			result, err := backup.Restore(cmd.Context(), s, args[0], backup.RestoreMode(mode))
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d runs (%d skipped, %d deleted)\n",
				result.RunsRestored, result.RunsSkipped, result.RunsDeleted)
			return nil
		},
	}

	cmd.Flags().String("mode", string(backup.RestoreMerge), "Restore mode: merge or replace")
	return cmd
}
