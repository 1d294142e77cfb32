// Package backup archives the run store to checksummed, compressed files
// and restores runs from them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/funnelsim/internal/store"
)

const (
	filePrefix = "funnelsim-runs-"
	fileExt    = ".json.gz"
)

// DefaultDir returns the backup directory of a project (.funnelsim/backups).
func DefaultDir(projectRoot string) string {
	return filepath.Join(store.LocalStatePath(projectRoot), "backups")
}

// GeneratePath returns a timestamped archive path in dir.
func GeneratePath(dir string, now time.Time) string {
	return filepath.Join(dir, filePrefix+now.UTC().Format("20060102-150405")+fileExt)
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt)
}

// Create writes every run in runs, with its trials, to path.
func Create(ctx context.Context, runs store.RunStore, path string) (*Header, error) {
	list, err := runs.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	archive := &Archive{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Runs:      make([]ArchivedRun, 0, len(list)),
	}
	for _, run := range list {
		trials, err := runs.GetTrials(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get trials for %s: %w", run.ID, err)
		}
		archive.Runs = append(archive.Runs, ArchivedRun{Run: run, Trials: trials})
	}

	return Write(path, archive)
}

// RestoreMode controls how restore handles runs already in the store.
type RestoreMode string

const (
	// RestoreMerge skips runs whose ID already exists (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace deletes every stored run before restoring.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	RunsRestored int `json:"runs_restored"`
	RunsSkipped  int `json:"runs_skipped"`
	RunsDeleted  int `json:"runs_deleted"`
}

// Restore imports the runs of the archive at path into runs.
func Restore(ctx context.Context, runs store.RunStore, path string, mode RestoreMode) (*RestoreResult, error) {
	if mode != RestoreMerge && mode != RestoreReplace {
		return nil, fmt.Errorf("invalid restore mode: %q (valid: merge, replace)", mode)
	}

	archive, err := Read(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}

	if mode == RestoreReplace {
		existing, err := runs.ListRuns(ctx, store.RunFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		for _, r := range existing {
			if err := runs.DeleteRun(ctx, r.ID); err != nil {
				return nil, fmt.Errorf("failed to delete run %s: %w", r.ID, err)
			}
			result.RunsDeleted++
		}
	}

	for _, ar := range archive.Runs {
		if mode == RestoreMerge {
			_, err := runs.GetRun(ctx, ar.Run.ID)
			if err == nil {
				result.RunsSkipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to check existing run %s: %w", ar.Run.ID, err)
			}
		}

		if err := runs.SaveRun(ctx, ar.Run, ar.Trials); err != nil {
			return nil, fmt.Errorf("failed to restore run %s: %w", ar.Run.ID, err)
		}
		result.RunsRestored++
	}

	return result, nil
}
