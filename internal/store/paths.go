package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/funnelsim/internal/constants"
)

// DBFileName is the run database inside the state directory.
const DBFileName = "funnelsim.db"

// GlobalStatePath returns the path to the global state directory.
// On Unix: ~/.funnelsim
// On Windows: %USERPROFILE%\.funnelsim
func GlobalStatePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.StateDirName), nil
}

// LocalStatePath returns the state directory for the given project root.
func LocalStatePath(projectRoot string) string {
	return filepath.Join(projectRoot, constants.StateDirName)
}

// DBPath returns the run database path for the given project root.
func DBPath(projectRoot string) string {
	return filepath.Join(LocalStatePath(projectRoot), DBFileName)
}
