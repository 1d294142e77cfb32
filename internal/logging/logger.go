// Package logging provides leveled logging and trial tracing for funnelsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A TrialLogger for structured JSONL trial events (.funnelsim/trials.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/funnelsim/internal/models"
)

// TrialLogFile is the name of the JSONL trial log inside the state directory.
const TrialLogFile = "trials.jsonl"

// LevelTrace is a custom slog level below Debug.
// At this level per-step counters are logged as well.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// TrialLogger appends trial events to a JSONL file.
// It is safe for concurrent use by parallel trials. A nil TrialLogger is
// safe to use; all methods are no-ops on nil receiver.
type TrialLogger struct {
	mu    sync.Mutex
	w     io.WriteCloser
	steps bool
}

// NewTrialLogger creates a trial logger writing to dir/trials.jsonl.
// At "info" level it returns nil and no file is created. At "trace" level
// per-step events are written too. Returns nil if the file cannot be opened.
func NewTrialLogger(dir string, level string) *TrialLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, TrialLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &TrialLogger{w: f, steps: lvl <= LevelTrace}
}

// StepsEnabled reports whether LogStep writes anything.
func (tl *TrialLogger) StepsEnabled() bool {
	return tl != nil && tl.steps
}

// LogTrial records a completed trial.
func (tl *TrialLogger) LogTrial(runID string, lambda float64, decay bool, r *models.TrialResult, elapsed time.Duration) {
	if tl == nil || r == nil {
		return
	}
	tl.Log(map[string]any{
		"event":     "trial",
		"run_id":    runID,
		"lambda":    lambda,
		"decay":     decay,
		"trial":     r.Trial,
		"seed":      r.Seed,
		"stage1":    r.Stage1,
		"stage2":    r.Stage2,
		"stage3":    r.Stage3,
		"finished":  r.Finished,
		"saturated": r.Saturated,
		"elapsed":   elapsed.String(),
	})
}

// LogStep records the counters of one step. Only written at trace level.
func (tl *TrialLogger) LogStep(runID string, trial, step int, counts models.StageCounts) {
	if !tl.StepsEnabled() {
		return
	}
	tl.Log(map[string]any{
		"event":  "step",
		"run_id": runID,
		"trial":  trial,
		"step":   step,
		"stage1": counts.Stage1,
		"stage2": counts.Stage2,
		"stage3": counts.Stage3,
	})
}

// Log writes an arbitrary event as a single JSONL line.
// A "time" field is added automatically. The caller's map is not mutated.
func (tl *TrialLogger) Log(event map[string]any) {
	if tl == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.w == nil {
		return
	}
	_, _ = tl.w.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (tl *TrialLogger) Close() {
	if tl == nil {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.w != nil {
		tl.w.Close()
		tl.w = nil
	}
}
