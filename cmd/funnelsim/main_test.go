package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/store"
)

// isolateHome sets HOME to a temp directory to avoid touching real ~/.funnelsim/
// MUST be called for any test that loads configuration
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
}

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// smallRun returns flags for a fast generated-data experiment under root.
func smallRun(root string, extra ...string) []string {
	args := []string{
		"--root", root,
		"--source", "generated",
		"--users", "5", "--items", "3", "--steps", "6", "--trials", "3",
	}
	return append(args, extra...)
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", s, err)
	}
	return v
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	got := decodeJSON[map[string]string](t, out)
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}

	out, err = execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "funnelsim version ") {
		t.Errorf("output = %q", out)
	}
}

func TestScoreCmd(t *testing.T) {
	isolateHome(t, t.TempDir())

	out, err := execute(t, "score", "0", "0", "--json")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	got := decodeJSON[map[string]float64](t, out)
	if got["score"] != 1 {
		t.Errorf("score = %v, want 1", got["score"])
	}
	if got["delta"] <= 0 {
		t.Errorf("delta = %v, want > 0", got["delta"])
	}

	if _, err := execute(t, "score", "x", "0"); err == nil {
		t.Error("expected error for non-numeric conversions")
	}
	if _, err := execute(t, "score", "0", "0", "--max-steps", "0"); err == nil {
		t.Error("expected error for zero max-steps")
	}
}

func TestRunCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, append([]string{"run", "--json"}, smallRun(tmpDir, "--lambda", "0.5")...)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	sum := decodeJSON[runSummary](t, out)

	if sum.Policy != "proposed" || sum.Lambda != 0.5 || !sum.Decay {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Trials != 3 {
		t.Errorf("Trials = %d, want 3", sum.Trials)
	}
	if !sum.Stored {
		t.Error("run should be stored by default")
	}
	wantDir := filepath.Join(tmpDir, "results", "decay_true")
	if filepath.Dir(sum.Report) != wantDir {
		t.Errorf("report dir = %q, want %q", filepath.Dir(sum.Report), wantDir)
	}
	if !strings.HasPrefix(filepath.Base(sum.Report), "lambda_0.5_") {
		t.Errorf("report name = %q", filepath.Base(sum.Report))
	}
	if _, err := os.Stat(sum.Report); err != nil {
		t.Errorf("report not written: %v", err)
	}

	out, err = execute(t, "history", "--json", "--root", tmpDir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	hist := decodeJSON[struct {
		Runs  []store.Run `json:"runs"`
		Count int         `json:"count"`
	}](t, out)
	if hist.Count != 1 || hist.Runs[0].ID != sum.RunID {
		t.Errorf("history = %+v", hist)
	}
	if hist.Runs[0].ReportPath != sum.Report {
		t.Errorf("ReportPath = %q, want %q", hist.Runs[0].ReportPath, sum.Report)
	}

	out, err = execute(t, "history", "show", sum.RunID, "--root", tmpDir)
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	if !strings.Contains(out, "policy:   proposed (lambda=0.5, decay=true)") {
		t.Errorf("show output = %q", out)
	}
}

func TestRunCmd_NoStoreAndMetrics(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := execute(t, append([]string{"run"},
		smallRun(tmpDir, "--no-store", "--metrics-file", "metrics.prom", "--format", "yaml")...)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, err := os.Stat(store.DBPath(tmpDir)); !os.IsNotExist(err) {
		t.Errorf("run store should not exist, stat err = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "metrics.prom"))
	if err != nil {
		t.Fatalf("metrics textfile missing: %v", err)
	}
	if !strings.Contains(string(data), "funnelsim_trials_total") {
		t.Errorf("metrics textfile = %s", data)
	}

	matches, _ := filepath.Glob(filepath.Join(tmpDir, "results", "decay_true", "*.yaml"))
	if len(matches) != 1 {
		t.Errorf("yaml reports = %v, want 1", matches)
	}
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := execute(t, append([]string{"run"}, smallRun(tmpDir, "--users", "0")...)...)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
	if cfgErr.Field != "experiment.users" {
		t.Errorf("Field = %q, want experiment.users", cfgErr.Field)
	}

	_, err = execute(t, append([]string{"run"}, smallRun(tmpDir, "--source", "parquet")...)...)
	if !errors.As(err, &cfgErr) || cfgErr.Field != "data.source" {
		t.Errorf("error = %v, want data.source ConfigurationError", err)
	}
}

func TestGenerateThenRunCSV(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	sizes := []string{"--users", "5", "--items", "3", "--steps", "6", "--trials", "3", "--seed", "11"}

	genArgs := append([]string{"generate", "--root", tmpDir, "--data", "data"}, sizes...)
	if _, err := execute(t, genArgs...); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	for _, name := range []string{"user_0.csv", "item_0.csv", "user_2.csv", "item_2.csv"} {
		if _, err := os.Stat(filepath.Join(tmpDir, "data", name)); err != nil {
			t.Errorf("%s not generated: %v", name, err)
		}
	}

	csvArgs := append([]string{"run", "--json", "--no-store", "--root", tmpDir, "--source", "csv", "--data", "data"}, sizes...)
	out, err := execute(t, csvArgs...)
	if err != nil {
		t.Fatalf("csv run failed: %v", err)
	}
	fromCSV := decodeJSON[runSummary](t, out)

	memArgs := append([]string{"run", "--json", "--no-store", "--root", tmpDir, "--source", "generated"}, sizes...)
	out, err = execute(t, memArgs...)
	if err != nil {
		t.Fatalf("generated run failed: %v", err)
	}
	inMemory := decodeJSON[runSummary](t, out)

	if fromCSV.Mean != inMemory.Mean {
		t.Errorf("csv mean %+v != generated mean %+v", fromCSV.Mean, inMemory.Mean)
	}
}

func TestCompareCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, append([]string{"compare", "--json", "--at", "2,4"}, smallRun(tmpDir, "--lambda", "1")...)...)
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	got := decodeJSON[compareOutput](t, out)

	if got.Baseline.Policy != "baseline" || got.Baseline.Lambda != 0 {
		t.Errorf("Baseline = %+v", got.Baseline)
	}
	if got.Proposed.Policy != "proposed" || got.Proposed.Lambda != 1 {
		t.Errorf("Proposed = %+v", got.Proposed)
	}
	if _, ok := got.StepRatios[2]; !ok {
		t.Errorf("StepRatios = %v, want checkpoint 2", got.StepRatios)
	}
	if _, ok := got.StepRatios[4]; !ok {
		t.Errorf("StepRatios = %v, want checkpoint 4", got.StepRatios)
	}

	// Summary over the two reports the comparison wrote.
	out, err = execute(t, "report", "summary", "--root", tmpDir)
	if err != nil {
		t.Fatalf("report summary failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "lambda,metric,value,baseline,ratio" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 7 {
		t.Errorf("summary has %d lines, want 7: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "0.0,ph1_score,") {
		t.Errorf("first row = %q, want baseline first", lines[1])
	}

	out, err = execute(t, "report", "steps", got.Baseline.Report, got.Proposed.Report, "--at", "3", "--json")
	if err != nil {
		t.Fatalf("report steps failed: %v", err)
	}
	if !strings.Contains(out, `"3"`) {
		t.Errorf("steps output = %q", out)
	}
}

func TestCompareCmd_ZeroLambda(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := execute(t, append([]string{"compare"}, smallRun(tmpDir, "--lambda", "0")...)...)
	if err == nil || !strings.Contains(err.Error(), "nonzero --lambda") {
		t.Errorf("error = %v, want nonzero lambda error", err)
	}
}

func TestReportSteps_NoHistory(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, append([]string{"run", "--json", "--no-store"}, smallRun(tmpDir)...)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	sum := decodeJSON[runSummary](t, out)

	if _, err := execute(t, "report", "steps", sum.Report, sum.Report); err == nil {
		t.Error("expected error for reports without step history")
	}
}

func TestHistoryCmd_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := execute(t, "history", "--root", tmpDir, "--policy", "greedy"); err == nil {
		t.Error("expected error for invalid policy")
	}
	if _, err := execute(t, "history", "show", "missing", "--root", tmpDir); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("show error = %v, want ErrNotFound", err)
	}
	if _, err := execute(t, "history", "delete", "missing", "--root", tmpDir); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete error = %v, want ErrNotFound", err)
	}
}

func TestConfigCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := filepath.Join(tmpDir, "funnelsim.yaml")

	if _, err := execute(t, "config", "set", "experiment.trials", "7", "--config", cfgPath); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	out, err := execute(t, "config", "get", "experiment.trials", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "experiment.trials = 7" {
		t.Errorf("get output = %q", out)
	}

	out, err = execute(t, "config", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config list failed: %v", err)
	}
	if !strings.Contains(out, "experiment:") || !strings.Contains(out, "logging.level") {
		t.Errorf("list output = %q", out)
	}

	if _, err := execute(t, "config", "set", "experiment.users", "0", "--config", cfgPath); err == nil {
		t.Error("expected validation error for zero users")
	}
	if _, err := execute(t, "config", "get", "nope", "--config", cfgPath); err == nil {
		t.Error("expected error for unknown key")
	}

	loaded, err := config.LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Experiment.Trials != 7 || loaded.Experiment.Users != config.Default().Experiment.Users {
		t.Errorf("saved experiment = %+v", loaded.Experiment)
	}
}

func TestConfigFileFeedsRun(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := filepath.Join(tmpDir, "funnelsim.yaml")

	for _, kv := range [][2]string{
		{"experiment.trials", "2"},
		{"experiment.users", "4"},
		{"experiment.steps", "5"},
		{"data.source", "generated"},
	} {
		if _, err := execute(t, "config", "set", kv[0], kv[1], "--config", cfgPath); err != nil {
			t.Fatalf("config set %s failed: %v", kv[0], err)
		}
	}

	out, err := execute(t, "run", "--json", "--no-store", "--root", tmpDir, "--config", cfgPath, "--trials", "3")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	sum := decodeJSON[runSummary](t, out)
	if sum.Trials != 3 {
		t.Errorf("Trials = %d, want flag value 3", sum.Trials)
	}
}

func TestUnderRoot(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/proj", "data", filepath.Join("/proj", "data")},
		{"/proj", "/abs/data", "/abs/data"},
		{"/proj", "", ""},
	}
	for _, tt := range tests {
		if got := underRoot(tt.root, tt.path); got != tt.want {
			t.Errorf("underRoot(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestBackupCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	var ids []string
	for _, lambda := range []string{"0.2", "0.4"} {
		out, err := execute(t, append([]string{"run", "--json"}, smallRun(tmpDir, "--lambda", lambda)...)...)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		ids = append(ids, decodeJSON[runSummary](t, out).RunID)
	}

	out, err := execute(t, "backup", "--json", "--root", tmpDir)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	created := decodeJSON[struct {
		Path       string `json:"path"`
		RunCount   int    `json:"run_count"`
		TrialCount int    `json:"trial_count"`
	}](t, out)
	if created.RunCount != 2 || created.TrialCount != 6 {
		t.Errorf("backup = %+v, want 2 runs, 6 trials", created)
	}
	if filepath.Dir(created.Path) != filepath.Join(tmpDir, ".funnelsim", "backups") {
		t.Errorf("backup path = %q", created.Path)
	}

	out, err = execute(t, "backup", "list", "--json", "--root", tmpDir)
	if err != nil {
		t.Fatalf("backup list failed: %v", err)
	}
	if list := decodeJSON[struct {
		Count int `json:"count"`
	}](t, out); list.Count != 1 {
		t.Errorf("backup list count = %d, want 1", list.Count)
	}

	out, err = execute(t, "backup", "verify", created.Path)
	if err != nil {
		t.Fatalf("backup verify failed: %v", err)
	}
	if !strings.HasPrefix(out, "OK: ") {
		t.Errorf("verify output = %q", out)
	}

	if _, err := execute(t, "history", "delete", ids[0], "--root", tmpDir); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}

	out, err = execute(t, "backup", "restore", created.Path, "--json", "--root", tmpDir)
	if err != nil {
		t.Fatalf("backup restore failed: %v", err)
	}
	restored := decodeJSON[struct {
		RunsRestored int `json:"runs_restored"`
		RunsSkipped  int `json:"runs_skipped"`
	}](t, out)
	if restored.RunsRestored != 1 || restored.RunsSkipped != 1 {
		t.Errorf("restore = %+v, want 1 restored, 1 skipped", restored)
	}

	out, err = execute(t, "history", "show", ids[0], "--root", tmpDir)
	if err != nil {
		t.Fatalf("restored run missing: %v", err)
	}
	if !strings.Contains(out, "lambda=0.2") {
		t.Errorf("show output = %q", out)
	}

	out, err = execute(t, "backup", "restore", created.Path, "--mode", "replace", "--json", "--root", tmpDir)
	if err != nil {
		t.Fatalf("backup restore replace failed: %v", err)
	}
	replaced := decodeJSON[struct {
		RunsRestored int `json:"runs_restored"`
		RunsDeleted  int `json:"runs_deleted"`
	}](t, out)
	if replaced.RunsDeleted != 2 || replaced.RunsRestored != 2 {
		t.Errorf("replace = %+v, want 2 deleted, 2 restored", replaced)
	}
}

func TestBackupCmd_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	outside := filepath.Join(t.TempDir(), "runs.json.gz")
	if _, err := execute(t, "backup", "--root", tmpDir, "--output", outside); err == nil || !strings.Contains(err.Error(), "backup path rejected") {
		t.Errorf("backup outside root error = %v", err)
	}
	if _, err := execute(t, "backup", "--root", tmpDir, "--max-age", "5y"); err == nil {
		t.Error("expected error for invalid --max-age")
	}
	if _, err := execute(t, "backup", "restore", outside, "--root", tmpDir); err == nil {
		t.Error("expected error restoring from outside the project")
	}

	path := filepath.Join(tmpDir, "runs.json.gz")
	if _, err := execute(t, "backup", "--root", tmpDir, "--output", path); err != nil {
		t.Fatalf("backup of empty store failed: %v", err)
	}
	if _, err := execute(t, "backup", "restore", path, "--root", tmpDir, "--mode", "append"); err == nil {
		t.Error("expected error for invalid restore mode")
	}

	out, err := execute(t, "backup", "list", "--root", tmpDir)
	if err != nil {
		t.Fatalf("backup list failed: %v", err)
	}
	if !strings.Contains(out, "No backups found.") {
		t.Errorf("list output = %q", out)
	}
}
