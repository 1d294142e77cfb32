package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/models"
	"github.com/nvandessel/funnelsim/internal/store"
)

func testRun(id string, lambda float64, created time.Time) store.Run {
	cfg := config.Default().Experiment
	cfg.Lambda = lambda
	return store.Run{
		ID:        id,
		CreatedAt: created,
		Policy:    "proposed",
		Aggregate: models.AggregateResult{
			Lambda:       lambda,
			DecayEnabled: true,
			Trials:       2,
			Mean:         models.StageStats{Stage1: 3, Stage2: 2, Stage3: 1},
		},
		Config: cfg,
	}
}

func testTrials() []models.TrialResult {
	return []models.TrialResult{
		{Trial: 0, Seed: 42, StageCounts: models.StageCounts{Stage1: 3, Stage2: 2, Stage3: 1}, Finished: 1},
		{Trial: 1, Seed: 43, StageCounts: models.StageCounts{Stage1: 3, Stage2: 2, Stage3: 1}},
	}
}

func seededStore(t *testing.T, ids ...string) *store.InMemoryRunStore {
	t.Helper()
	s := store.NewInMemoryRunStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		if err := s.SaveRun(context.Background(), testRun(id, 0.1*float64(i), base.Add(time.Duration(i)*time.Minute)), testTrials()); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}
	return s
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	src := seededStore(t, "a", "b")
	path := GeneratePath(t.TempDir(), time.Now())

	header, err := Create(ctx, src, path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if header.RunCount != 2 || header.TrialCount != 4 {
		t.Errorf("header counts = %d runs, %d trials, want 2, 4", header.RunCount, header.TrialCount)
	}
	if !strings.HasPrefix(header.Checksum, "sha256:") {
		t.Errorf("Checksum = %q", header.Checksum)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}

	archive, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(archive.Runs) != 2 {
		t.Fatalf("archive has %d runs, want 2", len(archive.Runs))
	}
	for _, ar := range archive.Runs {
		if len(ar.Trials) != 2 || ar.Trials[0].Seed != 42 {
			t.Errorf("run %s trials = %+v", ar.Run.ID, ar.Trials)
		}
	}

	got, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if got.Checksum != header.Checksum {
		t.Errorf("ReadHeader checksum = %q, want %q", got.Checksum, header.Checksum)
	}
	if err := Verify(path); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnelsim-runs-20260301-120000.json.gz")
	if _, err := Create(context.Background(), seededStore(t, "a"), path); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := Verify(path); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("Verify() error = %v, want checksum mismatch", err)
	}
	if _, err := Read(path); err == nil {
		t.Error("Read() should reject a corrupted archive")
	}
}

func TestReadHeader_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json.gz")
	if err := os.WriteFile(path, []byte(`{"version":9}`+"\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestRestore_Merge(t *testing.T) {
	ctx := context.Background()
	path := GeneratePath(t.TempDir(), time.Now())
	if _, err := Create(ctx, seededStore(t, "a", "b"), path); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dst := seededStore(t, "a")
	result, err := Restore(ctx, dst, path, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsRestored != 1 || result.RunsSkipped != 1 || result.RunsDeleted != 0 {
		t.Errorf("result = %+v, want 1 restored, 1 skipped", result)
	}

	trials, err := dst.GetTrials(ctx, "b")
	if err != nil {
		t.Fatalf("GetTrials(b) error = %v", err)
	}
	if len(trials) != 2 {
		t.Errorf("restored %d trials, want 2", len(trials))
	}
}

func TestRestore_Replace(t *testing.T) {
	ctx := context.Background()
	path := GeneratePath(t.TempDir(), time.Now())
	if _, err := Create(ctx, seededStore(t, "a"), path); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dst := seededStore(t, "x", "y")
	result, err := Restore(ctx, dst, path, RestoreReplace)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsDeleted != 2 || result.RunsRestored != 1 {
		t.Errorf("result = %+v, want 2 deleted, 1 restored", result)
	}

	if _, err := dst.GetRun(ctx, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun(x) error = %v, want ErrNotFound", err)
	}
	runs, _ := dst.ListRuns(ctx, store.RunFilter{})
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("runs after replace = %+v", runs)
	}
}

func TestRestore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := GeneratePath(DefaultDir(root), time.Now())
	if _, err := Create(ctx, seededStore(t, "a", "b", "c"), path); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dst, err := store.NewSQLiteRunStore(root)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer dst.Close()

	result, err := Restore(ctx, dst, path, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RunsRestored != 3 {
		t.Errorf("RunsRestored = %d, want 3", result.RunsRestored)
	}

	run, err := dst.GetRun(ctx, "c")
	if err != nil {
		t.Fatalf("GetRun(c) error = %v", err)
	}
	if run.Aggregate.Mean.Stage1 != 3 {
		t.Errorf("Mean.Stage1 = %v, want 3", run.Aggregate.Mean.Stage1)
	}
}

func TestRestore_InvalidMode(t *testing.T) {
	if _, err := Restore(context.Background(), store.NewInMemoryRunStore(), "unused", "append"); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestGeneratePath(t *testing.T) {
	now := time.Date(2026, 2, 6, 12, 30, 0, 0, time.UTC)
	got := GeneratePath("/b", now)
	want := filepath.Join("/b", "funnelsim-runs-20260206-123000.json.gz")
	if got != want {
		t.Errorf("GeneratePath() = %q, want %q", got, want)
	}
	if !isBackupFile(filepath.Base(got)) {
		t.Errorf("isBackupFile(%q) = false", got)
	}
}
