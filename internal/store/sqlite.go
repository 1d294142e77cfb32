package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/funnelsim/internal/models"
	_ "modernc.org/sqlite" // SQLite driver
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRunStore implements RunStore using SQLite for persistence.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore creates a new SQLiteRunStore rooted at projectRoot.
// It creates the database at .funnelsim/funnelsim.db.
func NewSQLiteRunStore(projectRoot string) (*SQLiteRunStore, error) {
	stateDir := LocalStatePath(projectRoot)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return OpenSQLiteRunStore(DBPath(projectRoot))
}

// OpenSQLiteRunStore opens (or creates) the database at dbPath.
func OpenSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string {
	return s.dbPath
}

// SaveRun stores a run and its trials in one transaction.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run Run, trials []models.TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	agg := run.Aggregate
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, created_at, policy, lambda, decay, trials,
			mean_stage1, mean_stage2, mean_stage3,
			stddev_stage1, stddev_stage2, stddev_stage3,
			duration_ns, config, report_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UTC().Format(timeLayout),
		run.Policy,
		agg.Lambda,
		boolToInt(agg.DecayEnabled),
		agg.Trials,
		agg.Mean.Stage1, agg.Mean.Stage2, agg.Mean.Stage3,
		agg.StdDev.Stage1, agg.StdDev.Stage2, agg.StdDev.Stage3,
		int64(agg.Duration),
		string(cfgJSON),
		nullString(run.ReportPath),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	// Drop trials from any previous save of this ID.
	if _, err := tx.ExecContext(ctx, `DELETE FROM trial_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear trials: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trial_results (run_id, trial, seed, stage1, stage2, stage3, finished, saturated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trial insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trials {
		if _, err := stmt.ExecContext(ctx, run.ID, t.Trial, t.Seed,
			t.Stage1, t.Stage2, t.Stage3, t.Finished, t.Saturated); err != nil {
			return fmt.Errorf("failed to insert trial %d: %w", t.Trial, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, created_at, policy, lambda, decay, trials,
	mean_stage1, mean_stage2, mean_stage3,
	stddev_stage1, stddev_stage2, stddev_stage3,
	duration_ns, config, report_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		createdAt  string
		decay      int
		durationNS int64
		cfgJSON    string
		reportPath sql.NullString
	)
	agg := &run.Aggregate
	if err := row.Scan(
		&run.ID, &createdAt, &run.Policy, &agg.Lambda, &decay, &agg.Trials,
		&agg.Mean.Stage1, &agg.Mean.Stage2, &agg.Mean.Stage3,
		&agg.StdDev.Stage1, &agg.StdDev.Stage2, &agg.StdDev.Stage3,
		&durationNS, &cfgJSON, &reportPath,
	); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for run %s: %w", run.ID, err)
	}
	run.CreatedAt = t
	agg.DecayEnabled = decay != 0
	agg.Duration = time.Duration(durationNS)
	run.ReportPath = reportPath.String

	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("failed to parse config for run %s: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetTrials returns the trials of a run ordered by index.
func (s *SQLiteRunStore) GetTrials(ctx context.Context, id string) ([]models.TrialResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trial, seed, stage1, stage2, stage3, finished, saturated
		FROM trial_results WHERE run_id = ? ORDER BY trial`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	var trials []models.TrialResult
	for rows.Next() {
		var t models.TrialResult
		if err := rows.Scan(&t.Trial, &t.Seed, &t.Stage1, &t.Stage2, &t.Stage3, &t.Finished, &t.Saturated); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

// ListRuns returns runs matching filter, newest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Policy != "" {
		where = append(where, "policy = ?")
		args = append(args, filter.Policy)
	}
	if filter.Decay != nil {
		where = append(where, "decay = ?")
		args = append(args, boolToInt(*filter.Decay))
	}
	if filter.Lambda != nil {
		where = append(where, "lambda = ?")
		args = append(args, *filter.Lambda)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, by cascade, its trials.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
