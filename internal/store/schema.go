package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the schema version this package writes.
const SchemaVersion = 1

// schemaV1 holds runs and their per-trial counters.
const schemaV1 = `
-- One row per experiment run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    policy TEXT NOT NULL,  -- 'baseline' or 'proposed'
    lambda REAL NOT NULL,
    decay INTEGER NOT NULL,
    trials INTEGER NOT NULL,

    mean_stage1 REAL NOT NULL,
    mean_stage2 REAL NOT NULL,
    mean_stage3 REAL NOT NULL,
    stddev_stage1 REAL NOT NULL,
    stddev_stage2 REAL NOT NULL,
    stddev_stage3 REAL NOT NULL,

    duration_ns INTEGER NOT NULL,
    config TEXT NOT NULL,  -- JSON ExperimentConfig
    report_path TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_policy_lambda ON runs(policy, lambda);

-- Per-trial counters
CREATE TABLE IF NOT EXISTS trial_results (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    trial INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    stage1 INTEGER NOT NULL,
    stage2 INTEGER NOT NULL,
    stage3 INTEGER NOT NULL,
    finished INTEGER NOT NULL DEFAULT 0,
    saturated INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, trial)
);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the tables on a new database. An existing database is
// integrity-checked and must not be newer than SchemaVersion.
func InitSchema(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return createSchema(ctx, db)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, SchemaVersion)
	}
	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}
	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create run tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity fails if PRAGMA integrity_check reports anything but
// "ok" or PRAGMA foreign_key_check reports any orphaned trial rows.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var problems []string

	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			rows.Close()
			return fmt.Errorf("integrity_check: %w", err)
		}
		if msg != "ok" {
			problems = append(problems, msg)
		}
	}
	rows.Close()

	fk, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("foreign_key_check: %w", err)
	}
	defer fk.Close()
	for fk.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := fk.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("foreign_key_check: %w", err)
		}
		problems = append(problems, fmt.Sprintf("%s row %d references missing %s", table, rowid.Int64, parent))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s): %v", len(problems), problems)
	}
	return nil
}

// ResetSchema drops the run tables and recreates them. Tests only.
func ResetSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"trial_results", "runs", "schema_version"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return createSchema(ctx, db)
}
