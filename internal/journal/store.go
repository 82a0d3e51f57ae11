// Package journal persists run history, per-unit failures and build outcomes
// in a SQLite database under the pipeline data directory. The journal powers
// status reporting and the end-of-run failure summary; pipeline correctness
// never depends on it.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides persistence for pipeline run history.
type Store struct {
	conn   *sql.DB
	dbPath string
}

// Open opens or creates the journal database at <dataDir>/journal.db
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "journal.db")

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{conn: conn, dbPath: dbPath}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TEXT NOT NULL,
			finished_at TEXT,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

		CREATE TABLE IF NOT EXISTS unit_failures (
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			unit TEXT NOT NULL,
			code TEXT NOT NULL,
			diagnostic TEXT,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_failures_run ON unit_failures(run_id);

		CREATE TABLE IF NOT EXISTS build_outcomes (
			run_id TEXT NOT NULL,
			unit TEXT,
			mode TEXT NOT NULL,
			ok INTEGER NOT NULL,
			categories TEXT,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_run ON build_outcomes(run_id);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// BeginRun records the start of a stage run and returns its ID
func (s *Store) BeginRun(stage string) (string, error) {
	id := uuid.NewString()
	_, err := s.conn.Exec(
		`INSERT INTO runs (id, stage, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, stage, now(),
	)
	return id, err
}

// FinishRun marks a run completed or failed with an optional detail message
func (s *Store) FinishRun(runID, status, detail string) error {
	_, err := s.conn.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, detail = ? WHERE id = ?`,
		status, now(), detail, runID,
	)
	return err
}

// RecordFailure appends a per-unit failure with its last diagnostic
func (s *Store) RecordFailure(runID, stage, unit, code, diagnostic string) error {
	_, err := s.conn.Exec(
		`INSERT INTO unit_failures (run_id, stage, unit, code, diagnostic, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, stage, unit, code, diagnostic, now(),
	)
	return err
}

// RecordBuildOutcome appends one toolchain invocation result
func (s *Store) RecordBuildOutcome(runID, unit, mode string, ok bool, categories []string) error {
	okVal := 0
	if ok {
		okVal = 1
	}
	_, err := s.conn.Exec(
		`INSERT INTO build_outcomes (run_id, unit, mode, ok, categories, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, unit, mode, okVal, strings.Join(categories, ","), now(),
	)
	return err
}

// Failure is one recorded unit failure
type Failure struct {
	Stage      string
	Unit       string
	Code       string
	Diagnostic string
	RecordedAt string
}

// Failures lists all recorded unit failures, newest last. An empty stage
// selects every stage.
func (s *Store) Failures(stage string) ([]Failure, error) {
	query := `SELECT stage, unit, code, diagnostic, recorded_at FROM unit_failures`
	var args []interface{}
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY recorded_at ASC`

	return s.queryFailures(query, args...)
}

// FailuresForRuns lists the unit failures recorded by the given runs only,
// newest last. Used to scope a full-run summary to the runs it started.
func (s *Store) FailuresForRuns(runIDs []string) ([]Failure, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	query := `SELECT stage, unit, code, diagnostic, recorded_at FROM unit_failures
		 WHERE run_id IN (` + placeholders + `) ORDER BY recorded_at ASC`
	args := make([]interface{}, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}
	return s.queryFailures(query, args...)
}

func (s *Store) queryFailures(query string, args ...interface{}) ([]Failure, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var diag sql.NullString
		if err := rows.Scan(&f.Stage, &f.Unit, &f.Code, &diag, &f.RecordedAt); err != nil {
			return nil, err
		}
		f.Diagnostic = diag.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// RunSummary is one row of stage run history
type RunSummary struct {
	ID         string
	Stage      string
	Status     string
	StartedAt  string
	FinishedAt string
}

// Runs lists recorded runs, most recent first
func (s *Store) Runs(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(
		`SELECT id, stage, status, started_at, COALESCE(finished_at, '') FROM runs
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
