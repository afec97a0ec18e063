package runlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store persists run records in SQLite so past runs can be inspected
// without trawling log files.
type Store struct {
	db *sql.DB
}

// RunRecord is one persisted run.
type RunRecord struct {
	RunID      string
	RunName    string
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     string
	Counts     map[string]int64
	Categories map[string]int64
}

// OpenStore opens (and if needed creates) the run store at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		run_name   TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		status     TEXT NOT NULL,
		counts     TEXT,
		categories TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(run_name);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create run schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insertRun(runID, runName string, started time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, run_name, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, runName, started.UTC().Format(time.RFC3339), StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// insertRunUnique inserts the run record, suffixing the id with a
// counter when a run with the same id already exists. Returns the id
// actually recorded.
func (s *Store) insertRunUnique(runID, runName string, started time.Time) (string, error) {
	id := runID
	for n := 2; ; n++ {
		err := s.insertRun(id, runName, started)
		if err == nil {
			return id, nil
		}
		var serr sqlite3.Error
		if !errors.As(err, &serr) || serr.Code != sqlite3.ErrConstraint {
			return "", err
		}
		id = fmt.Sprintf("%s_%d", runID, n)
	}
}

func (s *Store) finishRun(runID, status string, counts, categories map[string]int64) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE runs SET ended_at = ?, status = ?, counts = ?, categories = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, string(countsJSON), string(categoriesJSON), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run record: %w", err)
	}
	return nil
}

// Get returns one run by id.
func (s *Store) Get(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, run_name, started_at, ended_at, status, counts, categories
		 FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return rec, err
}

// List returns the most recent runs, newest first. runName filters when
// non-empty; limit <= 0 means no limit.
func (s *Store) List(runName string, limit int) ([]*RunRecord, error) {
	query := `SELECT run_id, run_name, started_at, ended_at, status, counts, categories
	          FROM runs`
	var args []interface{}
	if runName != "" {
		query += ` WHERE run_name = ?`
		args = append(args, runName)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var started string
	var ended, counts, categories sql.NullString
	if err := row.Scan(&rec.RunID, &rec.RunName, &started, &ended, &rec.Status, &counts, &categories); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, started)
	if err != nil {
		return nil, fmt.Errorf("bad started_at for %s: %w", rec.RunID, err)
	}
	rec.StartedAt = t
	if ended.Valid {
		e, err := time.Parse(time.RFC3339, ended.String)
		if err != nil {
			return nil, fmt.Errorf("bad ended_at for %s: %w", rec.RunID, err)
		}
		rec.EndedAt = &e
	}
	if counts.Valid && counts.String != "" {
		if err := json.Unmarshal([]byte(counts.String), &rec.Counts); err != nil {
			return nil, fmt.Errorf("bad counts for %s: %w", rec.RunID, err)
		}
	}
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &rec.Categories); err != nil {
			return nil, fmt.Errorf("bad categories for %s: %w", rec.RunID, err)
		}
	}
	return &rec, nil
}
