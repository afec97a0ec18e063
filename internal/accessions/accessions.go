// Package accessions builds and serves the columnar store distilled
// from the SRA_Accessions.tab / DRA_Accessions.tab dumps. The store is
// the source of truth for intra-SRA relations and entity liveness.
package accessions

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// columns is the subset of the tab dump the pipeline keeps, in schema
// order. Header names match the dump's header row.
var columns = []string{
	"Accession", "Submission", "BioSample", "BioProject",
	"Study", "Experiment", "Sample",
	"Type", "Status", "Visibility",
	"Updated", "Published", "Received",
}

// Record is one row of the store. Empty string means NULL.
type Record struct {
	Accession  string
	Submission string
	BioSample  string
	BioProject string
	Study      string
	Experiment string
	Sample     string
	Type       string
	Status     string
	Visibility string
	Updated    string
	Published  string
	Received   string
}

// Store wraps the SQLite accessions database.
type Store struct {
	db *sql.DB
}

// Open opens an existing accessions store read-only.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("accessions store not found: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open accessions store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// BuildResult summarizes a completed build.
type BuildResult struct {
	Rows    int64
	Skipped int64 // malformed rows
}

// Build streams a tab dump into a fresh store at dbPath. The work
// happens in dbPath+".tmp", renamed over dbPath only on success. The
// dump's header row is mandatory; its column order is discovered from
// it. Values of "-" or "" become NULL.
func Build(ctx context.Context, dbPath, tabPath string, batchSize int) (*BuildResult, error) {
	if batchSize < 1 {
		batchSize = 10000
	}

	f, err := os.Open(tabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab dump: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read tab dump: %w", err)
		}
		return nil, fmt.Errorf("tab dump %s is empty, header row required", tabPath)
	}
	index, err := headerIndex(scanner.Text())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tabPath, err)
	}

	tmpPath := dbPath + ".tmp"
	os.Remove(tmpPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", tmpPath+"?_journal_mode=WAL&_synchronous=OFF")
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer db.Close()

	if err := createSchema(db); err != nil {
		return nil, err
	}

	res := &BuildResult{}
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	inTx := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			return nil, err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) <= index[0] {
			res.Skipped++
			continue
		}
		args := make([]interface{}, len(columns))
		bad := false
		for i, col := range index {
			if col >= len(fields) {
				// Trailing columns may be absent; only the accession
				// itself is mandatory.
				if i == 0 {
					bad = true
					break
				}
				args[i] = nil
				continue
			}
			args[i] = nullable(fields[col])
			if i == 0 && args[i] == nil {
				bad = true
				break
			}
		}
		if bad {
			res.Skipped++
			continue
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert row: %w", err)
		}
		res.Rows++
		inTx++
		if inTx >= batchSize {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit batch: %w", err)
			}
			tx, err = db.Begin()
			if err != nil {
				return nil, fmt.Errorf("failed to begin transaction: %w", err)
			}
			stmt, err = tx.Prepare(insertSQL())
			if err != nil {
				return nil, fmt.Errorf("failed to prepare insert: %w", err)
			}
			inTx = 0
		}
	}
	if err := scanner.Err(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to read tab dump: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit final batch: %w", err)
	}

	if err := createIndices(db); err != nil {
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("failed to close store: %w", err)
	}

	os.Remove(dbPath)
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return nil, fmt.Errorf("failed to publish store: %w", err)
	}
	return res, nil
}

// headerIndex maps our schema columns onto the dump's header positions.
func headerIndex(header string) ([]int, error) {
	names := strings.Split(strings.TrimRight(header, "\r"), "\t")
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	index := make([]int, len(columns))
	for i, col := range columns {
		p, ok := pos[col]
		if !ok {
			return nil, fmt.Errorf("header is missing column %s", col)
		}
		index[i] = p
	}
	return index, nil
}

func nullable(v string) interface{} {
	if v == "" || v == "-" {
		return nil
	}
	return v
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE records (
		accession  TEXT NOT NULL,
		submission TEXT,
		biosample  TEXT,
		bioproject TEXT,
		study      TEXT,
		experiment TEXT,
		sample     TEXT,
		type       TEXT,
		status     TEXT,
		visibility TEXT,
		updated    TEXT,
		published  TEXT,
		received   TEXT
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func createIndices(db *sql.DB) error {
	indices := []string{
		`CREATE INDEX idx_records_accession ON records(accession)`,
		`CREATE INDEX idx_records_submission ON records(submission)`,
		`CREATE INDEX idx_records_bioproject ON records(bioproject)`,
		`CREATE INDEX idx_records_biosample ON records(biosample)`,
	}
	for _, idx := range indices {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func insertSQL() string {
	return `INSERT INTO records (accession, submission, biosample, bioproject,
		study, experiment, sample, type, status, visibility,
		updated, published, received)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

const selectCols = `accession, submission, biosample, bioproject,
	study, experiment, sample, type, status, visibility,
	updated, published, received`

func scanRecord(rows *sql.Rows) (*Record, error) {
	var r Record
	fields := []*string{
		&r.Accession, &r.Submission, &r.BioSample, &r.BioProject,
		&r.Study, &r.Experiment, &r.Sample, &r.Type, &r.Status,
		&r.Visibility, &r.Updated, &r.Published, &r.Received,
	}
	dest := make([]interface{}, len(fields))
	nulls := make([]sql.NullString, len(fields))
	for i := range fields {
		dest[i] = &nulls[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	for i, f := range fields {
		if nulls[i].Valid {
			*f = nulls[i].String
		}
	}
	return &r, nil
}

// Get returns the record for one accession, or nil when absent.
func (s *Store) Get(acc string) (*Record, error) {
	rows, err := s.db.Query(`SELECT `+selectCols+` FROM records WHERE accession = ? LIMIT 1`, acc)
	if err != nil {
		return nil, fmt.Errorf("failed to query accession: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRecord(rows)
}

// TypeOf returns the entity type of an accession ("", nil when absent).
func (s *Store) TypeOf(acc string) (string, error) {
	var t sql.NullString
	err := s.db.QueryRow(`SELECT type FROM records WHERE accession = ? LIMIT 1`, acc).Scan(&t)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query type: %w", err)
	}
	return t.String, nil
}

// Downstream iterates every record belonging to a submission.
func (s *Store) Downstream(ctx context.Context, submission string, fn func(*Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM records WHERE submission = ?`, submission)
	if err != nil {
		return fmt.Errorf("failed to query submission: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// pairColumns whitelists the linkable columns for Pairs.
var pairColumns = map[string]bool{
	"submission": true,
	"biosample":  true,
	"bioproject": true,
	"study":      true,
	"experiment": true,
	"sample":     true,
}

// Pairs iterates (accession, column value) for every record of the
// given entity type whose column is non-NULL. The relation graph
// builder drains these into edges.
func (s *Store) Pairs(ctx context.Context, entityType, column string, fn func(acc, linked string) error) error {
	if !pairColumns[column] {
		return fmt.Errorf("column %s is not linkable", column)
	}
	query := fmt.Sprintf(
		`SELECT accession, %s FROM records WHERE type = ? AND %s IS NOT NULL`,
		column, column)
	rows, err := s.db.QueryContext(ctx, query, entityType)
	if err != nil {
		return fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var acc, linked string
		if err := rows.Scan(&acc, &linked); err != nil {
			return err
		}
		if err := fn(acc, linked); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpdatedSince iterates records of one entity type updated at or after
// the cutoff (lexicographic compare on the dump's timestamp format).
// An empty cutoff selects everything.
func (s *Store) UpdatedSince(ctx context.Context, entityType, cutoff string, fn func(*Record) error) error {
	query := `SELECT ` + selectCols + ` FROM records WHERE type = ?`
	args := []interface{}{entityType}
	if cutoff != "" {
		query += ` AND updated >= ?`
		args = append(args, cutoff)
	}
	query += ` ORDER BY accession`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query updated records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
