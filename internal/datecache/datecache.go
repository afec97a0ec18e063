// Package datecache snapshots the authoritative BioProject/BioSample
// timestamps from PostgreSQL into a local SQLite file once per run.
// During JSONL emission the snapshot overrides any date derivable from
// the XML.
package datecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Dates are the three timestamps tracked per accession. Empty string
// means unknown.
type Dates struct {
	Created   string
	Modified  string
	Published string
}

// Source streams (accession, dates) rows from an upstream database.
type Source interface {
	// Name labels the source in logs.
	Name() string
	// Rows calls fn for every row, ordered by accession.
	Rows(ctx context.Context, fn func(acc string, d Dates) error) error
}

// Build materializes the snapshot at dbPath from the given sources. The
// build happens in dbPath+".tmp" and is renamed on success. A freshness
// stamp is recorded so emitters can reject a stale cache.
func Build(ctx context.Context, dbPath string, sources ...Source) (int64, error) {
	tmpPath := dbPath + ".tmp"
	os.Remove(tmpPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", tmpPath+"?_journal_mode=WAL&_synchronous=OFF")
	if err != nil {
		return 0, fmt.Errorf("failed to create date cache: %w", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE date (
		accession      TEXT PRIMARY KEY,
		date_created   TEXT,
		date_modified  TEXT,
		date_published TEXT
	);
	CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`
	if _, err := db.Exec(schema); err != nil {
		return 0, fmt.Errorf("failed to create cache schema: %w", err)
	}

	var total int64
	for _, src := range sources {
		n, err := loadSource(ctx, db, src)
		if err != nil {
			return 0, fmt.Errorf("date source %s failed: %w", src.Name(), err)
		}
		total += n
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('built_at', ?)`, stamp); err != nil {
		return 0, fmt.Errorf("failed to stamp cache: %w", err)
	}
	if err := db.Close(); err != nil {
		return 0, fmt.Errorf("failed to close cache: %w", err)
	}

	os.Remove(dbPath)
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return 0, fmt.Errorf("failed to publish date cache: %w", err)
	}
	return total, nil
}

func loadSource(ctx context.Context, db *sql.DB, src Source) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO date
		(accession, date_created, date_modified, date_published)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}

	var n int64
	err = src.Rows(ctx, func(acc string, d Dates) error {
		if acc == "" {
			return nil
		}
		if _, err := stmt.Exec(acc, orNil(d.Created), orNil(d.Modified), orNil(d.Published)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

func orNil(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// Cache is a read-only handle on a published snapshot.
type Cache struct {
	db *sql.DB
}

// Open opens the snapshot read-only.
func Open(path string) (*Cache, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("date cache not found: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open date cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Lookup returns the snapshot dates for an accession, or nil.
func (c *Cache) Lookup(acc string) (*Dates, error) {
	var created, modified, published sql.NullString
	err := c.db.QueryRow(
		`SELECT date_created, date_modified, date_published FROM date WHERE accession = ?`,
		acc).Scan(&created, &modified, &published)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query date cache: %w", err)
	}
	return &Dates{
		Created:   created.String,
		Modified:  modified.String,
		Published: published.String,
	}, nil
}

// BuiltAt returns the freshness stamp recorded at build time.
func (c *Cache) BuiltAt() (time.Time, error) {
	var v string
	err := c.db.QueryRow(`SELECT value FROM meta WHERE key = 'built_at'`).Scan(&v)
	if err != nil {
		return time.Time{}, fmt.Errorf("date cache has no freshness stamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad freshness stamp %q: %w", v, err)
	}
	return t, nil
}

// CheckFresh fails when the snapshot predates the given run day.
// Emitters call this before starting.
func (c *Cache) CheckFresh(day time.Time) error {
	built, err := c.BuiltAt()
	if err != nil {
		return err
	}
	if built.Before(day) {
		return fmt.Errorf("date cache built %s is older than run date %s, rebuild it first",
			built.Format(time.RFC3339), day.Format("20060102"))
	}
	return nil
}

// Count returns the number of cached accessions.
func (c *Cache) Count() (int64, error) {
	var n int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM date`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count date cache: %w", err)
	}
	return n, nil
}
