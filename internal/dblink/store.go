package dblink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
)

// serializerBatch is the number of edges per insert transaction.
const serializerBatch = 50000

// Store wraps the relation SQLite database. A writable store holds an
// exclusive file lock so extractors can never race each other.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Init creates a fresh temporary store at path, discarding any previous
// build, and takes the writer lock at lockPath.
func Init(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	lock, err := acquire(lockPath)
	if err != nil {
		return nil, err
	}
	os.Remove(path)
	s, err := openWrite(path, lock)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	schema := `
	CREATE TABLE relation (
		src_type TEXT NOT NULL,
		src_acc  TEXT NOT NULL,
		dst_type TEXT NOT NULL,
		dst_acc  TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create relation schema: %w", err)
	}
	return s, nil
}

// OpenWrite opens an existing temporary store for appending, taking the
// writer lock.
func OpenWrite(path, lockPath string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("relation store not found (run init first): %w", err)
	}
	lock, err := acquire(lockPath)
	if err != nil {
		return nil, err
	}
	s, err := openWrite(path, lock)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return s, nil
}

func acquire(lockPath string) (*flock.Flock, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to take relation store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("relation store is locked by another writer (%s)", lockPath)
	}
	return lock, nil
}

func openWrite(path string, lock *flock.Flock) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=OFF&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open relation store: %w", err)
	}
	return &Store{db: db, path: path, lock: lock}, nil
}

// Open opens a finalized store read-only. No lock is taken; readers are
// unrestricted once the store is published.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("relation store not found: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open relation store: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database and releases the writer lock if held.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); err == nil {
			err = uerr
		}
		s.lock = nil
	}
	return err
}

// Writer drains edges from extractor workers into the store in large
// transactions. It is the single writing goroutine; Add may be called
// from any number of workers.
type Writer struct {
	ch   chan Edge
	done chan struct{}
	err  error
	n    int64
}

// NewWriter starts the serializer goroutine.
func (s *Store) NewWriter(ctx context.Context) *Writer {
	w := &Writer{
		ch:   make(chan Edge, 4096),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		w.err = s.drain(ctx, w)
	}()
	return w
}

func (s *Store) drain(ctx context.Context, w *Writer) error {
	var (
		tx   *sql.Tx
		stmt *sql.Stmt
		inTx int
	)
	begin := func() error {
		var err error
		tx, err = s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		stmt, err = tx.Prepare(`INSERT INTO relation (src_type, src_acc, dst_type, dst_acc) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		inTx = 0
		return nil
	}
	if err := begin(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			tx.Rollback()
			return ctx.Err()
		case e, ok := <-w.ch:
			if !ok {
				if err := tx.Commit(); err != nil {
					return fmt.Errorf("failed to commit final batch: %w", err)
				}
				return nil
			}
			if _, err := stmt.Exec(string(e.SrcType), e.SrcAcc, string(e.DstType), e.DstAcc); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert edge: %w", err)
			}
			w.n++
			inTx++
			if inTx >= serializerBatch {
				if err := tx.Commit(); err != nil {
					return fmt.Errorf("failed to commit batch: %w", err)
				}
				if err := begin(); err != nil {
					return err
				}
			}
		}
	}
}

// Add hands an edge to the serializer. It blocks when the channel is
// full and fails fast once the serializer has died.
func (w *Writer) Add(ctx context.Context, e Edge) error {
	select {
	case w.ch <- e:
		return nil
	case <-w.done:
		if w.err != nil {
			return w.err
		}
		return fmt.Errorf("edge writer already closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the serializer and waits for the drain to finish.
func (w *Writer) Close() (int64, error) {
	close(w.ch)
	<-w.done
	return w.n, w.err
}

// familyOf maps an accession type onto its blacklist family, or "".
func familyOf(t accession.Type) string {
	switch t {
	case accession.TypeBioProject, accession.TypeUmbrellaBioProject:
		return "bioproject"
	case accession.TypeBioSample:
		return "biosample"
	case accession.TypeSRASubmission, accession.TypeSRAStudy, accession.TypeSRAExperiment,
		accession.TypeSRARun, accession.TypeSRASample, accession.TypeSRAAnalysis:
		return "sra"
	case accession.TypeJGAStudy, accession.TypeJGADataset, accession.TypeJGADAC, accession.TypeJGAPolicy:
		return "jga"
	}
	return ""
}

// Finalize canonicalizes every edge, prunes blacklisted endpoints,
// deduplicates, builds the secondary indices, and publishes the store
// by renaming it to finalPath. The store is closed afterwards.
func (s *Store) Finalize(ctx context.Context, finalPath string, blacklists map[string]blacklist.Set) error {
	if s.lock == nil {
		return fmt.Errorf("finalize requires a writable store")
	}

	if err := s.createRankTable(ctx); err != nil {
		return err
	}

	// Canonical orientation and dedup in one scan. The rank table turns
	// the type ordinal into something SQL can compare.
	canonical := `
	CREATE TABLE relation_canonical AS
	SELECT DISTINCT
		CASE WHEN sr.rank > dr.rank OR (sr.rank = dr.rank AND r.src_acc > r.dst_acc)
			THEN r.dst_type ELSE r.src_type END AS src_type,
		CASE WHEN sr.rank > dr.rank OR (sr.rank = dr.rank AND r.src_acc > r.dst_acc)
			THEN r.dst_acc ELSE r.src_acc END AS src_acc,
		CASE WHEN sr.rank > dr.rank OR (sr.rank = dr.rank AND r.src_acc > r.dst_acc)
			THEN r.src_type ELSE r.dst_type END AS dst_type,
		CASE WHEN sr.rank > dr.rank OR (sr.rank = dr.rank AND r.src_acc > r.dst_acc)
			THEN r.src_acc ELSE r.dst_acc END AS dst_acc
	FROM relation r
	JOIN type_rank sr ON r.src_type = sr.type
	JOIN type_rank dr ON r.dst_type = dr.type;`
	if _, err := s.db.ExecContext(ctx, canonical); err != nil {
		return fmt.Errorf("failed to canonicalize relations: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE relation`); err != nil {
		return fmt.Errorf("failed to drop staging table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE relation_canonical RENAME TO relation`); err != nil {
		return fmt.Errorf("failed to rename canonical table: %w", err)
	}

	if err := s.prune(ctx, blacklists); err != nil {
		return err
	}

	indices := []string{
		`CREATE UNIQUE INDEX idx_relation_canonical ON relation(src_type, src_acc, dst_type, dst_acc)`,
		`CREATE INDEX idx_relation_src ON relation(src_type, src_acc)`,
		`CREATE INDEX idx_relation_dst ON relation(dst_type, dst_acc)`,
	}
	for _, idx := range indices {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE type_rank`); err != nil {
		return fmt.Errorf("failed to drop rank table: %w", err)
	}

	tmpPath := s.path
	lock := s.lock
	s.lock = nil
	if err := s.db.Close(); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to close store: %w", err)
	}
	os.Remove(finalPath)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to publish relation store: %w", err)
	}
	return lock.Unlock()
}

func (s *Store) createRankTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS type_rank`); err != nil {
		return fmt.Errorf("failed to reset rank table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE type_rank (type TEXT PRIMARY KEY, rank INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create rank table: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rank load: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO type_rank (type, rank) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare rank insert: %w", err)
	}
	for _, t := range accession.AllTypes {
		if _, err := stmt.Exec(string(t), t.Ordinal()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert rank: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rank load: %w", err)
	}
	return nil
}

// prune removes every edge touching a blacklisted accession of the
// matching family. Blacklists are small relative to the edge count, so
// deletion is per-entry against the typed columns.
func (s *Store) prune(ctx context.Context, blacklists map[string]blacklist.Set) error {
	for family, set := range blacklists {
		types := typesOfFamily(family)
		if len(types) == 0 {
			continue
		}
		for acc := range set {
			for _, t := range types {
				_, err := s.db.ExecContext(ctx,
					`DELETE FROM relation
					 WHERE (src_type = ? AND src_acc = ?) OR (dst_type = ? AND dst_acc = ?)`,
					string(t), acc, string(t), acc)
				if err != nil {
					return fmt.Errorf("failed to prune blacklisted %s: %w", acc, err)
				}
			}
		}
	}
	return nil
}

func typesOfFamily(family string) []accession.Type {
	var out []accession.Type
	for _, t := range accession.AllTypes {
		if familyOf(t) == family {
			out = append(out, t)
		}
	}
	return out
}

// Neighbors returns every accession linked to (t, acc), regardless of
// which side of the canonical edge it sits on.
func (s *Store) Neighbors(ctx context.Context, t accession.Type, acc string) ([]Endpoint, error) {
	query := `
	SELECT dst_type, dst_acc FROM relation WHERE src_type = ? AND src_acc = ?
	UNION ALL
	SELECT src_type, src_acc FROM relation WHERE dst_type = ? AND dst_acc = ?
	ORDER BY 1, 2`
	rows, err := s.db.QueryContext(ctx, query, string(t), acc, string(t), acc)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()
	var out []Endpoint
	for rows.Next() {
		var typ, a string
		if err := rows.Scan(&typ, &a); err != nil {
			return nil, err
		}
		out = append(out, Endpoint{Type: accession.Type(typ), Acc: a})
	}
	return out, rows.Err()
}

// PairCount is the edge count of one (src_type, dst_type) combination
// in canonical orientation.
type PairCount struct {
	SrcType accession.Type
	DstType accession.Type
	Count   int64
}

// Counts returns per-type-pair edge counts, largest first.
func (s *Store) Counts(ctx context.Context) ([]PairCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT src_type, dst_type, COUNT(*)
		FROM relation
		GROUP BY src_type, dst_type
		ORDER BY COUNT(*) DESC, src_type, dst_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count relations: %w", err)
	}
	defer rows.Close()
	var out []PairCount
	for rows.Next() {
		var c PairCount
		var src, dst string
		if err := rows.Scan(&src, &dst, &c.Count); err != nil {
			return nil, err
		}
		c.SrcType, c.DstType = accession.Type(src), accession.Type(dst)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Total returns the number of stored edges.
func (s *Store) Total() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM relation`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return n, nil
}
