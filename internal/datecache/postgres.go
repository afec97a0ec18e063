package datecache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// chunkSize is the keyset-pagination page for the upstream queries.
const chunkSize = 10000

// queryTimeout bounds each upstream request.
const queryTimeout = 600 * time.Second

// The upstream schema keeps submission timestamps in a summary table
// joined to the accessioned entity. Pagination is keyset on accession
// so the scan stays index-backed on tens of millions of rows.
const bioprojectQuery = `
	SELECT p.accession, s.create_date, s.modified_date, p.release_date
	FROM mass.project p
	JOIN mass.bioproject_summary s ON p.submission_id = s.submission_id
	WHERE p.accession IS NOT NULL AND p.accession > $1
	ORDER BY p.accession
	LIMIT $2`

const biosampleQuery = `
	SELECT s.accession_id, s.create_date, s.modified_date, s.release_date
	FROM mass.biosample_summary s
	WHERE s.accession_id IS NOT NULL AND s.accession_id > $1
	ORDER BY s.accession_id
	LIMIT $2`

// PostgresSource streams one family's dates from the upstream server.
type PostgresSource struct {
	url   string
	name  string
	query string
}

// NewBioProjectSource reads project dates from the bioproject database.
func NewBioProjectSource(url string) *PostgresSource {
	return &PostgresSource{url: url + "/bioproject", name: "bioproject", query: bioprojectQuery}
}

// NewBioSampleSource reads sample dates from the biosample database.
func NewBioSampleSource(url string) *PostgresSource {
	return &PostgresSource{url: url + "/biosample", name: "biosample", query: biosampleQuery}
}

func (s *PostgresSource) Name() string { return s.name }

// Ping verifies the source's database answers at all.
func (s *PostgresSource) Ping(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", s.name, err)
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}

// Rows pages through the upstream table. Connection failures surface as
// errors; the caller treats them as run-aborting.
func (s *PostgresSource) Rows(ctx context.Context, fn func(acc string, d Dates) error) error {
	conn, err := pgx.Connect(ctx, s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", s.name, err)
	}
	defer conn.Close(ctx)

	last := ""
	for {
		n, next, err := s.page(ctx, conn, last, fn)
		if err != nil {
			return err
		}
		if n < chunkSize {
			return nil
		}
		last = next
	}
}

func (s *PostgresSource) page(ctx context.Context, conn *pgx.Conn, last string,
	fn func(acc string, d Dates) error) (int, string, error) {

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn.Query(qctx, s.query, last, chunkSize)
	if err != nil {
		return 0, "", fmt.Errorf("failed to query %s dates: %w", s.name, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var acc string
		var created, modified, published *time.Time
		if err := rows.Scan(&acc, &created, &modified, &published); err != nil {
			return 0, "", fmt.Errorf("failed to scan %s dates: %w", s.name, err)
		}
		if err := fn(acc, Dates{
			Created:   formatTS(created),
			Modified:  formatTS(modified),
			Published: formatTS(published),
		}); err != nil {
			return 0, "", err
		}
		last = acc
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, "", fmt.Errorf("failed to read %s dates: %w", s.name, err)
	}
	return n, last, nil
}

func formatTS(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
