package dblink

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/runlog"
)

// testReporter satisfies Reporter without touching the log store.
type testReporter struct {
	debugs   []string // categories
	errors   []string
	warnings []string
}

func (r *testReporter) Debug(category, msg string, fields ...runlog.Field) {
	r.debugs = append(r.debugs, category)
}
func (r *testReporter) Info(msg string, fields ...runlog.Field) {}
func (r *testReporter) Warning(msg string, fields ...runlog.Field) {
	r.warnings = append(r.warnings, msg)
}
func (r *testReporter) Error(msg string, err error, fields ...runlog.Field) {
	r.errors = append(r.errors, msg)
}

func setupTmpStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "dblink.tmp.sqlite")
	store, err := Init(tmpPath, filepath.Join(dir, "dblink.lock"))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return store, tmpPath, filepath.Join(dir, "dblink.sqlite")
}

func addAll(t *testing.T, store *Store, edges []Edge) {
	t.Helper()
	ctx := context.Background()
	w := store.NewWriter(ctx)
	for _, e := range edges {
		if err := w.Add(ctx, e); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("writer close failed: %v", err)
	}
}

func TestFinalizeCanonicalizesAndDedups(t *testing.T) {
	store, _, finalPath := setupTmpStore(t)
	ctx := context.Background()

	// The same undirected edge in both orientations, plus one more.
	addAll(t, store, []Edge{
		{accession.TypeBioSample, "SAMD1", accession.TypeBioProject, "PRJDB1"},
		{accession.TypeBioProject, "PRJDB1", accession.TypeBioSample, "SAMD1"},
		{accession.TypeBioProject, "PRJDB2", accession.TypeBioSample, "SAMD1"},
	})

	if err := store.Finalize(ctx, finalPath, nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	final, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer final.Close()

	n, err := final.Total()
	if err != nil {
		t.Fatalf("Total failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 canonical edges, got %d", n)
	}

	neighbors, err := final.Neighbors(ctx, accession.TypeBioSample, "SAMD1")
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %v", neighbors)
	}
	for _, ep := range neighbors {
		if ep.Type != accession.TypeBioProject {
			t.Errorf("unexpected neighbor %+v", ep)
		}
	}
}

func TestFinalizePrunesBlacklist(t *testing.T) {
	store, _, finalPath := setupTmpStore(t)
	ctx := context.Background()

	addAll(t, store, []Edge{
		{accession.TypeBioProject, "PRJDB1", accession.TypeBioSample, "SAMD1"},
		{accession.TypeBioProject, "PRJDB2", accession.TypeBioSample, "SAMD1"},
	})

	blacklists := map[string]blacklist.Set{
		"bioproject": {"PRJDB1": true},
	}
	if err := store.Finalize(ctx, finalPath, blacklists); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	final, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer final.Close()

	neighbors, err := final.Neighbors(ctx, accession.TypeBioSample, "SAMD1")
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Acc != "PRJDB2" {
		t.Errorf("expected only PRJDB2 to survive, got %v", neighbors)
	}
}

func TestWriterLockExcludesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "dblink.tmp.sqlite")
	lockPath := filepath.Join(dir, "dblink.lock")

	store, err := Init(tmpPath, lockPath)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer store.Close()

	if _, err := OpenWrite(tmpPath, lockPath); err == nil {
		t.Error("second writer must be rejected while the lock is held")
	}
}

func TestOpenWriteAfterClose(t *testing.T) {
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "dblink.tmp.sqlite")
	lockPath := filepath.Join(dir, "dblink.lock")

	store, err := Init(tmpPath, lockPath)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	again, err := OpenWrite(tmpPath, lockPath)
	if err != nil {
		t.Fatalf("reopen for append failed: %v", err)
	}
	addAll(t, again, []Edge{{accession.TypeBioProject, "PRJDB1", accession.TypeHumID, "hum0001"}})
	if err := again.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCounts(t *testing.T) {
	store, _, finalPath := setupTmpStore(t)
	ctx := context.Background()

	addAll(t, store, []Edge{
		{accession.TypeBioProject, "PRJDB1", accession.TypeBioSample, "SAMD1"},
		{accession.TypeBioProject, "PRJDB1", accession.TypeBioSample, "SAMD2"},
		{accession.TypeJGAStudy, "JGAS1", accession.TypeJGADataset, "JGAD1"},
	})
	if err := store.Finalize(ctx, finalPath, nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	final, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer final.Close()

	counts, err := final.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 pairs, got %v", counts)
	}
	if counts[0].SrcType != accession.TypeBioProject || counts[0].Count != 2 {
		t.Errorf("unexpected first pair %+v", counts[0])
	}
}

func TestDumpOrientationsSorted(t *testing.T) {
	store, _, finalPath := setupTmpStore(t)
	ctx := context.Background()

	addAll(t, store, []Edge{
		{accession.TypeBioSample, "SAMD2", accession.TypeBioProject, "PRJDB9"},
		{accession.TypeBioProject, "PRJDB1", accession.TypeBioSample, "SAMD1"},
		{accession.TypeJGAStudy, "JGAS1", accession.TypeJGADataset, "JGAD1"},
	})
	if err := store.Finalize(ctx, finalPath, nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	final, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer final.Close()

	outDir := filepath.Join(t.TempDir(), "dblink_files")
	if err := final.Dump(ctx, outDir); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	// All 16 orientations are published, empty pairs included.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read dump dir: %v", err)
	}
	if len(entries) != len(DumpOrientations) {
		t.Errorf("expected %d files, got %d", len(DumpOrientations), len(entries))
	}

	data, err := os.ReadFile(filepath.Join(outDir, "bioproject-biosample.tsv"))
	if err != nil {
		t.Fatalf("read tsv: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", string(data))
	}
	if !sort.StringsAreSorted(lines) {
		t.Errorf("tsv not sorted: %v", lines)
	}
	if lines[0] != "PRJDB1\tSAMD1" || lines[1] != "PRJDB9\tSAMD2" {
		t.Errorf("unexpected rows %v", lines)
	}

	jga, err := os.ReadFile(filepath.Join(outDir, "jga_study-jga_dataset.tsv"))
	if err != nil {
		t.Fatalf("read jga tsv: %v", err)
	}
	if strings.TrimSpace(string(jga)) != "JGAS1\tJGAD1" {
		t.Errorf("unexpected jga dump %q", string(jga))
	}
}
