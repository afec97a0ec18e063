package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// testReporter satisfies the reporter interface without a log store.
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

// buildGraph finalizes the given edges into a read-only relation store.
func buildGraph(t *testing.T, edges []dblink.Edge) *dblink.Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "dblink.tmp.sqlite")
	finalPath := filepath.Join(dir, "dblink.sqlite")
	store, err := dblink.Init(tmpPath, filepath.Join(dir, "dblink.lock"))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	w := store.NewWriter(ctx)
	for _, e := range edges {
		if err := w.Add(ctx, e); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("writer close failed: %v", err)
	}
	if err := store.Finalize(ctx, finalPath, nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	final, err := dblink.Open(finalPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { final.Close() })
	return final
}

// fakeDateSource feeds a fixed row set into the date cache build.
type fakeDateSource struct {
	rows map[string]datecache.Dates
}

func (s *fakeDateSource) Name() string { return "fake" }

func (s *fakeDateSource) Rows(ctx context.Context, fn func(acc string, d datecache.Dates) error) error {
	for acc, d := range s.rows {
		if err := fn(acc, d); err != nil {
			return err
		}
	}
	return nil
}

func buildDates(t *testing.T, rows map[string]datecache.Dates) *datecache.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bp_bs_date.sqlite")
	if _, err := datecache.Build(context.Background(), path, &fakeDateSource{rows: rows}); err != nil {
		t.Fatalf("date cache build failed: %v", err)
	}
	cache, err := datecache.Open(path)
	if err != nil {
		t.Fatalf("date cache open failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func writeShard(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// readDocs parses every line of one output file into a generic map.
func readDocs(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()
	var docs []map[string]interface{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var doc map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			t.Fatalf("bad JSON line: %v", err)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return docs
}

func docByID(t *testing.T, docs []map[string]interface{}, id string) map[string]interface{} {
	t.Helper()
	for _, d := range docs {
		if d["identifier"] == id {
			return d
		}
	}
	t.Fatalf("no document with identifier %s", id)
	return nil
}

func emptyBlacklist() blacklist.Set { return blacklist.Set{} }
