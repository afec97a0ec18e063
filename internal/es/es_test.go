package es

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ddbj/search-converter/internal/runlog"
)

type testReporter struct {
	errors   []string
	warnings []string
}

func (r *testReporter) Debug(category, msg string, fields ...runlog.Field) {}
func (r *testReporter) Info(msg string, fields ...runlog.Field)            {}
func (r *testReporter) Warning(msg string, fields ...runlog.Field) {
	r.warnings = append(r.warnings, msg)
}
func (r *testReporter) Error(msg string, err error, fields ...runlog.Field) {
	r.errors = append(r.errors, msg)
}

func testClient(url string) *Client {
	c := New(url)
	c.retryInitial = time.Millisecond
	return c
}

// bulkOK answers a bulk request with a success item per action line.
func bulkOK(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	var items []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		var action map[string]map[string]string
		if err := json.Unmarshal([]byte(line), &action); err != nil {
			continue
		}
		if meta, ok := action["index"]; ok {
			items = append(items, map[string]interface{}{
				"index": map[string]interface{}{"_id": meta["_id"], "status": 201},
			})
		}
		if meta, ok := action["delete"]; ok {
			status := 200
			if meta["_id"] == "GONE1" {
				status = 404
			}
			items = append(items, map[string]interface{}{
				"delete": map[string]interface{}{"_id": meta["_id"], "status": status},
			})
		}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"errors": false, "items": items})
}

func writeShardFile(t *testing.T, dir, name string, ids []string) string {
	t.Helper()
	lines := ""
	for _, id := range ids {
		lines += fmt.Sprintf(`{"identifier":%q,"title":"doc %s"}`+"\n", id, id)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBulkImportFile(t *testing.T) {
	var gotPath string
	var gotLines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotLines = strings.Split(strings.TrimSpace(string(body)), "\n")
		bulkOK(t, w, string(body))
	}))
	defer srv.Close()

	rep := &testReporter{}
	path := writeShardFile(t, t.TempDir(), "ddbj_bioproject_0001.jsonl",
		[]string{"PRJDB1", "PRJDB2"})
	res, err := testClient(srv.URL).BulkImportFile(context.Background(), rep, "bioproject", path)
	if err != nil {
		t.Fatalf("BulkImportFile failed: %v", err)
	}
	if res.Indexed != 2 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotPath != "/_bulk" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if len(gotLines) != 4 {
		t.Fatalf("expected 4 ndjson lines, got %d", len(gotLines))
	}
	var action map[string]map[string]string
	if err := json.Unmarshal([]byte(gotLines[0]), &action); err != nil {
		t.Fatal(err)
	}
	if action["index"]["_index"] != "bioproject" || action["index"]["_id"] != "PRJDB1" {
		t.Errorf("unexpected action %v", action)
	}
}

func TestBulkImportRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		bulkOK(t, w, string(body))
	}))
	defer srv.Close()

	rep := &testReporter{}
	path := writeShardFile(t, t.TempDir(), "ddbj_bioproject_0001.jsonl", []string{"PRJDB1"})
	res, err := testClient(srv.URL).BulkImportFile(context.Background(), rep, "bioproject", path)
	if err != nil {
		t.Fatalf("BulkImportFile failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if res.Indexed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBulkImportMalformedLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bulkOK(t, w, string(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "ddbj_bioproject_0001.jsonl")
	content := `{"identifier":"PRJDB1"}` + "\n" + `{"title":"no identifier"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rep := &testReporter{}
	res, err := testClient(srv.URL).BulkImportFile(context.Background(), rep, "bioproject", path)
	if err != nil {
		t.Fatalf("BulkImportFile failed: %v", err)
	}
	if res.Indexed != 1 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(rep.errors) != 1 {
		t.Errorf("expected 1 logged error, got %v", rep.errors)
	}
}

func TestBulkImportGlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bulkOK(t, w, string(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeShardFile(t, dir, "ddbj_bioproject_0001.jsonl", []string{"PRJDB1"})
	writeShardFile(t, dir, "dra_sra-run_0001.jsonl", []string{"DRR000001"})

	rep := &testReporter{}
	res, err := testClient(srv.URL).BulkImportGlob(context.Background(), rep, filepath.Join(dir, "*.jsonl"))
	if err != nil {
		t.Fatalf("BulkImportGlob failed: %v", err)
	}
	if res.Indexed != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDeleteDocumentsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bulkOK(t, w, string(body))
	}))
	defer srv.Close()

	rep := &testReporter{}
	res, err := testClient(srv.URL).DeleteDocuments(context.Background(), rep, "bioproject",
		[]string{"PRJDB1", "GONE1"})
	if err != nil {
		t.Fatalf("DeleteDocuments failed: %v", err)
	}
	if res.Deleted != 1 || res.NotFound != 1 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCreateIndexAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"resource_already_exists_exception"}}`)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).CreateIndex(context.Background(), "bioproject"); err != nil {
		t.Errorf("expected existing index to be tolerated, got %v", err)
	}
}

func TestDeleteIndexMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	found, err := testClient(srv.URL).DeleteIndex(context.Background(), "bioproject")
	if err != nil {
		t.Fatalf("DeleteIndex failed: %v", err)
	}
	if found {
		t.Error("expected found=false for a missing index")
	}
}

func TestListIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"index":"biosample","health":"green","docs.count":"10"},{"index":"bioproject","health":"green","docs.count":"5"}]`)
	}))
	defer srv.Close()

	infos, err := testClient(srv.URL).ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("ListIndexes failed: %v", err)
	}
	if len(infos) != 2 || infos[0].Index != "bioproject" {
		t.Errorf("unexpected listing %v", infos)
	}
}

func TestIndexFromFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ddbj_bioproject_0001.jsonl", "bioproject", true},
		{"dra_sra-run_0012.jsonl", "sra-run", true},
		{"jga_jga-study_0001.jsonl", "jga-study", true},
		{"noparts.jsonl", "", false},
	}
	for _, c := range cases {
		got, err := IndexFromFilename(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("IndexFromFilename(%q) = (%q, %v), want %q", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("IndexFromFilename(%q) expected error", c.in)
		}
	}
}
