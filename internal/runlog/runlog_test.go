package runlog

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "log.sqlite"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestNewRunID(t *testing.T) {
	ts := time.Date(2026, 4, 1, 12, 30, 45, 0, time.UTC)
	id := NewRunID("generate_bp_jsonl", ts)
	if id != "generate_bp_jsonl_20260401123045" {
		t.Errorf("unexpected run id %q", id)
	}
}

func TestRunLifecycle(t *testing.T) {
	store, dir := setupTestStore(t)

	run, err := Start(store, filepath.Join(dir, "logs"), "init_dblink_db")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Info("creating tables")
	run.Warning("missing optional input", File("/data/missing.tsv"))
	run.Debug(CatInvalidBioProjectID, "rejected accession", Accession("PRJX1"))

	if err := run.Finish(nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	rec, err := store.Get(run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Errorf("expected SUCCESS, got %q", rec.Status)
	}
	if rec.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
	if rec.Counts["WARNING"] != 1 {
		t.Errorf("expected 1 WARNING, got %d", rec.Counts["WARNING"])
	}
	if rec.Categories[CatInvalidBioProjectID] != 1 {
		t.Errorf("expected 1 %s, got %d", CatInvalidBioProjectID, rec.Categories[CatInvalidBioProjectID])
	}
}

func TestRunStartsInProgress(t *testing.T) {
	store, dir := setupTestStore(t)

	run, err := Start(store, filepath.Join(dir, "logs"), "prepare_biosample_xml")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec, err := store.Get(run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %q", rec.Status)
	}
	if err := run.Finish(nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestCollidingRunIDsGetSuffixed(t *testing.T) {
	store, _ := setupTestStore(t)
	started := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	base := NewRunID("generate_bp_jsonl", started)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := store.insertRunUnique(base, "generate_bp_jsonl", started)
		if err != nil {
			t.Fatalf("insertRunUnique failed: %v", err)
		}
		if ids[id] {
			t.Fatalf("duplicate run id %q", id)
		}
		ids[id] = true
	}
	if !ids[base] || !ids[base+"_2"] || !ids[base+"_3"] {
		t.Errorf("unexpected id set %v", ids)
	}
}

func TestRunFailsOnCritical(t *testing.T) {
	store, dir := setupTestStore(t)

	run, err := Start(store, filepath.Join(dir, "logs"), "finalize_dblink_db")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stepErr := run.Critical("cannot open store", errors.New("disk full"))
	if stepErr == nil {
		t.Fatal("Critical must return an error")
	}
	if err := run.Finish(stepErr); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	rec, err := store.Get(run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Errorf("expected FAILED, got %q", rec.Status)
	}
}

func TestUnknownDebugCategoryBecomesWarning(t *testing.T) {
	store, dir := setupTestStore(t)

	run, err := Start(store, filepath.Join(dir, "logs"), "generate_bs_jsonl")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Debug("NOT_A_CATEGORY", "something")
	if err := run.Finish(nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	counts := run.Counts()
	if counts["DEBUG"] != 0 {
		t.Errorf("expected 0 DEBUG, got %d", counts["DEBUG"])
	}
	if counts["WARNING"] != 1 {
		t.Errorf("expected 1 WARNING, got %d", counts["WARNING"])
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store, dir := setupTestStore(t)
	logDir := filepath.Join(dir, "logs")

	for _, name := range []string{"generate_bp_jsonl", "generate_bs_jsonl", "generate_bp_jsonl"} {
		run, err := Start(store, logDir, name)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := run.Finish(nil); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
	}

	all, err := store.List("", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}

	bp, err := store.List("generate_bp_jsonl", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(bp) != 2 {
		t.Errorf("expected 2 bp runs, got %d", len(bp))
	}
	for _, rec := range bp {
		if rec.RunName != "generate_bp_jsonl" {
			t.Errorf("unexpected run name %q", rec.RunName)
		}
	}
}

func TestReadLogFiltersByLevel(t *testing.T) {
	store, dir := setupTestStore(t)
	logDir := filepath.Join(dir, "logs")

	run, err := Start(store, logDir, "build_sra_accessions_db")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Info("loading tab file", File("/data/SRA_Accessions.tab"))
	run.Error("shard failed", errors.New("short row"), File("/data/shard_0001"))
	run.Debug(CatInvalidAccessionID, "rejected", Accession("XXX1"))
	if err := run.Finish(nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	errs, err := ReadLog(logDir, run.ID, "ERROR")
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR entry, got %d", len(errs))
	}
	if errs[0].Error == "" || !strings.Contains(errs[0].Error, "short row") {
		t.Errorf("expected error cause in record, got %q", errs[0].Error)
	}
	if errs[0].File != "/data/shard_0001" {
		t.Errorf("expected file field, got %q", errs[0].File)
	}

	all, err := ReadLog(logDir, run.ID, "")
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	var sawDebug bool
	for _, e := range all {
		if e.RunID != run.ID {
			t.Errorf("entry with wrong run_id %q", e.RunID)
		}
		if e.Level == "DEBUG" {
			sawDebug = true
			if e.DebugCategory != CatInvalidAccessionID {
				t.Errorf("expected debug_category, got %q", e.DebugCategory)
			}
		}
	}
	if !sawDebug {
		t.Error("expected a DEBUG entry in the full read")
	}
}

func TestReadLogUnknownLevel(t *testing.T) {
	if _, err := ReadLog(t.TempDir(), "x", "LOUD"); err == nil {
		t.Error("expected error for unknown level")
	}
}
