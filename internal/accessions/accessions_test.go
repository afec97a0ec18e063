package accessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const tabHeader = "Accession\tSubmission\tStatus\tUpdated\tPublished\tReceived\tType\tCenter\tVisibility\tAlias\tExperiment\tSample\tStudy\tLoaded\tSpots\tBases\tMd5sum\tBioSample\tBioProject\tReplacedBy"

func row(fields ...string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += "\t"
		}
		out += f
	}
	return out
}

func buildTestStore(t *testing.T, lines []string) *Store {
	t.Helper()
	dir := t.TempDir()
	tabPath := filepath.Join(dir, "SRA_Accessions.tab")
	content := tabHeader + "\n"
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(tabPath, []byte(content), 0644); err != nil {
		t.Fatalf("write tab: %v", err)
	}
	dbPath := filepath.Join(dir, "sra_accessions.sqlite")
	if _, err := Build(context.Background(), dbPath, tabPath, 2); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var testRows = []string{
	row("DRA000001", "DRA000001", "live", "2024-01-02", "2024-01-03", "2024-01-01", "SUBMISSION", "DDBJ", "public", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-"),
	row("DRP000001", "DRA000001", "live", "2024-01-02", "2024-01-03", "2024-01-01", "STUDY", "DDBJ", "public", "-", "-", "-", "-", "-", "-", "-", "-", "-", "PRJDB1", "-"),
	row("DRX000001", "DRA000001", "live", "2024-02-02", "2024-02-03", "2024-02-01", "EXPERIMENT", "DDBJ", "public", "-", "-", "DRS000001", "DRP000001", "-", "-", "-", "-", "SAMD00000001", "PRJDB1", "-"),
	row("DRR000001", "DRA000001", "live", "2024-02-02", "2024-02-03", "2024-02-01", "RUN", "DDBJ", "public", "-", "DRX000001", "DRS000001", "-", "-", "-", "-", "-", "SAMD00000001", "-", "-"),
	row("DRS000001", "DRA000001", "suppressed", "2024-01-05", "", "2024-01-01", "SAMPLE", "DDBJ", "public", "-", "-", "-", "-", "-", "-", "-", "-", "SAMD00000001", "-", "-"),
}

func TestBuildAndGet(t *testing.T) {
	store := buildTestStore(t, testRows)

	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 records, got %d", n)
	}

	rec, err := store.Get("DRX000001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record for DRX000001")
	}
	if rec.Type != "EXPERIMENT" || rec.Study != "DRP000001" || rec.BioProject != "PRJDB1" {
		t.Errorf("unexpected record %+v", rec)
	}

	// "-" and empty become NULL, read back as "".
	sample, err := store.Get("DRS000001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sample.Published != "" || sample.Experiment != "" {
		t.Errorf("expected empty fields for NULLs, got %+v", sample)
	}

	missing, err := store.Get("DRX999999")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for absent accession")
	}
}

func TestBuildSkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	tabPath := filepath.Join(dir, "tab")
	content := tabHeader + "\n" +
		row("-", "DRA000002", "live", "-", "-", "-", "RUN", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-", "-") + "\n" +
		testRows[0] + "\n"
	if err := os.WriteFile(tabPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "db.sqlite")
	res, err := Build(context.Background(), dbPath, tabPath, 100)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Rows != 1 || res.Skipped != 1 {
		t.Errorf("expected 1 row and 1 skipped, got %+v", res)
	}
}

func TestBuildRequiresHeader(t *testing.T) {
	dir := t.TempDir()
	tabPath := filepath.Join(dir, "tab")
	if err := os.WriteFile(tabPath, []byte(testRows[0]+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), filepath.Join(dir, "db.sqlite"), tabPath, 100); err == nil {
		t.Error("expected error when header row is missing")
	}
}

func TestTypeOf(t *testing.T) {
	store := buildTestStore(t, testRows)
	typ, err := store.TypeOf("DRR000001")
	if err != nil {
		t.Fatalf("TypeOf failed: %v", err)
	}
	if typ != "RUN" {
		t.Errorf("expected RUN, got %q", typ)
	}
	typ, err = store.TypeOf("DRR999999")
	if err != nil {
		t.Fatalf("TypeOf failed: %v", err)
	}
	if typ != "" {
		t.Errorf("expected empty type for absent accession, got %q", typ)
	}
}

func TestDownstream(t *testing.T) {
	store := buildTestStore(t, testRows)
	var got []string
	err := store.Downstream(context.Background(), "DRA000001", func(r *Record) error {
		got = append(got, r.Accession)
		return nil
	})
	if err != nil {
		t.Fatalf("Downstream failed: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 downstream records, got %d: %v", len(got), got)
	}
}

func TestPairs(t *testing.T) {
	store := buildTestStore(t, testRows)

	var pairs [][2]string
	err := store.Pairs(context.Background(), "EXPERIMENT", "biosample", func(acc, linked string) error {
		pairs = append(pairs, [2]string{acc, linked})
		return nil
	})
	if err != nil {
		t.Fatalf("Pairs failed: %v", err)
	}
	if len(pairs) != 1 || pairs[0] != [2]string{"DRX000001", "SAMD00000001"} {
		t.Errorf("unexpected pairs %v", pairs)
	}

	// NULL columns are filtered out.
	var n int
	err = store.Pairs(context.Background(), "SUBMISSION", "bioproject", func(acc, linked string) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("Pairs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no submission-bioproject pairs, got %d", n)
	}

	if err := store.Pairs(context.Background(), "RUN", "status", nil); err == nil {
		t.Error("expected error for non-linkable column")
	}
}

func TestUpdatedSince(t *testing.T) {
	store := buildTestStore(t, testRows)

	var got []string
	err := store.UpdatedSince(context.Background(), "EXPERIMENT", "2024-02-01", func(r *Record) error {
		got = append(got, r.Accession)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdatedSince failed: %v", err)
	}
	if len(got) != 1 || got[0] != "DRX000001" {
		t.Errorf("unexpected result %v", got)
	}

	var all []string
	err = store.UpdatedSince(context.Background(), "STUDY", "", func(r *Record) error {
		all = append(all, r.Accession)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdatedSince failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 study, got %v", all)
	}
}
