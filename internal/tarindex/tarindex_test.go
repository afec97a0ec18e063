package tarindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSource(t *testing.T, srcDir, rel, content string) {
	t.Helper()
	path := filepath.Join(srcDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncAndRead(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "DRA000001/DRA000001.experiment.xml", "<EXPERIMENT_SET/>")
	writeSource(t, srcDir, "DRA000001/DRA000001.run.xml", "<RUN_SET/>")
	writeSource(t, srcDir, "DRA000002/DRA000002.study.xml", "<STUDY_SET/>")

	tarPath := filepath.Join(t.TempDir(), "DRA_Metadata.tar")
	added, err := Sync(tarPath, srcDir)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if added != 3 {
		t.Errorf("expected 3 appended files, got %d", added)
	}

	r, err := OpenReader(tarPath)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	names := r.Names("DRA000001/")
	if len(names) != 2 {
		t.Fatalf("expected 2 entries under DRA000001/, got %v", names)
	}
	data, err := r.Read("DRA000001/DRA000001.run.xml")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "<RUN_SET/>" {
		t.Errorf("unexpected content %q", string(data))
	}
	if _, err := r.Read("DRA000009/missing.xml"); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestSyncAppendsOnlyNewFiles(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "DRA000001/DRA000001.study.xml", "<STUDY_SET/>")

	tarPath := filepath.Join(t.TempDir(), "DRA_Metadata.tar")
	if _, err := Sync(tarPath, srcDir); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}

	// Backdate the first file so only the new one counts as fresh.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(srcDir, "DRA000001/DRA000001.study.xml"), old, old); err != nil {
		t.Fatal(err)
	}
	writeSource(t, srcDir, "DRA000003/DRA000003.study.xml", "<STUDY_SET/>")

	added, err := Sync(tarPath, srcDir)
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if added != 1 {
		t.Errorf("expected 1 appended file, got %d", added)
	}

	r, err := OpenReader(tarPath)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()
	if _, err := r.Read("DRA000003/DRA000003.study.xml"); err != nil {
		t.Errorf("new entry unreadable: %v", err)
	}
	if _, err := r.Read("DRA000001/DRA000001.study.xml"); err != nil {
		t.Errorf("original entry unreadable after append: %v", err)
	}
}

func TestSyncEmptySource(t *testing.T) {
	tarPath := filepath.Join(t.TempDir(), "NCBI_SRA_Metadata.tar")
	added, err := Sync(tarPath, t.TempDir())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if added != 0 {
		t.Errorf("expected 0 appended files, got %d", added)
	}
	// The sidecar exists with a stamp even when nothing was archived.
	ix, err := Load(IndexPath(tarPath))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ix.SyncedAt == "" {
		t.Error("expected a synced_at stamp")
	}
}

func TestIndexOffsetsMatchArchive(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "DRA000001/a.xml", "alpha")
	writeSource(t, srcDir, "DRA000001/b.xml", "bravo-longer-content")

	tarPath := filepath.Join(t.TempDir(), "x.tar")
	if _, err := Sync(tarPath, srcDir); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	ix, err := BuildIndex(tarPath)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	raw, err := os.ReadFile(tarPath)
	if err != nil {
		t.Fatal(err)
	}
	for name, e := range ix.Entries {
		got := string(raw[e.Offset : e.Offset+e.Size])
		want := "alpha"
		if filepath.Base(name) == "b.xml" {
			want = "bravo-longer-content"
		}
		if got != want {
			t.Errorf("%s: offset read %q, want %q", name, got, want)
		}
	}
}
