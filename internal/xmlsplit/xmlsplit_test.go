package xmlsplit

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<PackageSet>
<Package>
  <Project accession="PRJNA1"/>
</Package>
<Package>
  <Project accession="PRJNA2"/>
</Package>
<Package>
  <Project accession="PRJNA3"/>
</Package>
</PackageSet>
`

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if strings.HasSuffix(name, ".gz") {
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create input: %v", err)
		}
		gz := gzip.NewWriter(f)
		if _, err := gz.Write([]byte(content)); err != nil {
			t.Fatalf("write input: %v", err)
		}
		if err := gz.Close(); err != nil {
			t.Fatalf("close gzip: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close input: %v", err)
		}
		return path
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func shardFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read shard dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSplitBatches(t *testing.T) {
	input := writeInput(t, "bioproject.xml", sampleXML)
	outDir := filepath.Join(t.TempDir(), "shards")

	res, err := Split(context.Background(), Options{
		InputPath: input,
		Tag:       "Package",
		BatchSize: 2,
		OutDir:    outDir,
		Prefix:    "ncbi_bioproject",
	})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if res.Records != 3 {
		t.Errorf("expected 3 records, got %d", res.Records)
	}
	if res.Shards != 2 {
		t.Errorf("expected 2 shards, got %d", res.Shards)
	}

	names := shardFiles(t, outDir)
	want := []string{"ncbi_bioproject_0001.xml", "ncbi_bioproject_0002.xml"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("unexpected shard names %v", names)
	}

	// Each shard keeps the wrapper, so it parses as a standalone dump.
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			t.Fatalf("read shard: %v", err)
		}
		s := string(data)
		if !strings.HasPrefix(s, "<?xml") {
			t.Errorf("%s: missing declaration", name)
		}
		if !strings.Contains(s, "<PackageSet>") || !strings.Contains(s, "</PackageSet>") {
			t.Errorf("%s: missing wrapper", name)
		}
	}

	first, _ := os.ReadFile(filepath.Join(outDir, names[0]))
	if got := strings.Count(string(first), "<Package>"); got != 2 {
		t.Errorf("first shard: expected 2 records, got %d", got)
	}
	second, _ := os.ReadFile(filepath.Join(outDir, names[1]))
	if got := strings.Count(string(second), "<Package>"); got != 1 {
		t.Errorf("second shard: expected 1 record, got %d", got)
	}
	if strings.Contains(string(second), "PRJNA1") {
		t.Error("records leaked across shards")
	}
}

func TestSplitGzipInput(t *testing.T) {
	input := writeInput(t, "bioproject.xml.gz", sampleXML)
	outDir := filepath.Join(t.TempDir(), "shards")

	res, err := Split(context.Background(), Options{
		InputPath: input,
		Tag:       "Package",
		BatchSize: 10,
		OutDir:    outDir,
		Prefix:    "ncbi_bioproject",
	})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if res.Records != 3 || res.Shards != 1 {
		t.Errorf("got %d records in %d shards", res.Records, res.Shards)
	}
}

func TestSplitTagPrefixNotConfused(t *testing.T) {
	// <BioSampleSet> must not be taken for a <BioSample> record start.
	xml := `<BioSampleSet>
<BioSample accession="SAMD1">
  <Title>a</Title>
</BioSample>
<BioSample accession="SAMD2"/>
</BioSampleSet>
`
	input := writeInput(t, "biosample.xml", xml)
	outDir := filepath.Join(t.TempDir(), "shards")

	res, err := Split(context.Background(), Options{
		InputPath: input,
		Tag:       "BioSample",
		BatchSize: 100,
		OutDir:    outDir,
		Prefix:    "ddbj_biosample",
	})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if res.Records != 2 {
		t.Errorf("expected 2 records (one self-closing), got %d", res.Records)
	}
}

func TestSplitUnterminatedRecord(t *testing.T) {
	xml := `<PackageSet>
<Package>
  <Project accession="PRJNA1"/>
`
	input := writeInput(t, "broken.xml", xml)
	outDir := filepath.Join(t.TempDir(), "shards")

	_, err := Split(context.Background(), Options{
		InputPath: input,
		Tag:       "Package",
		BatchSize: 10,
		OutDir:    outDir,
		Prefix:    "x",
	})
	if err == nil {
		t.Fatal("expected error for unterminated record")
	}
	if _, statErr := os.Stat(outDir); !os.IsNotExist(statErr) {
		t.Error("failed split must not publish a shard directory")
	}
	if _, statErr := os.Stat(outDir + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("failed split must clean up its work directory")
	}
}

func TestSplitReplacesPreviousOutput(t *testing.T) {
	input := writeInput(t, "bioproject.xml", sampleXML)
	outDir := filepath.Join(t.TempDir(), "shards")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(outDir, "stale_9999.xml")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Split(context.Background(), Options{
		InputPath: input,
		Tag:       "Package",
		BatchSize: 10,
		OutDir:    outDir,
		Prefix:    "ncbi_bioproject",
	}); err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale shard survived republish")
	}
}
