package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.ParallelNum != 4 {
		t.Errorf("expected parallel_num 4, got %d", cfg.ParallelNum)
	}
	if cfg.MarginDays != 30 {
		t.Errorf("expected margin_days 30, got %d", cfg.MarginDays)
	}
	if cfg.BatchSize != 30000 {
		t.Errorf("expected batch_size 30000, got %d", cfg.BatchSize)
	}
	if len(cfg.Date) != 8 {
		t.Errorf("expected YYYYMMDD date, got %q", cfg.Date)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load should return defaults for non-existent file, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config for non-existent file")
	}
}

func TestLoadValidFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
result_dir: /tmp/converter-test
const_dir: /tmp/converter-const
parallel_num: 8
date: "20260401"
sources:
  jga_dir: /data/jga
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ResultDir != "/tmp/converter-test" {
		t.Errorf("expected result_dir /tmp/converter-test, got %q", cfg.ResultDir)
	}
	if cfg.ParallelNum != 8 {
		t.Errorf("expected parallel_num 8, got %d", cfg.ParallelNum)
	}
	if cfg.Date != "20260401" {
		t.Errorf("expected date 20260401, got %q", cfg.Date)
	}
	if cfg.Sources.JGADir != "/data/jga" {
		t.Errorf("expected jga_dir /data/jga, got %q", cfg.Sources.JGADir)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: [broken"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoadInvalidDate(t *testing.T) {
	t.Setenv("DATE", "2026-04-01")
	if _, err := Load(""); err == nil {
		t.Error("expected error for hyphenated date, got nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESULT_DIR", "/env/results")
	t.Setenv("POSTGRES_URL", "postgres://db:5432/bioproject")
	t.Setenv("DATE", "20260115")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ResultDir != "/env/results" {
		t.Errorf("expected /env/results, got %q", cfg.ResultDir)
	}
	if cfg.PostgresURL != "postgres://db:5432/bioproject" {
		t.Errorf("unexpected postgres_url %q", cfg.PostgresURL)
	}
	if cfg.JSONLDir() != "/env/results/jsonl/20260115" {
		t.Errorf("unexpected jsonl dir %q", cfg.JSONLDir())
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.ParallelNum = 16
	cfg.Sources.GEADir = "/data/gea"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ParallelNum != 16 {
		t.Errorf("expected parallel_num 16, got %d", loaded.ParallelNum)
	}
	if loaded.Sources.GEADir != "/data/gea" {
		t.Errorf("expected gea_dir /data/gea, got %q", loaded.Sources.GEADir)
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(string) bool
		desc  string
	}{
		{
			name:  "empty string",
			input: "",
			check: func(s string) bool { return s == "" },
			desc:  "should return empty string",
		},
		{
			name:  "absolute path",
			input: "/usr/local/share",
			check: func(s string) bool { return s == "/usr/local/share" },
			desc:  "should return unchanged",
		},
		{
			name:  "tilde expansion",
			input: "~/results",
			check: func(s string) bool { return s != "~/results" && len(s) > 0 },
			desc:  "should expand tilde",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if !tt.check(result) {
				t.Errorf("expandPath(%q) = %q, %s", tt.input, result, tt.desc)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONVERTER_CONFIG", "/custom/config.yaml")
	if path := GetConfigPath(); path != "/custom/config.yaml" {
		t.Errorf("expected /custom/config.yaml, got %q", path)
	}
}

func TestPathLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResultDir = "/r"
	cfg.ConstDir = "/c"
	cfg.Date = "20260102"

	cases := map[string]string{
		cfg.LogStorePath():           "/r/log.sqlite",
		cfg.TmpXMLDir("bioproject"):  "/r/tmp_xml/bioproject",
		cfg.JSONLDir():               "/r/jsonl/20260102",
		cfg.RegenerateDir():          "/r/regenerate/20260102",
		cfg.LastRunPath():            "/r/last_run.json",
		cfg.SRAAccessionsDBPath():    "/c/sra/sra_accessions.sqlite",
		cfg.DBLinkDBPath():           "/c/dblink/dblink.sqlite",
		cfg.DBLinkTmpDBPath():        "/c/dblink/dblink.tmp.sqlite",
		cfg.DateCachePath():          "/c/bp_bs_date.sqlite",
		cfg.BlacklistPath("biosample"): "/c/biosample/blacklist.txt",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ResultDir = filepath.Join(dir, "results")
	cfg.ConstDir = filepath.Join(dir, "const")
	cfg.DBLinkPath = filepath.Join(dir, "dblink_files")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(cfg.LogDir()); os.IsNotExist(err) {
		t.Error("log directory was not created")
	}
	if _, err := os.Stat(filepath.Dir(cfg.DBLinkDBPath())); os.IsNotExist(err) {
		t.Error("dblink directory was not created")
	}
}
