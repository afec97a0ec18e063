// Package config holds the converter configuration: directory roots,
// external endpoints, and tuning knobs. Values are layered as defaults,
// then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DateFormat is the on-disk date stamp used for per-run output directories.
const DateFormat = "20060102"

// Config represents the converter configuration.
type Config struct {
	ResultDir   string `yaml:"result_dir"`   // pipeline outputs
	ConstDir    string `yaml:"const_dir"`    // blacklists, preserved lists, shared stores
	DBLinkPath  string `yaml:"dblink_path"`  // TSV dump root
	PostgresURL string `yaml:"postgres_url"` // date source
	ESURL       string `yaml:"es_url"`       // document sink

	// Date overrides today's YYYYMMDD for reproducible reruns.
	Date string `yaml:"date"`

	ParallelNum int `yaml:"parallel_num"` // worker pool size
	MarginDays  int `yaml:"margin_days"`  // incremental cutoff safety margin
	BatchSize   int `yaml:"batch_size"`   // records per XML shard

	Sources SourceConfig `yaml:"sources"`
}

// SourceConfig points at the external inputs each step reads.
type SourceConfig struct {
	SRAAccessionsTab string `yaml:"sra_accessions_tab"`
	DRAAccessionsTab string `yaml:"dra_accessions_tab"`
	NCBIBioProject   string `yaml:"ncbi_bioproject_xml"`
	DDBJBioProject   string `yaml:"ddbj_bioproject_xml"`
	NCBIBioSample    string `yaml:"ncbi_biosample_xml"`
	DDBJBioSample    string `yaml:"ddbj_biosample_xml"`
	AssemblySummary  string `yaml:"assembly_summary"`
	TradDir          string `yaml:"trad_dir"`
	GEADir           string `yaml:"gea_dir"`
	MetaboBankDir    string `yaml:"metabobank_dir"`
	JGADir           string `yaml:"jga_dir"`
	NCBISRADir       string `yaml:"ncbi_sra_dir"`
	DRADir           string `yaml:"dra_dir"`
}

// DefaultConfig returns the default configuration rooted at the current
// working directory.
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()
	root := filepath.Join(cwd, "converter_results")
	return &Config{
		ResultDir:   root,
		ConstDir:    filepath.Join(cwd, "converter_const"),
		DBLinkPath:  filepath.Join(root, "dblink_files"),
		PostgresURL: "postgres://localhost:5432",
		ESURL:       "http://localhost:9200",
		Date:        time.Now().UTC().Format(DateFormat),
		ParallelNum: 4,
		MarginDays:  30,
		BatchSize:   30000,
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment overrides. path may be empty.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(config)

	config.ResultDir = expandPath(config.ResultDir)
	config.ConstDir = expandPath(config.ConstDir)
	config.DBLinkPath = expandPath(config.DBLinkPath)

	if _, err := time.Parse(DateFormat, config.Date); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYYMMDD", config.Date)
	}
	if config.ParallelNum < 1 {
		return nil, fmt.Errorf("parallel_num must be positive, got %d", config.ParallelNum)
	}
	return config, nil
}

func applyEnv(config *Config) {
	for name, dst := range map[string]*string{
		"RESULT_DIR":   &config.ResultDir,
		"CONST_DIR":    &config.ConstDir,
		"POSTGRES_URL": &config.PostgresURL,
		"ES_URL":       &config.ESURL,
		"DATE":         &config.Date,
		"DBLINK_PATH":  &config.DBLinkPath,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}

// GetConfigPath returns the config file path to load, checking the
// environment and the current directory.
func GetConfigPath() string {
	if path := os.Getenv("CONVERTER_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("converter.yaml"); err == nil {
		return "converter.yaml"
	}
	return ""
}

// Save writes the configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnsureDirectories creates the result and const directory trees.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.ResultDir,
		c.LogDir(),
		c.ConstDir,
		filepath.Dir(c.DBLinkDBPath()),
		filepath.Dir(c.SRAAccessionsDBPath()),
		c.DBLinkPath,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Day returns the configured run date.
func (c *Config) Day() time.Time {
	t, _ := time.Parse(DateFormat, c.Date)
	return t
}

// LogDir holds the per-run JSONL log files.
func (c *Config) LogDir() string { return filepath.Join(c.ResultDir, "logs") }

// LogStorePath is the SQLite store of run records.
func (c *Config) LogStorePath() string { return filepath.Join(c.ResultDir, "log.sqlite") }

// TmpXMLDir holds the XML shards for a source family ("bioproject" or
// "biosample").
func (c *Config) TmpXMLDir(family string) string {
	return filepath.Join(c.ResultDir, "tmp_xml", family)
}

// JSONLDir holds the emitted JSONL shards for the run date.
func (c *Config) JSONLDir() string {
	return filepath.Join(c.ResultDir, "jsonl", c.Date)
}

// RegenerateDir holds hotfix regenerate output, kept apart from the
// scheduled run output.
func (c *Config) RegenerateDir() string {
	return filepath.Join(c.ResultDir, "regenerate", c.Date)
}

// LastRunPath is the per-family incremental bookkeeping file.
func (c *Config) LastRunPath() string { return filepath.Join(c.ResultDir, "last_run.json") }

// SRAAccessionsDBPath is the columnar store built from SRA_Accessions.tab.
func (c *Config) SRAAccessionsDBPath() string {
	return filepath.Join(c.ConstDir, "sra", "sra_accessions.sqlite")
}

// DRAAccessionsDBPath is the columnar store built from DRA_Accessions.tab.
func (c *Config) DRAAccessionsDBPath() string {
	return filepath.Join(c.ConstDir, "sra", "dra_accessions.sqlite")
}

// DBLinkDBPath is the finalized relation graph store.
func (c *Config) DBLinkDBPath() string {
	return filepath.Join(c.ConstDir, "dblink", "dblink.sqlite")
}

// DBLinkTmpDBPath is the under-construction relation graph store.
func (c *Config) DBLinkTmpDBPath() string {
	return filepath.Join(c.ConstDir, "dblink", "dblink.tmp.sqlite")
}

// DBLinkLockPath guards the tmp store against concurrent writers.
func (c *Config) DBLinkLockPath() string {
	return filepath.Join(c.ConstDir, "dblink", "dblink.lock")
}

// DateCachePath is the BioProject/BioSample date snapshot.
func (c *Config) DateCachePath() string {
	return filepath.Join(c.ConstDir, "bp_bs_date.sqlite")
}

// BlacklistPath returns the blacklist file for a source family
// (bioproject, biosample, sra, jga).
func (c *Config) BlacklistPath(family string) string {
	return filepath.Join(c.ConstDir, family, "blacklist.txt")
}

// PreservedBPBSPath is the curated BioProject-BioSample relation list.
func (c *Config) PreservedBPBSPath() string {
	return filepath.Join(c.ConstDir, "dblink", "bp_bs_preserved.tsv")
}

// PreservedMetaboBankBPPath is the curated MetaboBank-BioProject list.
func (c *Config) PreservedMetaboBankBPPath() string {
	return filepath.Join(c.ConstDir, "dblink", "metabobank_bp_preserved.tsv")
}

// PreservedMetaboBankBSPath is the curated MetaboBank-BioSample list.
func (c *Config) PreservedMetaboBankBSPath() string {
	return filepath.Join(c.ConstDir, "dblink", "metabobank_bs_preserved.tsv")
}

// NCBITarPath is the synced NCBI SRA metadata archive.
func (c *Config) NCBITarPath() string {
	return filepath.Join(c.ConstDir, "sra", "NCBI_SRA_Metadata.tar")
}

// DRATarPath is the synced DRA metadata archive.
func (c *Config) DRATarPath() string {
	return filepath.Join(c.ConstDir, "sra", "DRA_Metadata.tar")
}
