// ddbj-search-converter drives the metadata ingestion pipeline: it
// shards the upstream XML dumps, builds the relation graph and the
// supporting stores, emits per-family JSONL documents, and pushes them
// into the search cluster. Each subcommand is one pipeline step.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/runlog"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "ddbj-search-converter",
	Short: "DDBJ search document conversion pipeline",
	Long: `ddbj-search-converter converts the DDBJ archive metadata (BioProject,
BioSample, SRA/DRA, JGA and related resources) into search documents.

The pipeline runs as a fixed sequence of steps, one subcommand each:
prepare the XML shards, build the accessions store and the relation
graph, build the date cache, emit JSONL documents per family, and bulk
load them into the search cluster.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Config file path (default: CONVERTER_CONFIG or ./converter.yaml)")
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		path = config.GetConfigPath()
	}
	return config.Load(path)
}

// runStep wraps one pipeline step in the run log discipline: a start
// record, cancellation on SIGINT/SIGTERM, and an end record whatever
// the outcome. The step's error becomes the process exit status.
func runStep(name string, fn func(ctx context.Context, cfg *config.Config, run *runlog.Run) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	store, err := runlog.OpenStore(cfg.LogStorePath())
	if err != nil {
		return err
	}
	defer store.Close()
	run, err := runlog.Start(store, cfg.LogDir(), name)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stepErr := fn(ctx, cfg, run)
	if err := run.Finish(stepErr); err != nil && stepErr == nil {
		stepErr = err
	}
	return stepErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
