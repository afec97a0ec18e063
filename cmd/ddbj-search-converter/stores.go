package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/accessions"
	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/runlog"
)

var buildAccessionsCmd = &cobra.Command{
	Use:   "build_sra_and_dra_accessions_db",
	Short: "Build the SRA and DRA accessions stores from the tab dumps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("build_sra_and_dra_accessions_db", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			for _, src := range []struct {
				label   string
				tabPath string
				dbPath  string
			}{
				{"sra", cfg.Sources.SRAAccessionsTab, cfg.SRAAccessionsDBPath()},
				{"dra", cfg.Sources.DRAAccessionsTab, cfg.DRAAccessionsDBPath()},
			} {
				if src.tabPath == "" {
					run.Warning("tab dump not configured, skipped", runlog.Source(src.label))
					continue
				}
				res, err := accessions.Build(ctx, src.dbPath, src.tabPath, cfg.BatchSize)
				if err != nil {
					return fmt.Errorf("failed to build %s accessions store: %w", src.label, err)
				}
				run.Info(fmt.Sprintf("stored %d records, %d malformed rows skipped", res.Rows, res.Skipped),
					runlog.Source(src.label), runlog.File(src.dbPath))
			}
			return nil
		})
	},
}

var buildDateCacheCmd = &cobra.Command{
	Use:   "build_bp_bs_date_cache",
	Short: "Build the BioProject/BioSample date cache from the relational source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("build_bp_bs_date_cache", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			n, err := datecache.Build(ctx, cfg.DateCachePath(),
				datecache.NewBioProjectSource(cfg.PostgresURL),
				datecache.NewBioSampleSource(cfg.PostgresURL))
			if err != nil {
				return run.Critical("date cache build failed", err)
			}
			run.Info(fmt.Sprintf("cached dates for %d accessions", n), runlog.File(cfg.DateCachePath()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(buildAccessionsCmd, buildDateCacheCmd)
}
