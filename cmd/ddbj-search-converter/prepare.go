package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/es"
	"github.com/ddbj/search-converter/internal/runlog"
	"github.com/ddbj/search-converter/internal/tarindex"
	"github.com/ddbj/search-converter/internal/xmlsplit"
)

var checkExternalCmd = &cobra.Command{
	Use:   "check_external_resources",
	Short: "Verify every external input and service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("check_external_resources", checkExternal)
	},
}

func checkExternal(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
	inputs := map[string]string{
		"sra_accessions_tab":  cfg.Sources.SRAAccessionsTab,
		"dra_accessions_tab":  cfg.Sources.DRAAccessionsTab,
		"ncbi_bioproject_xml": cfg.Sources.NCBIBioProject,
		"ddbj_bioproject_xml": cfg.Sources.DDBJBioProject,
		"ncbi_biosample_xml":  cfg.Sources.NCBIBioSample,
		"ddbj_biosample_xml":  cfg.Sources.DDBJBioSample,
		"assembly_summary":    cfg.Sources.AssemblySummary,
		"trad_dir":            cfg.Sources.TradDir,
		"gea_dir":             cfg.Sources.GEADir,
		"metabobank_dir":      cfg.Sources.MetaboBankDir,
		"jga_dir":             cfg.Sources.JGADir,
		"ncbi_sra_dir":        cfg.Sources.NCBISRADir,
		"dra_dir":             cfg.Sources.DRADir,
	}
	missing := 0
	for name, path := range inputs {
		if path == "" {
			run.Warning("input not configured", runlog.Source(name))
			continue
		}
		if _, err := os.Stat(path); err != nil {
			run.Error("input missing", err, runlog.Source(name), runlog.File(path))
			missing++
		}
	}

	for _, src := range []*datecache.PostgresSource{
		datecache.NewBioProjectSource(cfg.PostgresURL),
		datecache.NewBioSampleSource(cfg.PostgresURL),
	} {
		if err := src.Ping(ctx); err != nil {
			return run.Critical("relational date source unreachable", err)
		}
	}
	if err := es.New(cfg.ESURL).Ping(ctx); err != nil {
		return run.Critical("search cluster unreachable", err)
	}

	if missing > 0 {
		return fmt.Errorf("%d external inputs missing", missing)
	}
	run.Info("all external resources available")
	return nil
}

var prepareBPXMLCmd = &cobra.Command{
	Use:   "prepare_bioproject_xml",
	Short: "Shard the NCBI and DDBJ BioProject dumps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("prepare_bioproject_xml", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return prepareXML(ctx, cfg, run, "bioproject", "Package", map[string]string{
				"ncbi_bioproject": cfg.Sources.NCBIBioProject,
				"ddbj_bioproject": cfg.Sources.DDBJBioProject,
			})
		})
	},
}

var prepareBSXMLCmd = &cobra.Command{
	Use:   "prepare_biosample_xml",
	Short: "Shard the NCBI and DDBJ BioSample dumps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("prepare_biosample_xml", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return prepareXML(ctx, cfg, run, "biosample", "BioSample", map[string]string{
				"ncbi_biosample": cfg.Sources.NCBIBioSample,
				"ddbj_biosample": cfg.Sources.DDBJBioSample,
			})
		})
	},
}

// prepareXML shards every configured dump of one family into
// {tmp_xml}/{family}/{prefix}/, one directory per source.
func prepareXML(ctx context.Context, cfg *config.Config, run *runlog.Run,
	family, tag string, sources map[string]string) error {

	for prefix, input := range sources {
		if input == "" {
			run.Warning("source not configured, skipped", runlog.Source(prefix))
			continue
		}
		outDir := filepath.Join(cfg.TmpXMLDir(family), prefix)
		res, err := xmlsplit.Split(ctx, xmlsplit.Options{
			InputPath: input,
			Tag:       tag,
			BatchSize: cfg.BatchSize,
			OutDir:    outDir,
			Prefix:    prefix,
		})
		if err != nil {
			return fmt.Errorf("failed to shard %s: %w", prefix, err)
		}
		run.Info(fmt.Sprintf("sharded %d records into %d files", res.Records, res.Shards),
			runlog.Source(prefix), runlog.File(outDir))
	}
	return nil
}

var syncNCBITarCmd = &cobra.Command{
	Use:   "sync_ncbi_tar",
	Short: "Append new NCBI SRA metadata to the local archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("sync_ncbi_tar", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return syncTar(run, cfg.NCBITarPath(), cfg.Sources.NCBISRADir)
		})
	},
}

var syncDRATarCmd = &cobra.Command{
	Use:   "sync_dra_tar",
	Short: "Append new DRA metadata to the local archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("sync_dra_tar", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return syncTar(run, cfg.DRATarPath(), cfg.Sources.DRADir)
		})
	},
}

func syncTar(run *runlog.Run, tarPath, srcDir string) error {
	if srcDir == "" {
		return fmt.Errorf("metadata source directory not configured")
	}
	added, err := tarindex.Sync(tarPath, srcDir)
	if err != nil {
		return err
	}
	run.Info(fmt.Sprintf("appended %d metadata files", added), runlog.File(tarPath))
	return nil
}

func init() {
	rootCmd.AddCommand(checkExternalCmd, prepareBPXMLCmd, prepareBSXMLCmd,
		syncNCBITarCmd, syncDRATarCmd)
}
