package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/accessions"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

var initDBLinkCmd = &cobra.Command{
	Use:   "init_dblink_db",
	Short: "Create a fresh relation-graph build database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("init_dblink_db", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			store, err := dblink.Init(cfg.DBLinkTmpDBPath(), cfg.DBLinkLockPath())
			if err != nil {
				return err
			}
			run.Info("relation database initialized", runlog.File(cfg.DBLinkTmpDBPath()))
			return store.Close()
		})
	},
}

// withEdgeWriter opens the build database for appending, runs one
// extractor against a serializing writer, and reports the edge count.
func withEdgeWriter(ctx context.Context, cfg *config.Config, run *runlog.Run,
	fn func(ctx context.Context, w *dblink.Writer) error) error {

	store, err := dblink.OpenWrite(cfg.DBLinkTmpDBPath(), cfg.DBLinkLockPath())
	if err != nil {
		return err
	}
	defer store.Close()

	w := store.NewWriter(ctx)
	extractErr := fn(ctx, w)
	n, closeErr := w.Close()
	if extractErr != nil {
		return extractErr
	}
	if closeErr != nil {
		return closeErr
	}
	run.Info(fmt.Sprintf("appended %d edges", n))
	return nil
}

// loadPreserved reads one curated relation list, logging skipped rows.
func loadPreserved(run *runlog.Run, path string) ([]blacklist.Relation, error) {
	rels, skipped, ok, err := blacklist.LoadPreserved(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		run.Warning("preserved list missing", runlog.File(path))
	}
	for _, row := range skipped {
		run.Debug(runlog.CatInvalidAccessionID, "preserved row failed classification",
			runlog.Accession(row), runlog.File(path))
	}
	return rels, nil
}

func shardSourceDirs(cfg *config.Config, family string) []string {
	base := cfg.TmpXMLDir(family)
	switch family {
	case "bioproject":
		return []string{filepath.Join(base, "ncbi_bioproject"), filepath.Join(base, "ddbj_bioproject")}
	case "biosample":
		return []string{filepath.Join(base, "ncbi_biosample"), filepath.Join(base, "ddbj_biosample")}
	}
	return nil
}

var createBPBSCmd = &cobra.Command{
	Use:   "create_dblink_bp_bs_relations",
	Short: "Extract bioproject-biosample relations from the BioSample shards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_bp_bs_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			preserved, err := loadPreserved(run, cfg.PreservedBPBSPath())
			if err != nil {
				return err
			}
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractBPBS(ctx, run, w, shardSourceDirs(cfg, "biosample"), preserved, cfg.ParallelNum)
			})
		})
	},
}

var createBPInternalCmd = &cobra.Command{
	Use:   "create_dblink_bp_internal_relations",
	Short: "Extract umbrella, hum-id and GEO relations from the BioProject shards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_bp_internal_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractBPInternal(ctx, run, w, shardSourceDirs(cfg, "bioproject"), cfg.ParallelNum)
			})
		})
	},
}

var createAssemblyCmd = &cobra.Command{
	Use:   "create_dblink_assembly_master_relations",
	Short: "Extract assembly and WGS/TSA master relations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_assembly_master_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			tradFiles, err := filepath.Glob(filepath.Join(cfg.Sources.TradDir, "*.txt"))
			if err != nil {
				return err
			}
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractAssemblyMaster(ctx, run, w, cfg.Sources.AssemblySummary, tradFiles)
			})
		})
	},
}

var createGEACmd = &cobra.Command{
	Use:   "create_dblink_gea_relations",
	Short: "Extract GEA experiment relations from the MAGE-TAB files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_gea_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractGEA(ctx, run, w, cfg.Sources.GEADir)
			})
		})
	},
}

var createMetaboBankCmd = &cobra.Command{
	Use:   "create_dblink_metabobank_relations",
	Short: "Extract MetaboBank study relations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_metabobank_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			var preserved []blacklist.Relation
			for _, path := range []string{cfg.PreservedMetaboBankBPPath(), cfg.PreservedMetaboBankBSPath()} {
				rels, err := loadPreserved(run, path)
				if err != nil {
					return err
				}
				preserved = append(preserved, rels...)
			}
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractMetaboBank(ctx, run, w, cfg.Sources.MetaboBankDir, preserved)
			})
		})
	},
}

var createJGACmd = &cobra.Command{
	Use:   "create_dblink_jga_relations",
	Short: "Extract JGA relations from the relation CSVs and study dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_jga_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				return dblink.ExtractJGA(ctx, run, w, cfg.Sources.JGADir)
			})
		})
	},
}

var createSRACmd = &cobra.Command{
	Use:   "create_dblink_sra_relations",
	Short: "Extract intra-SRA relations from the accessions stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("create_dblink_sra_relations", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			return withEdgeWriter(ctx, cfg, run, func(ctx context.Context, w *dblink.Writer) error {
				for _, src := range []struct {
					label string
					path  string
				}{
					{"sra", cfg.SRAAccessionsDBPath()},
					{"dra", cfg.DRAAccessionsDBPath()},
				} {
					store, err := accessions.Open(src.path)
					if err != nil {
						return err
					}
					err = dblink.ExtractSRA(ctx, run, w, store, src.label)
					store.Close()
					if err != nil {
						return err
					}
				}
				return nil
			})
		})
	},
}

var finalizeDBLinkCmd = &cobra.Command{
	Use:   "finalize_dblink_db",
	Short: "Canonicalize, dedup and publish the relation database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("finalize_dblink_db", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			blacklists := map[string]blacklist.Set{}
			for _, family := range []string{"bioproject", "biosample", "sra", "jga"} {
				set, ok, err := blacklist.Load(cfg.BlacklistPath(family))
				if err != nil {
					return err
				}
				if !ok {
					run.Warning("blacklist missing", runlog.File(cfg.BlacklistPath(family)))
				}
				blacklists[family] = set
			}
			store, err := dblink.OpenWrite(cfg.DBLinkTmpDBPath(), cfg.DBLinkLockPath())
			if err != nil {
				return err
			}
			if err := store.Finalize(ctx, cfg.DBLinkDBPath(), blacklists); err != nil {
				store.Close()
				return err
			}
			run.Info("relation database published", runlog.File(cfg.DBLinkDBPath()))
			return nil
		})
	},
}

var dumpDBLinkCmd = &cobra.Command{
	Use:   "dump_dblink_files",
	Short: "Write the per-pair TSV dumps of the relation database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("dump_dblink_files", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			store, err := dblink.Open(cfg.DBLinkDBPath())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Dump(ctx, cfg.DBLinkPath); err != nil {
				return err
			}
			run.Info("relation dumps written", runlog.File(cfg.DBLinkPath))
			return nil
		})
	},
}

var showDBLinkCountsCmd = &cobra.Command{
	Use:   "show_dblink_counts",
	Short: "Print per-type-pair edge counts of the relation database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := dblink.Open(cfg.DBLinkDBPath())
		if err != nil {
			return err
		}
		defer store.Close()
		counts, err := store.Counts(cmd.Context())
		if err != nil {
			return err
		}
		total, err := store.Total()
		if err != nil {
			return err
		}
		for _, c := range counts {
			fmt.Printf("%-24s %-24s %10d\n", c.SrcType, c.DstType, c.Count)
		}
		fmt.Printf("%-49s %10d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBLinkCmd, createBPBSCmd, createBPInternalCmd,
		createAssemblyCmd, createGEACmd, createMetaboBankCmd, createJGACmd,
		createSRACmd, finalizeDBLinkCmd, dumpDBLinkCmd, showDBLinkCountsCmd)
}
