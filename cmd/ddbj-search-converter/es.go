package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/es"
	"github.com/ddbj/search-converter/internal/runlog"
)

var bulkPattern string

// familyIndexes maps a blacklist family onto the search indexes its
// documents land in.
var familyIndexes = map[string][]string{
	"bioproject": {"bioproject"},
	"biosample":  {"biosample"},
	"sra":        {"sra-submission", "sra-study", "sra-experiment", "sra-sample", "sra-run", "sra-analysis"},
	"jga":        {"jga-study", "jga-dataset", "jga-dac", "jga-policy"},
}

var esCreateIndexCmd = &cobra.Command{
	Use:   "es_create_index [index...]",
	Short: "Create search indexes (default: every pipeline index)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es_create_index", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			client := es.New(cfg.ESURL)
			indexes := args
			if len(indexes) == 0 {
				for _, family := range []string{"bioproject", "biosample", "sra", "jga"} {
					indexes = append(indexes, familyIndexes[family]...)
				}
			}
			for _, index := range indexes {
				if err := client.CreateIndex(ctx, index); err != nil {
					return err
				}
				run.Info("index ready", runlog.Source(index))
			}
			return nil
		})
	},
}

var esDeleteIndexCmd = &cobra.Command{
	Use:   "es_delete_index index...",
	Short: "Delete search indexes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es_delete_index", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			client := es.New(cfg.ESURL)
			for _, index := range args {
				found, err := client.DeleteIndex(ctx, index)
				if err != nil {
					return err
				}
				if !found {
					run.Warning("index did not exist", runlog.Source(index))
					continue
				}
				run.Info("index deleted", runlog.Source(index))
			}
			return nil
		})
	},
}

var esListIndexesCmd = &cobra.Command{
	Use:   "es_list_indexes",
	Short: "List the cluster's indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		infos, err := es.New(cfg.ESURL).ListIndexes(cmd.Context())
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%-20s %-8s %s docs\n", info.Index, info.Health, info.DocsCount)
		}
		return nil
	},
}

var esBulkInsertCmd = &cobra.Command{
	Use:   "es_bulk_insert",
	Short: "Bulk load JSONL shards into their indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es_bulk_insert", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			pattern := bulkPattern
			if pattern == "" {
				pattern = filepath.Join(cfg.JSONLDir(), "*", "*.jsonl")
			}
			res, err := es.New(cfg.ESURL).BulkImportGlob(ctx, run, pattern)
			if res != nil {
				run.Info(fmt.Sprintf("indexed %d documents, %d failed", res.Indexed, res.Failed))
			}
			return err
		})
	},
}

var esDeleteBlacklistedCmd = &cobra.Command{
	Use:   "es_delete_blacklisted",
	Short: "Delete blacklisted documents that were ingested earlier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es_delete_blacklisted", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			client := es.New(cfg.ESURL)
			for _, family := range []string{"bioproject", "biosample", "sra", "jga"} {
				set, ok, err := blacklist.Load(cfg.BlacklistPath(family))
				if err != nil {
					return err
				}
				if !ok || len(set) == 0 {
					continue
				}
				ids := make([]string, 0, len(set))
				for acc := range set {
					ids = append(ids, acc)
				}
				for _, index := range familyIndexes[family] {
					res, err := client.DeleteDocuments(ctx, run, index, ids)
					if err != nil {
						return err
					}
					run.Info(fmt.Sprintf("deleted %d documents, %d absent", res.Deleted, res.NotFound),
						runlog.Source(index))
				}
			}
			return nil
		})
	},
}

func init() {
	esBulkInsertCmd.Flags().StringVar(&bulkPattern, "pattern", "",
		"Shard glob to import (default: every shard of the current date)")
	rootCmd.AddCommand(esCreateIndexCmd, esDeleteIndexCmd, esListIndexesCmd,
		esBulkInsertCmd, esDeleteBlacklistedCmd)
}
