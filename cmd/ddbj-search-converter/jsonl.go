package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/accessions"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/config"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/jsonl"
	"github.com/ddbj/search-converter/internal/runlog"
	"github.com/ddbj/search-converter/internal/tarindex"
)

var (
	generateFull     bool
	generateParallel int
	generateResume   bool
	jgaFatal         bool

	regenerateType    string
	regenerateAccs    []string
	regenerateAccFile string
	regenerateOutDir  string
)

// emitDeps opens the read-only handles one emitter family needs. The
// returned closer releases them.
func emitDeps(cfg *config.Config, run *runlog.Run, family string, needDates bool) (jsonl.Deps, func(), error) {
	graph, err := dblink.Open(cfg.DBLinkDBPath())
	if err != nil {
		return jsonl.Deps{}, nil, fmt.Errorf("relation database unavailable: %w", err)
	}
	closer := func() { graph.Close() }

	bl, ok, err := blacklist.Load(cfg.BlacklistPath(family))
	if err != nil {
		closer()
		return jsonl.Deps{}, nil, err
	}
	if !ok {
		run.Warning("blacklist missing", runlog.File(cfg.BlacklistPath(family)))
	}
	deps := jsonl.Deps{Graph: graph, Blacklist: bl}

	if needDates {
		dates, err := datecache.Open(cfg.DateCachePath())
		if err != nil {
			closer()
			return jsonl.Deps{}, nil, fmt.Errorf("date cache unavailable: %w", err)
		}
		if err := dates.CheckFresh(cfg.Day()); err != nil {
			dates.Close()
			closer()
			return jsonl.Deps{}, nil, err
		}
		deps.Dates = dates
		inner := closer
		closer = func() { dates.Close(); inner() }
	}
	return deps, closer, nil
}

func emitOptions(cfg *config.Config, lr jsonl.LastRun, family string) jsonl.Options {
	parallel := generateParallel
	if parallel < 1 {
		parallel = cfg.ParallelNum
	}
	opt := jsonl.Options{Parallel: parallel, Resume: generateResume}
	if !generateFull {
		opt.Cutoff = lr.Cutoff(family, cfg.MarginDays)
	}
	return opt
}

// generateStep wraps the shared emitter flow: cutoff resolution,
// emission into {jsonl_dir}/{family}/, and the update-after-success
// rewrite of the last_run bookkeeping.
func generateStep(ctx context.Context, cfg *config.Config, run *runlog.Run, family string,
	emit func(ctx context.Context, outDir string, opt jsonl.Options) (*jsonl.Stats, error)) error {

	lr, err := jsonl.LoadLastRun(cfg.LastRunPath())
	if err != nil {
		return err
	}
	opt := emitOptions(cfg, lr, family)
	if opt.Cutoff == nil {
		run.Info("full mode", runlog.Source(family))
	} else {
		run.Info(fmt.Sprintf("incremental mode, cutoff %s", opt.Cutoff.Format("2006-01-02")),
			runlog.Source(family))
	}

	outDir := filepath.Join(cfg.JSONLDir(), family)
	stats, err := emit(ctx, outDir, opt)
	if stats != nil {
		run.Info(fmt.Sprintf("emitted %d documents, skipped %d", stats.Written, stats.Skipped),
			runlog.Source(family))
	}
	if err != nil {
		return err
	}

	started := run.Started
	lr[family] = &started
	return lr.Save(cfg.LastRunPath())
}

var generateBPCmd = &cobra.Command{
	Use:   "generate_bp_jsonl",
	Short: "Emit BioProject search documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("generate_bp_jsonl", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			deps, closeDeps, err := emitDeps(cfg, run, "bioproject", true)
			if err != nil {
				return run.Critical("bioproject emitter prerequisites missing", err)
			}
			defer closeDeps()
			return generateStep(ctx, cfg, run, "bioproject", func(ctx context.Context, outDir string, opt jsonl.Options) (*jsonl.Stats, error) {
				return jsonl.EmitBioProject(ctx, run, deps, shardSourceDirs(cfg, "bioproject"), outDir, opt)
			})
		})
	},
}

var generateBSCmd = &cobra.Command{
	Use:   "generate_bs_jsonl",
	Short: "Emit BioSample search documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("generate_bs_jsonl", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			deps, closeDeps, err := emitDeps(cfg, run, "biosample", true)
			if err != nil {
				return run.Critical("biosample emitter prerequisites missing", err)
			}
			defer closeDeps()
			return generateStep(ctx, cfg, run, "biosample", func(ctx context.Context, outDir string, opt jsonl.Options) (*jsonl.Stats, error) {
				return jsonl.EmitBioSample(ctx, run, deps, shardSourceDirs(cfg, "biosample"), outDir, opt)
			})
		})
	},
}

// sraInputs opens one source's accessions store and metadata archive.
func sraInputs(run *runlog.Run, source, dbPath, tarPath string) (*jsonl.SRAInputs, func(), error) {
	store, err := accessions.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%s accessions store unavailable: %w", source, err)
	}
	in := &jsonl.SRAInputs{Store: store, Source: source}
	closer := func() { store.Close() }
	tar, err := tarindex.OpenReader(tarPath)
	if err != nil {
		run.Warning("metadata archive unavailable, titles will be empty", runlog.File(tarPath))
	} else {
		in.Tar = tar
		closer = func() { tar.Close(); store.Close() }
	}
	return in, closer, nil
}

var generateSRACmd = &cobra.Command{
	Use:   "generate_sra_jsonl",
	Short: "Emit SRA and DRA search documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("generate_sra_jsonl", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			deps, closeDeps, err := emitDeps(cfg, run, "sra", false)
			if err != nil {
				return run.Critical("sra emitter prerequisites missing", err)
			}
			defer closeDeps()
			return generateStep(ctx, cfg, run, "sra", func(ctx context.Context, outDir string, opt jsonl.Options) (*jsonl.Stats, error) {
				total := &jsonl.Stats{}
				for _, src := range []struct {
					label   string
					dbPath  string
					tarPath string
				}{
					{"sra", cfg.SRAAccessionsDBPath(), cfg.NCBITarPath()},
					{"dra", cfg.DRAAccessionsDBPath(), cfg.DRATarPath()},
				} {
					in, closeIn, err := sraInputs(run, src.label, src.dbPath, src.tarPath)
					if err != nil {
						return total, err
					}
					stats, err := jsonl.EmitSRA(ctx, run, deps, *in, outDir, opt)
					closeIn()
					if stats != nil {
						total.Written += stats.Written
						total.Skipped += stats.Skipped
						total.FailedShards += stats.FailedShards
					}
					if err != nil {
						return total, err
					}
				}
				return total, nil
			})
		})
	},
}

var generateJGACmd = &cobra.Command{
	Use:   "generate_jga_jsonl",
	Short: "Emit JGA search documents (non-fatal by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("generate_jga_jsonl", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			deps, closeDeps, err := emitDeps(cfg, run, "jga", false)
			if err != nil {
				return run.Critical("jga emitter prerequisites missing", err)
			}
			defer closeDeps()
			err = generateStep(ctx, cfg, run, "jga", func(ctx context.Context, outDir string, opt jsonl.Options) (*jsonl.Stats, error) {
				return jsonl.EmitJGA(ctx, run, deps, cfg.Sources.JGADir, outDir, opt)
			})
			if err != nil && !jgaFatal {
				run.Error("jga emission failed, step continues", err)
				return nil
			}
			return err
		})
	},
}

// regenerateAccessions merges the --accessions list and the
// --accession-file contents.
func regenerateAccessions() ([]string, error) {
	accs := append([]string(nil), regenerateAccs...)
	if regenerateAccFile != "" {
		f, err := os.Open(regenerateAccFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open accession file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				accs = append(accs, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	return accs, nil
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate_jsonl",
	Short: "Rematerialize specific documents into a dedicated directory",
	Long: `regenerate_jsonl rebuilds exactly the named documents, ignoring the
incremental cutoff and the blacklist, and never touches last_run.json.
It is the hotfix path for individual records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("regenerate_jsonl", func(ctx context.Context, cfg *config.Config, run *runlog.Run) error {
			accs, err := regenerateAccessions()
			if err != nil {
				return err
			}
			family := regenerateFamily(regenerateType)
			if family == "" {
				return fmt.Errorf("unknown document type %s", regenerateType)
			}
			deps, closeDeps, err := emitDeps(cfg, run, family, family == "bioproject" || family == "biosample")
			if err != nil {
				return run.Critical("regenerate prerequisites missing", err)
			}
			defer closeDeps()

			in := jsonl.RegenerateInputs{
				BioProjectDirs: shardSourceDirs(cfg, "bioproject"),
				BioSampleDirs:  shardSourceDirs(cfg, "biosample"),
				JGADir:         cfg.Sources.JGADir,
			}
			if family == "sra" {
				// The accession prefix picks the store: D is DRA-issued,
				// S and E resolve against the NCBI/EBI dump.
				needSRA, needDRA := false, false
				for _, acc := range accs {
					switch jsonl.ClassifySRASource(acc) {
					case "sra":
						needSRA = true
					case "dra":
						needDRA = true
					}
				}
				if needSRA {
					src, closer, err := sraInputs(run, "sra", cfg.SRAAccessionsDBPath(), cfg.NCBITarPath())
					if err != nil {
						return err
					}
					defer closer()
					in.SRA = src
				}
				if needDRA {
					src, closer, err := sraInputs(run, "dra", cfg.DRAAccessionsDBPath(), cfg.DRATarPath())
					if err != nil {
						return err
					}
					defer closer()
					in.DRA = src
				}
			}

			outDir := regenerateOutDir
			if outDir == "" {
				outDir = cfg.RegenerateDir()
			}
			parallel := generateParallel
			if parallel < 1 {
				parallel = cfg.ParallelNum
			}
			stats, err := jsonl.Regenerate(ctx, run, deps, regenerateType, accs, in, outDir, parallel)
			if stats != nil {
				run.Info(fmt.Sprintf("regenerated %d documents", stats.Written), runlog.File(outDir))
			}
			return err
		})
	},
}

func regenerateFamily(docType string) string {
	switch {
	case docType == "bioproject":
		return "bioproject"
	case docType == "biosample":
		return "biosample"
	case docType == "sra" || strings.HasPrefix(docType, "sra-"):
		return "sra"
	case docType == "jga" || strings.HasPrefix(docType, "jga-"):
		return "jga"
	}
	return ""
}

func init() {
	for _, cmd := range []*cobra.Command{generateBPCmd, generateBSCmd, generateSRACmd, generateJGACmd} {
		cmd.Flags().BoolVar(&generateFull, "full", false, "Ignore the incremental cutoff and emit everything")
		cmd.Flags().IntVar(&generateParallel, "parallel-num", 0, "Worker pool size (default: config parallel_num)")
		cmd.Flags().BoolVar(&generateResume, "resume", false, "Skip shards whose output file already exists")
	}
	generateJGACmd.Flags().BoolVar(&jgaFatal, "fatal", false, "Fail the step on emission errors")

	regenerateCmd.Flags().StringVar(&regenerateType, "type", "", "Document type (bioproject, biosample, sra, sra-*, jga, jga-*)")
	regenerateCmd.Flags().StringSliceVar(&regenerateAccs, "accessions", nil, "Accessions to regenerate")
	regenerateCmd.Flags().StringVar(&regenerateAccFile, "accession-file", "", "File with one accession per line")
	regenerateCmd.Flags().StringVar(&regenerateOutDir, "output-dir", "", "Output directory (default: the regenerate directory)")
	regenerateCmd.Flags().IntVar(&generateParallel, "parallel-num", 0, "Worker pool size (default: config parallel_num)")
	regenerateCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(generateBPCmd, generateBSCmd, generateSRACmd, generateJGACmd, regenerateCmd)
}
