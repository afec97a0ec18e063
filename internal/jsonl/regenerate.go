package jsonl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// RegenerateInputs carries whichever family inputs the requested type
// needs; the others may stay zero. SRA and DRA are the two accession
// stores: S/E-prefixed accessions resolve against SRA, D-prefixed
// against DRA.
type RegenerateInputs struct {
	BioProjectDirs []string
	BioSampleDirs  []string
	SRA            *SRAInputs
	DRA            *SRAInputs
	JGADir         string
}

// Regenerate materializes exactly the given accessions of one document
// type into outDir, bypassing cutoffs, the blacklist, and the
// last_run bookkeeping. It is the hotfix path for individual records.
// Output files are named per entity (bioproject.jsonl, run.jsonl,
// jga-dataset.jsonl, ...) and only written when non-empty.
func Regenerate(ctx context.Context, rep dblink.Reporter, deps Deps,
	docType string, accs []string, in RegenerateInputs, outDir string, parallel int) (*Stats, error) {

	if len(accs) == 0 {
		return nil, fmt.Errorf("no accessions given")
	}
	filter := make(map[string]bool, len(accs))
	for _, a := range accs {
		a = strings.TrimSpace(a)
		if a != "" {
			filter[a] = true
		}
	}
	opt := Options{Parallel: parallel, Filter: filter}

	switch {
	case docType == "bioproject":
		return regenerateBP(ctx, rep, deps, in.BioProjectDirs, outDir, opt)
	case docType == "biosample":
		return regenerateBS(ctx, rep, deps, in.BioSampleDirs, outDir, opt)
	case docType == "sra" || strings.HasPrefix(docType, "sra-"):
		return regenerateSRA(ctx, rep, deps, in, outDir, opt)
	case docType == "jga" || strings.HasPrefix(docType, "jga-"):
		return regenerateJGA(ctx, rep, deps, in.JGADir, outDir, opt)
	}
	return nil, fmt.Errorf("unknown document type %s", docType)
}

func regenerateBP(ctx context.Context, rep dblink.Reporter, deps Deps,
	dirs []string, outDir string, opt Options) (*Stats, error) {

	shards, err := collectShards(dirs)
	if err != nil {
		return nil, err
	}
	w := &lazyWriter{path: filepath.Join(outDir, "bioproject.jsonl")}
	var stats Stats
	for _, shard := range shards {
		written, skipped, err := scanBPShard(ctx, rep, deps, shard, opt, func(doc *BioProjectDocument) error {
			return w.write(doc)
		})
		stats.Written += written
		stats.Skipped += skipped
		if err != nil {
			w.abort()
			return &stats, err
		}
	}
	if err := w.close(); err != nil {
		return &stats, err
	}
	return &stats, nil
}

func regenerateBS(ctx context.Context, rep dblink.Reporter, deps Deps,
	dirs []string, outDir string, opt Options) (*Stats, error) {

	shards, err := collectShards(dirs)
	if err != nil {
		return nil, err
	}
	w := &lazyWriter{path: filepath.Join(outDir, "biosample.jsonl")}
	var stats Stats
	for _, shard := range shards {
		written, skipped, err := scanBSShard(ctx, rep, deps, shard, opt, func(doc *BioSampleDocument) error {
			return w.write(doc)
		})
		stats.Written += written
		stats.Skipped += skipped
		if err != nil {
			w.abort()
			return &stats, err
		}
	}
	if err := w.close(); err != nil {
		return &stats, err
	}
	return &stats, nil
}

// ClassifySRASource maps an SRA accession onto its owning store by
// prefix: DRA-issued accessions start with D, NCBI/EBI-issued with S
// or E. Anything else is unclassifiable.
func ClassifySRASource(acc string) string {
	if acc == "" {
		return ""
	}
	switch acc[0] {
	case 'D', 'd':
		return "dra"
	case 'S', 's', 'E', 'e':
		return "sra"
	}
	return ""
}

// regenerateSRA partitions the requested accessions by source, resolves
// each partition against its own store, and writes all sources into the
// shared per-entity files.
func regenerateSRA(ctx context.Context, rep dblink.Reporter, deps Deps,
	in RegenerateInputs, outDir string, opt Options) (*Stats, error) {

	bySource := map[string]map[string]bool{}
	for acc := range opt.Filter {
		src := ClassifySRASource(acc)
		if src == "" {
			rep.Warning("cannot classify sra accession by prefix, skipped",
				runlog.Accession(acc))
			continue
		}
		if bySource[src] == nil {
			bySource[src] = map[string]bool{}
		}
		bySource[src][acc] = true
	}

	writers := make(map[accession.Type]*lazyWriter, len(sraTypes))
	for _, t := range sraTypes {
		writers[t.acc] = &lazyWriter{path: filepath.Join(outDir, strings.ToLower(t.entity)+".jsonl")}
	}
	emit := func(t accession.Type, doc *Document) error {
		return writers[t].write(doc)
	}
	abort := func() {
		for _, w := range writers {
			w.abort()
		}
	}

	var stats Stats
	for _, src := range []struct {
		name string
		in   *SRAInputs
	}{
		{"sra", in.SRA},
		{"dra", in.DRA},
	} {
		filter := bySource[src.name]
		if len(filter) == 0 {
			continue
		}
		if src.in == nil {
			abort()
			return &stats, fmt.Errorf("%s inputs not configured", src.name)
		}
		o := opt
		o.Filter = filter
		subs, err := selectSubmissions(ctx, rep, *src.in, o)
		if err != nil {
			abort()
			return &stats, err
		}
		rep.Info(fmt.Sprintf("regenerating %d %s accessions across %d submissions",
			len(filter), src.name, len(subs)))
		for _, sub := range subs {
			written, skipped, err := emitSRASubmission(ctx, rep, deps, *src.in, emit, sub, o)
			stats.Written += written
			stats.Skipped += skipped
			if err != nil {
				abort()
				return &stats, err
			}
		}
	}
	for _, w := range writers {
		if err := w.close(); err != nil {
			return &stats, err
		}
	}
	return &stats, nil
}

// jgaPrefixes maps the four-letter accession prefix onto the entity's
// accession type.
var jgaPrefixes = map[string]accession.Type{
	"JGAS": accession.TypeJGAStudy,
	"JGAD": accession.TypeJGADataset,
	"JGAC": accession.TypeJGADAC,
	"JGAP": accession.TypeJGAPolicy,
}

func regenerateJGA(ctx context.Context, rep dblink.Reporter, deps Deps,
	jgaDir, outDir string, opt Options) (*Stats, error) {

	needed := map[accession.Type]bool{}
	for acc := range opt.Filter {
		if len(acc) >= 4 {
			if t, ok := jgaPrefixes[strings.ToUpper(acc[:4])]; ok {
				needed[t] = true
				continue
			}
		}
		rep.Warning("cannot classify jga accession by prefix, skipped",
			runlog.Accession(acc))
	}

	var stats Stats
	for _, t := range jgaTypes {
		if !needed[t.acc] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return &stats, err
		}
		xmlPath := filepath.Join(jgaDir, t.xmlFile)
		if _, err := os.Stat(xmlPath); os.IsNotExist(err) {
			rep.Warning("jga dump missing, type skipped", runlog.File(xmlPath))
			continue
		}
		dates, err := loadJGADates(jgaDir, t.element)
		if err != nil {
			return &stats, err
		}
		w := &lazyWriter{path: filepath.Join(outDir, indexName(t.acc)+".jsonl")}
		written, skipped, err := scanJGAType(ctx, rep, deps, xmlPath, t.acc, t.element, dates, opt, func(doc *Document) error {
			return w.write(doc)
		})
		stats.Written += written
		stats.Skipped += skipped
		if err != nil {
			w.abort()
			return &stats, fmt.Errorf("failed to regenerate %s: %w", indexName(t.acc), err)
		}
		if err := w.close(); err != nil {
			return &stats, err
		}
	}
	return &stats, nil
}
