package jsonl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/dblink"
)

// Deps bundles the read-only handles every emitter worker shares.
// Graph and Blacklist are always set; Dates is nil for the families
// that have no relational date source (SRA, JGA).
type Deps struct {
	Graph     *dblink.Store
	Dates     *datecache.Cache
	Blacklist blacklist.Set
}

// Options controls one emission run.
type Options struct {
	// Cutoff enables incremental mode: records whose modification
	// field predates it are skipped. nil means full mode.
	Cutoff *time.Time
	// Parallel caps the worker pool. Values below 1 mean 1.
	Parallel int
	// Filter switches the emitter into regenerate mode: exactly the
	// listed accessions are materialized, ignoring Cutoff and the
	// blacklist.
	Filter map[string]bool
	// Resume skips shards whose output file already exists, so an
	// interrupted run can pick up where it stopped.
	Resume bool
}

// resumable reports whether a shard's output can be reused as-is.
func (o Options) resumable(out string) bool {
	if !o.Resume {
		return false
	}
	_, err := os.Stat(out)
	return err == nil
}

func (o Options) parallel() int {
	if o.Parallel < 1 {
		return 1
	}
	return o.Parallel
}

// wants reports whether a record passes the filter/blacklist/cutoff
// gates shared by every family.
func (o Options) wants(bl blacklist.Set, acc, modified string) bool {
	if o.Filter != nil {
		return o.Filter[acc]
	}
	if bl.Contains(acc) {
		return false
	}
	if o.Cutoff != nil && modified != "" {
		if t, err := time.Parse(time.RFC3339, modified); err == nil && t.Before(*o.Cutoff) {
			return false
		}
	}
	return true
}

// Stats summarizes one emission run.
type Stats struct {
	Written      int64
	Skipped      int64
	FailedShards int
}

// lookupXrefs expands a document's relation-graph neighbors into its
// dbXrefs list. BioProject accessions are probed under both the primary
// and the umbrella type, since the graph stores them distinctly.
func lookupXrefs(ctx context.Context, g *dblink.Store, t accession.Type, acc string) ([]Xref, error) {
	ns, err := g.Neighbors(ctx, t, acc)
	if err != nil {
		return nil, fmt.Errorf("failed to look up relations for %s: %w", acc, err)
	}
	var other accession.Type
	switch t {
	case accession.TypeBioProject:
		other = accession.TypeUmbrellaBioProject
	case accession.TypeUmbrellaBioProject:
		other = accession.TypeBioProject
	}
	if other != "" {
		more, err := g.Neighbors(ctx, other, acc)
		if err != nil {
			return nil, fmt.Errorf("failed to look up relations for %s: %w", acc, err)
		}
		ns = append(ns, more...)
	}
	return buildXrefs(ns), nil
}

// overrideDates replaces XML-derived dates with the relational ones
// when the cache knows the accession.
func overrideDates(doc *Document, cache *datecache.Cache, acc string) error {
	if cache == nil {
		return nil
	}
	d, err := cache.Lookup(acc)
	if err != nil {
		return fmt.Errorf("date cache lookup for %s: %w", acc, err)
	}
	if d == nil {
		return nil
	}
	if d.Created != "" {
		doc.DateCreated = d.Created
	}
	if d.Modified != "" {
		doc.DateModified = d.Modified
	}
	if d.Published != "" {
		doc.DatePublished = d.Published
	}
	return nil
}

// baseDocument fills the envelope fields every family shares.
func baseDocument(t accession.Type, acc string) Document {
	index := indexName(t)
	return Document{
		Identifier: acc,
		Type:       index,
		IsPartOf:   isPartOf(t),
		URL:        entryURL(index, acc),
		Distribution: []Distribution{{
			Type:           "DataDownload",
			EncodingFormat: "JSON",
			ContentURL:     entryURL(index, acc) + ".json",
		}},
		DBXrefs:       []Xref{},
		SameAs:        []Xref{},
		Status:        "live",
		Accessibility: AccessibilityOpen,
	}
}

func isPartOf(t accession.Type) string {
	switch t {
	case accession.TypeBioProject, accession.TypeUmbrellaBioProject:
		return "BioProject"
	case accession.TypeBioSample:
		return "BioSample"
	case accession.TypeJGAStudy, accession.TypeJGADataset, accession.TypeJGADAC, accession.TypeJGAPolicy:
		return "jga"
	}
	return "sra"
}

// outPath derives the output file for one input shard: the shard's base
// name with the XML suffix swapped for .jsonl.
func outPath(outDir, shard string) string {
	base := filepath.Base(shard)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".xml")
	return filepath.Join(outDir, base+".jsonl")
}

// shardFileName names a synthesized shard (SRA and JGA have no input
// shard files to mirror).
func shardFileName(source, index string, n int) string {
	return fmt.Sprintf("%s_%s_%04d.jsonl", source, index, n)
}
