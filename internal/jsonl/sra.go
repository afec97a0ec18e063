package jsonl

import (
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/accessions"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
	"github.com/ddbj/search-converter/internal/tarindex"
)

// sraBatchSubmissions is how many submissions one output shard covers.
const sraBatchSubmissions = 5000

// sraTypes maps the accessions store's entity types onto accession
// types, in output-file order.
var sraTypes = []struct {
	entity string
	acc    accession.Type
}{
	{"SUBMISSION", accession.TypeSRASubmission},
	{"STUDY", accession.TypeSRAStudy},
	{"EXPERIMENT", accession.TypeSRAExperiment},
	{"SAMPLE", accession.TypeSRASample},
	{"RUN", accession.TypeSRARun},
	{"ANALYSIS", accession.TypeSRAAnalysis},
}

func sraType(entity string) (accession.Type, bool) {
	for _, t := range sraTypes {
		if t.entity == entity {
			return t.acc, true
		}
	}
	return "", false
}

// SRAInputs are the per-source inputs of the SRA emitter. Tar is the
// metadata archive for title extraction; nil leaves titles empty.
type SRAInputs struct {
	Store  *accessions.Store
	Tar    *tarindex.Reader
	Source string // "sra" or "dra", used in output file names
}

// sraProperties is the document properties payload for SRA entities,
// projected from the accessions store row.
type sraProperties struct {
	Accession  string `json:"accession"`
	Submission string `json:"submission,omitempty"`
	BioSample  string `json:"biosample,omitempty"`
	BioProject string `json:"bioproject,omitempty"`
	Study      string `json:"study,omitempty"`
	Experiment string `json:"experiment,omitempty"`
	Sample     string `json:"sample,omitempty"`
	Status     string `json:"status,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Updated    string `json:"updated,omitempty"`
	Published  string `json:"published,omitempty"`
	Received   string `json:"received,omitempty"`
}

// EmitSRA renders the six per-type JSONL files in batches of 5,000
// submissions. Every document of one submission lands in the same
// batch, so a failed batch never leaves a submission half-emitted.
func EmitSRA(ctx context.Context, rep dblink.Reporter, deps Deps,
	in SRAInputs, outDir string, opt Options) (*Stats, error) {

	submissions, err := selectSubmissions(ctx, rep, in, opt)
	if err != nil {
		return nil, err
	}
	rep.Info(fmt.Sprintf("emitting %s documents for %d submissions", in.Source, len(submissions)))

	var batches [][]string
	for len(submissions) > 0 {
		n := sraBatchSubmissions
		if len(submissions) < n {
			n = len(submissions)
		}
		batches = append(batches, submissions[:n])
		submissions = submissions[n:]
	}

	var stats Stats
	var failed int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.parallel())
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			written, skipped, err := emitSRABatch(gctx, rep, deps, in, outDir, i+1, batch, opt)
			atomic.AddInt64(&stats.Written, written)
			atomic.AddInt64(&stats.Skipped, skipped)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				rep.Error(fmt.Sprintf("%s batch %d failed", in.Source, i+1), err)
				atomic.AddInt32(&failed, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.FailedShards = int(failed)
	if stats.FailedShards > 0 {
		return &stats, fmt.Errorf("%d of %d %s batches failed", stats.FailedShards, len(batches), in.Source)
	}
	return &stats, nil
}

// selectSubmissions picks the submission set for this run: everything
// updated since the cutoff, or in regenerate mode the submissions
// owning the requested accessions.
func selectSubmissions(ctx context.Context, rep dblink.Reporter, in SRAInputs, opt Options) ([]string, error) {
	set := map[string]bool{}
	if opt.Filter != nil {
		for acc := range opt.Filter {
			rec, err := in.Store.Get(acc)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				rep.Warning("accession not in accessions store",
					runlog.Accession(acc), runlog.Source(in.Source))
				continue
			}
			sub := rec.Submission
			if sub == "" {
				sub = rec.Accession
			}
			set[sub] = true
		}
	} else {
		cutoff := ""
		if opt.Cutoff != nil {
			cutoff = opt.Cutoff.UTC().Format(time.RFC3339)
		}
		err := in.Store.UpdatedSince(ctx, "SUBMISSION", cutoff, func(r *accessions.Record) error {
			set[r.Accession] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func emitSRABatch(ctx context.Context, rep dblink.Reporter, deps Deps,
	in SRAInputs, outDir string, n int, batch []string, opt Options) (written, skipped int64, err error) {

	if opt.Resume {
		done := true
		for _, t := range sraTypes {
			if !opt.resumable(filepath.Join(outDir, shardFileName(in.Source, indexName(t.acc), n))) {
				done = false
			}
		}
		if done {
			return 0, 0, nil
		}
	}

	writers := make(map[accession.Type]*shardWriter, len(sraTypes))
	defer func() {
		if err != nil {
			for _, w := range writers {
				w.abort()
			}
		}
	}()
	for _, t := range sraTypes {
		w, werr := newShardWriter(filepath.Join(outDir, shardFileName(in.Source, indexName(t.acc), n)))
		if werr != nil {
			return 0, 0, werr
		}
		writers[t.acc] = w
	}
	emit := func(t accession.Type, doc *Document) error {
		return writers[t].write(doc)
	}
	for _, sub := range batch {
		w, s, err := emitSRASubmission(ctx, rep, deps, in, emit, sub, opt)
		written += w
		skipped += s
		if err != nil {
			return written, skipped, err
		}
	}
	for _, w := range writers {
		if err := w.close(); err != nil {
			return written, skipped, err
		}
	}
	return written, skipped, nil
}

func emitSRASubmission(ctx context.Context, rep dblink.Reporter, deps Deps,
	in SRAInputs, emit func(accession.Type, *Document) error, sub string, opt Options) (written, skipped int64, err error) {

	titles := map[string]string{}
	if in.Tar != nil {
		titles = sraTitles(rep, in.Tar, sub)
	}

	type sraDoc struct {
		t   accession.Type
		doc *Document
	}
	var docs []sraDoc
	err = in.Store.Downstream(ctx, sub, func(rec *accessions.Record) error {
		t, ok := sraType(rec.Type)
		if !ok {
			rep.Debug(runlog.CatInvalidAccessionID, "record has an unknown entity type",
				runlog.Accession(rec.Accession), runlog.Source(in.Source))
			skipped++
			return nil
		}
		if !accession.IsValid(rec.Accession, t) {
			rep.Debug(accession.InvalidCategory(t), "accession does not match its type pattern",
				runlog.Accession(rec.Accession), runlog.Source(in.Source))
			skipped++
			return nil
		}
		if !opt.wants(deps.Blacklist, rec.Accession, "") {
			skipped++
			return nil
		}
		doc, err := buildSRADocument(ctx, rep, deps, in.Source, t, rec, titles)
		if err != nil {
			return err
		}
		docs = append(docs, sraDoc{t: t, doc: doc})
		return nil
	})
	if err != nil {
		return written, skipped, err
	}

	// All of a submission's documents are flushed together.
	for _, d := range docs {
		if err := emit(d.t, d.doc); err != nil {
			return written, skipped, err
		}
		written++
	}
	return written, skipped, nil
}

func buildSRADocument(ctx context.Context, rep dblink.Reporter, deps Deps,
	source string, t accession.Type, rec *accessions.Record, titles map[string]string) (*Document, error) {

	doc := baseDocument(t, rec.Accession)
	doc.Properties = &sraProperties{
		Accession:  rec.Accession,
		Submission: rec.Submission,
		BioSample:  rec.BioSample,
		BioProject: rec.BioProject,
		Study:      rec.Study,
		Experiment: rec.Experiment,
		Sample:     rec.Sample,
		Status:     rec.Status,
		Visibility: rec.Visibility,
		Updated:    rec.Updated,
		Published:  rec.Published,
		Received:   rec.Received,
	}
	doc.Status = normalizeStatus(rec.Status)
	doc.Title = titles[rec.Accession]
	for _, d := range []struct {
		raw string
		dst *string
	}{
		{rec.Received, &doc.DateCreated},
		{rec.Updated, &doc.DateModified},
		{rec.Published, &doc.DatePublished},
	} {
		if v, ok := normalizeDate(d.raw); ok {
			*d.dst = v
		} else {
			*d.dst = d.raw
			rep.Debug(runlog.CatNormalizeDate, "unparseable store timestamp",
				runlog.Accession(rec.Accession), runlog.Source(source))
		}
	}
	xrefs, err := lookupXrefs(ctx, deps.Graph, t, rec.Accession)
	if err != nil {
		return nil, err
	}
	doc.DBXrefs = xrefs
	return &doc, nil
}

// sraTitles pulls TITLE elements out of a submission's metadata XML in
// the tar archive, keyed by the accession attribute of the enclosing
// element. Missing or malformed metadata leaves titles empty.
func sraTitles(rep dblink.Reporter, r *tarindex.Reader, sub string) map[string]string {
	titles := map[string]string{}
	for _, name := range r.Names(sub + "/") {
		if !strings.HasSuffix(name, ".xml") {
			continue
		}
		data, err := r.Read(name)
		if err != nil {
			rep.Warning("failed to read metadata from archive", runlog.File(name))
			continue
		}
		parseTitles(data, titles)
	}
	return titles
}

func parseTitles(data []byte, titles map[string]string) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	current := ""
	inTitle := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			for _, a := range t.Attr {
				if a.Name.Local == "accession" && a.Value != "" {
					current = a.Value
				}
			}
			inTitle = t.Name.Local == "TITLE"
		case xml.CharData:
			if inTitle && current != "" {
				if v := strings.TrimSpace(string(t)); v != "" && titles[current] == "" {
					titles[current] = v
				}
			}
		case xml.EndElement:
			if t.Name.Local == "TITLE" {
				inTitle = false
			}
		}
	}
}
