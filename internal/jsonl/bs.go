package jsonl

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// bsRecord is the slice of a BioSample element the emitter
// materializes. NCBI carries the accession as an attribute; DDBJ sets
// it in the Ids list. It doubles as the document's properties payload.
type bsRecord struct {
	Accession       string `xml:"accession,attr" json:"accession,omitempty"`
	SubmissionDate  string `xml:"submission_date,attr" json:"submission_date,omitempty"`
	LastUpdate      string `xml:"last_update,attr" json:"last_update,omitempty"`
	PublicationDate string `xml:"publication_date,attr" json:"publication_date,omitempty"`
	Ids             []struct {
		Namespace string `xml:"namespace,attr" json:"namespace,omitempty"`
		DB        string `xml:"db,attr" json:"db,omitempty"`
		Value     string `xml:",chardata" json:"content"`
	} `xml:"Ids>Id" json:"Ids,omitempty"`
	Description struct {
		Title    string `xml:"Title" json:"Title,omitempty"`
		Organism struct {
			TaxID string `xml:"taxonomy_id,attr" json:"taxonomy_id,omitempty"`
			Name  string `xml:"taxonomy_name,attr" json:"taxonomy_name,omitempty"`
			Full  string `xml:"OrganismName" json:"OrganismName,omitempty"`
		} `xml:"Organism" json:"Organism"`
		Paragraph []string `xml:"Comment>Paragraph" json:"Paragraph,omitempty"`
	} `xml:"Description" json:"Description"`
	Models []struct {
		Version string `xml:"version,attr" json:"version,omitempty"`
		Value   string `xml:",chardata" json:"content"`
	} `xml:"Models>Model" json:"Models,omitempty"`
	Package struct {
		DisplayName string `xml:"display_name,attr" json:"display_name,omitempty"`
		Value       string `xml:",chardata" json:"content"`
	} `xml:"Package" json:"Package"`
	Attributes []struct {
		Name       string `xml:"attribute_name,attr" json:"attribute_name"`
		Display    string `xml:"display_name,attr" json:"display_name,omitempty"`
		Harmonized string `xml:"harmonized_name,attr" json:"harmonized_name,omitempty"`
		Value      string `xml:",chardata" json:"content"`
	} `xml:"Attributes>Attribute" json:"Attributes,omitempty"`
}

func (r *bsRecord) primary() string {
	if r.Accession != "" {
		return r.Accession
	}
	for _, id := range r.Ids {
		if strings.EqualFold(id.Namespace, "BioSample") || strings.EqualFold(id.DB, "BioSample") {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// EmitBioSample renders one JSONL file per BioSample XML shard.
func EmitBioSample(ctx context.Context, rep dblink.Reporter, deps Deps,
	shardDirs []string, outDir string, opt Options) (*Stats, error) {

	shards, err := collectShards(shardDirs)
	if err != nil {
		return nil, err
	}
	rep.Info(fmt.Sprintf("emitting biosample documents from %d shards", len(shards)))

	var stats Stats
	var failed int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.parallel())
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			written, skipped, err := emitBSShard(gctx, rep, deps, shard, outPath(outDir, shard), opt)
			atomic.AddInt64(&stats.Written, written)
			atomic.AddInt64(&stats.Skipped, skipped)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				rep.Error("biosample shard failed", err, runlog.File(shard))
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
		return &stats, fmt.Errorf("%d of %d biosample shards failed", stats.FailedShards, len(shards))
	}
	return &stats, nil
}

func emitBSShard(ctx context.Context, rep dblink.Reporter, deps Deps,
	shard, out string, opt Options) (written, skipped int64, err error) {

	if opt.resumable(out) {
		return 0, 0, nil
	}
	w, err := newShardWriter(out)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			w.abort()
		}
	}()
	written, skipped, err = scanBSShard(ctx, rep, deps, shard, opt, func(doc *BioSampleDocument) error {
		return w.write(doc)
	})
	if err != nil {
		return written, skipped, err
	}
	err = w.close()
	return written, skipped, err
}

func scanBSShard(ctx context.Context, rep dblink.Reporter, deps Deps,
	shard string, opt Options, emit func(*BioSampleDocument) error) (written, skipped int64, err error) {

	f, err := os.Open(shard)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(shard, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to open shard: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	dec := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return written, skipped, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, skipped, fmt.Errorf("failed to parse shard: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "BioSample" {
			continue
		}
		var rec bsRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return written, skipped, fmt.Errorf("failed to decode BioSample: %w", err)
		}

		primary := rec.primary()
		if !accession.IsValid(primary, accession.TypeBioSample) {
			rep.Debug(runlog.CatInvalidBioSampleID, "record has no valid sample accession",
				runlog.Accession(primary), runlog.File(shard))
			skipped++
			continue
		}
		modified, okDate := normalizeDate(rec.LastUpdate)
		if !okDate {
			rep.Debug(runlog.CatNormalizeDate, "unparseable last_update",
				runlog.Accession(primary), runlog.File(shard))
		}
		if !opt.wants(deps.Blacklist, primary, modified) {
			skipped++
			continue
		}

		doc, err := buildBSDocument(ctx, rep, deps, shard, primary, &rec, modified)
		if err != nil {
			return written, skipped, err
		}
		if err := emit(doc); err != nil {
			return written, skipped, err
		}
		written++
	}
	return written, skipped, nil
}

func buildBSDocument(ctx context.Context, rep dblink.Reporter, deps Deps,
	shard, primary string, rec *bsRecord, modified string) (*BioSampleDocument, error) {

	doc := &BioSampleDocument{
		Document:   baseDocument(accession.TypeBioSample, primary),
		Attributes: []Attribute{},
		Model:      []string{},
	}
	doc.Properties = rec
	doc.Title = normalizeText(rec.Description.Title)
	doc.Description = normalizeText(strings.Join(rec.Description.Paragraph, " "))
	doc.DateModified = modified
	if created, ok := normalizeDate(rec.SubmissionDate); ok {
		doc.DateCreated = created
	} else {
		doc.DateCreated = rec.SubmissionDate
		rep.Debug(runlog.CatNormalizeDate, "unparseable submission_date",
			runlog.Accession(primary), runlog.File(shard))
	}
	if published, ok := normalizeDate(rec.PublicationDate); ok {
		doc.DatePublished = published
	} else {
		doc.DatePublished = rec.PublicationDate
		rep.Debug(runlog.CatNormalizeDate, "unparseable publication_date",
			runlog.Accession(primary), runlog.File(shard))
	}

	org := rec.Description.Organism
	name := org.Full
	if name == "" {
		name = org.Name
	}
	if name != "" || org.TaxID != "" {
		if org.TaxID == "" || !accession.IsValid(org.TaxID, accession.TypeTaxonomy) {
			rep.Debug(runlog.CatNormalizeOrganism, "organism has no usable taxonomy id",
				runlog.Accession(primary), runlog.File(shard))
		}
		doc.Organism = &Organism{Identifier: org.TaxID, Name: normalizeText(name)}
	}

	for _, a := range rec.Attributes {
		if a.Name == "" && strings.TrimSpace(a.Value) == "" {
			rep.Debug(runlog.CatNormalizeAttribute, "attribute without name or content",
				runlog.Accession(primary), runlog.File(shard))
			continue
		}
		doc.Attributes = append(doc.Attributes, Attribute{
			AttributeName:  a.Name,
			DisplayName:    a.Display,
			HarmonizedName: a.Harmonized,
			Content:        strings.TrimSpace(a.Value),
		})
	}
	for _, m := range rec.Models {
		if v := strings.TrimSpace(m.Value); v != "" {
			doc.Model = append(doc.Model, v)
		}
	}
	doc.Package = strings.TrimSpace(rec.Package.Value)

	xrefs, err := lookupXrefs(ctx, deps.Graph, accession.TypeBioSample, primary)
	if err != nil {
		return nil, err
	}
	doc.DBXrefs = xrefs
	if err := overrideDates(&doc.Document, deps.Dates, primary); err != nil {
		return nil, err
	}
	return doc, nil
}
