package jsonl

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// bpPackage is the slice of a BioProject Package element the emitter
// materializes. It doubles as the document's properties payload.
type bpPackage struct {
	ProjectID struct {
		ArchiveID []struct {
			Accession string `xml:"accession,attr" json:"accession"`
			Archive   string `xml:"archive,attr" json:"archive"`
		} `xml:"ArchiveID" json:"ArchiveID"`
	} `xml:"Project>Project>ProjectID" json:"ProjectID"`
	Descr struct {
		Title       string `xml:"Title" json:"Title"`
		Description string `xml:"Description" json:"Description,omitempty"`
		Publication []struct {
			ID     string `xml:"id,attr" json:"id"`
			Date   string `xml:"date,attr" json:"date,omitempty"`
			Status string `xml:"status,attr" json:"status,omitempty"`
			DbType string `xml:"DbType" json:"DbType,omitempty"`
			Title  string `xml:"StructuredCitation>Title" json:"title,omitempty"`
		} `xml:"Publication" json:"Publication,omitempty"`
		Grant []struct {
			ID     string `xml:"GrantId,attr" json:"GrantId"`
			Title  string `xml:"Title" json:"Title,omitempty"`
			Agency struct {
				Abbr string `xml:"abbr,attr" json:"abbr"`
				Name string `xml:",chardata" json:"name"`
			} `xml:"Agency" json:"Agency"`
		} `xml:"Grant" json:"Grant,omitempty"`
		ExternalLink []struct {
			Label string `xml:"label,attr" json:"label"`
			URL   string `xml:"URL" json:"URL"`
		} `xml:"ExternalLink" json:"ExternalLink,omitempty"`
	} `xml:"Project>Project>ProjectDescr" json:"ProjectDescr"`
	Type struct {
		TopAdmin *struct {
			Subtype string `xml:"subtype,attr" json:"subtype,omitempty"`
		} `xml:"ProjectTypeTopAdmin" json:"ProjectTypeTopAdmin,omitempty"`
		Submission *struct {
			Target struct {
				Organism struct {
					TaxID string `xml:"taxID,attr" json:"taxID"`
					Name  string `xml:"OrganismName" json:"OrganismName"`
				} `xml:"Organism" json:"Organism"`
			} `xml:"Target" json:"Target"`
		} `xml:"ProjectTypeSubmission" json:"ProjectTypeSubmission,omitempty"`
	} `xml:"Project>Project>ProjectType" json:"ProjectType"`
	Submission struct {
		Submitted  string `xml:"submitted,attr" json:"submitted,omitempty"`
		LastUpdate string `xml:"last_update,attr" json:"last_update,omitempty"`
		Organization []struct {
			Role string `xml:"role,attr" json:"role,omitempty"`
			URL  string `xml:"url,attr" json:"url,omitempty"`
			Name struct {
				Abbr  string `xml:"abbr,attr" json:"abbr,omitempty"`
				Value string `xml:",chardata" json:"name"`
			} `xml:"Name" json:"Name"`
		} `xml:"Description>Organization" json:"Organization,omitempty"`
	} `xml:"Project>Submission" json:"Submission"`
}

func (p *bpPackage) primary() string {
	for _, a := range p.ProjectID.ArchiveID {
		if a.Accession != "" {
			return a.Accession
		}
	}
	return ""
}

// EmitBioProject renders one JSONL file per BioProject XML shard. Shard
// failures are logged and counted; the step fails if any shard failed.
func EmitBioProject(ctx context.Context, rep dblink.Reporter, deps Deps,
	shardDirs []string, outDir string, opt Options) (*Stats, error) {

	shards, err := collectShards(shardDirs)
	if err != nil {
		return nil, err
	}
	rep.Info(fmt.Sprintf("emitting bioproject documents from %d shards", len(shards)))

	var stats Stats
	var failed int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.parallel())
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			written, skipped, err := emitBPShard(gctx, rep, deps, shard, outPath(outDir, shard), opt)
			atomic.AddInt64(&stats.Written, written)
			atomic.AddInt64(&stats.Skipped, skipped)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				rep.Error("bioproject shard failed", err, runlog.File(shard))
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
		return &stats, fmt.Errorf("%d of %d bioproject shards failed", stats.FailedShards, len(shards))
	}
	return &stats, nil
}

func emitBPShard(ctx context.Context, rep dblink.Reporter, deps Deps,
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
	written, skipped, err = scanBPShard(ctx, rep, deps, shard, opt, func(doc *BioProjectDocument) error {
		return w.write(doc)
	})
	if err != nil {
		return written, skipped, err
	}
	err = w.close()
	return written, skipped, err
}

// scanBPShard streams one shard's packages through the filter gates
// and hands every surviving document to emit.
func scanBPShard(ctx context.Context, rep dblink.Reporter, deps Deps,
	shard string, opt Options, emit func(*BioProjectDocument) error) (written, skipped int64, err error) {

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
		if !ok || start.Name.Local != "Package" {
			continue
		}
		var pkg bpPackage
		if err := dec.DecodeElement(&pkg, &start); err != nil {
			return written, skipped, fmt.Errorf("failed to decode Package: %w", err)
		}

		primary := pkg.primary()
		if !accession.IsValid(primary, accession.TypeBioProject) {
			rep.Debug(runlog.CatInvalidBioProjectID, "package has no valid project accession",
				runlog.Accession(primary), runlog.File(shard))
			skipped++
			continue
		}
		modified, okDate := normalizeDate(pkg.Submission.LastUpdate)
		if !okDate {
			rep.Debug(runlog.CatNormalizeDate, "unparseable last_update",
				runlog.Accession(primary), runlog.File(shard))
		}
		if !opt.wants(deps.Blacklist, primary, modified) {
			skipped++
			continue
		}

		doc, err := buildBPDocument(ctx, rep, deps, shard, primary, &pkg, modified)
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

func buildBPDocument(ctx context.Context, rep dblink.Reporter, deps Deps,
	shard, primary string, pkg *bpPackage, modified string) (*BioProjectDocument, error) {

	docType := accession.TypeBioProject
	objectType := ObjectTypePrimary
	if pkg.Type.TopAdmin != nil {
		docType = accession.TypeUmbrellaBioProject
		objectType = ObjectTypeUmbrella
	}

	doc := &BioProjectDocument{
		Document:     baseDocument(docType, primary),
		ObjectType:   objectType,
		Organization: []Organization{},
		Publication:  []Publication{},
		Grant:        []Grant{},
		ExternalLink: []ExternalLink{},
	}
	doc.Properties = pkg
	doc.Title = normalizeText(pkg.Descr.Title)
	doc.Description = normalizeText(pkg.Descr.Description)
	doc.DateModified = modified
	if created, ok := normalizeDate(pkg.Submission.Submitted); ok {
		doc.DateCreated = created
	} else {
		doc.DateCreated = pkg.Submission.Submitted
		rep.Debug(runlog.CatNormalizeDate, "unparseable submitted date",
			runlog.Accession(primary), runlog.File(shard))
	}

	if sub := pkg.Type.Submission; sub != nil && sub.Target.Organism.Name != "" {
		org := sub.Target.Organism
		if org.TaxID == "" || !accession.IsValid(org.TaxID, accession.TypeTaxonomy) {
			rep.Debug(runlog.CatNormalizeOrganism, "organism has no usable taxonomy id",
				runlog.Accession(primary), runlog.File(shard))
		}
		doc.Organism = &Organism{Identifier: org.TaxID, Name: normalizeText(org.Name)}
	}

	for _, o := range pkg.Submission.Organization {
		doc.Organization = append(doc.Organization, Organization{
			Name:         normalizeText(o.Name.Value),
			Abbreviation: o.Name.Abbr,
			Role:         o.Role,
			URL:          o.URL,
		})
	}
	for _, p := range pkg.Descr.Publication {
		pub := Publication{
			ID:     p.ID,
			Title:  normalizeText(p.Title),
			Date:   p.Date,
			DbType: p.DbType,
			Status: p.Status,
		}
		if accession.IsValid(p.ID, accession.TypePubmedID) {
			pub.URL = xrefURL(accession.TypePubmedID, p.ID)
		}
		doc.Publication = append(doc.Publication, pub)
	}
	for _, g := range pkg.Descr.Grant {
		doc.Grant = append(doc.Grant, Grant{
			ID:    g.ID,
			Title: normalizeText(g.Title),
			Agency: []Agency{{
				Abbreviation: g.Agency.Abbr,
				Name:         normalizeText(g.Agency.Name),
			}},
		})
	}
	for _, l := range pkg.Descr.ExternalLink {
		doc.ExternalLink = append(doc.ExternalLink, ExternalLink{URL: l.URL, Label: l.Label})
	}

	xrefs, err := lookupXrefs(ctx, deps.Graph, docType, primary)
	if err != nil {
		return nil, err
	}
	doc.DBXrefs = xrefs
	if err := overrideDates(&doc.Document, deps.Dates, primary); err != nil {
		return nil, err
	}
	return doc, nil
}

// collectShards lists every shard file across the given directories in
// name order.
func collectShards(dirs []string) ([]string, error) {
	var shards []string
	for _, dir := range dirs {
		for _, pattern := range []string{"*.xml", "*.xml.gz"} {
			files, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("failed to list shards in %s: %w", dir, err)
			}
			shards = append(shards, files...)
		}
	}
	sort.Strings(shards)
	return shards, nil
}
