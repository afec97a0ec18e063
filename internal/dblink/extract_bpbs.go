package dblink

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/runlog"
)

// bioSampleRecord is the slice of a BioSample element that carries
// cross-references. NCBI and DDBJ dumps differ in where the BioProject
// reference hides; both shapes are covered here.
type bioSampleRecord struct {
	Accession string `xml:"accession,attr"`
	IDs       []struct {
		Namespace string `xml:"namespace,attr"`
		Value     string `xml:",chardata"`
	} `xml:"Ids>Id"`
	Links []struct {
		Target string `xml:"target,attr"`
		Label  string `xml:"label,attr"`
		Value  string `xml:",chardata"`
	} `xml:"Links>Link"`
	Attributes []struct {
		Name       string `xml:"attribute_name,attr"`
		Harmonized string `xml:"harmonized_name,attr"`
		Value      string `xml:",chardata"`
	} `xml:"Attributes>Attribute"`
}

// primary returns the BioSample accession: the accession attribute when
// present (NCBI), otherwise the Ids entry with namespace BioSample (DDBJ).
func (r *bioSampleRecord) primary() string {
	if r.Accession != "" {
		return r.Accession
	}
	for _, id := range r.IDs {
		if id.Namespace == "BioSample" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// bioProjectRefs collects every BioProject reference of the record:
// Link[target=bioproject] (label preferred over text, bare numerics get
// the PRJNA prefix) and the bioproject accession attributes.
func (r *bioSampleRecord) bioProjectRefs() []string {
	var refs []string
	for _, l := range r.Links {
		if !strings.EqualFold(l.Target, "bioproject") {
			continue
		}
		v := strings.TrimSpace(l.Label)
		if v == "" {
			v = strings.TrimSpace(l.Value)
		}
		if v == "" {
			continue
		}
		if isDigits(v) {
			v = "PRJNA" + v
		}
		refs = append(refs, v)
	}
	for _, a := range r.Attributes {
		name := a.Harmonized
		if name == "" {
			name = a.Name
		}
		switch name {
		case "bioproject_accession", "bioproject_id":
			if v := strings.TrimSpace(a.Value); v != "" {
				refs = append(refs, v)
			}
		}
	}
	return refs
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ExtractBPBS walks BioSample shards and appends bioproject-biosample
// edges, then supplements the curated preserved pairs. Shard parses run
// in a bounded worker pool; a failed shard is logged and skipped.
func ExtractBPBS(ctx context.Context, rep Reporter, w *Writer,
	shardDirs []string, preserved []blacklist.Relation, parallel int) error {

	var shards []string
	for _, dir := range shardDirs {
		files, err := listShards(dir, "*.xml")
		if err != nil {
			return fmt.Errorf("failed to list shards in %s: %w", dir, err)
		}
		shards = append(shards, files...)
	}
	rep.Info(fmt.Sprintf("extracting bioproject-biosample relations from %d shards", len(shards)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			if err := extractBPBSShard(gctx, rep, w, shard); err != nil {
				if gctx.Err() != nil {
					return err
				}
				rep.Error("biosample shard failed", err, runlog.File(shard))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rel := range preserved {
		if err := addTyped(ctx, w, rep, "preserved", rel.AType, rel.A, rel.BType, rel.B); err != nil {
			return err
		}
	}
	return nil
}

func extractBPBSShard(ctx context.Context, rep Reporter, w *Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse shard: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "BioSample" {
			continue
		}
		var rec bioSampleRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return fmt.Errorf("failed to decode BioSample: %w", err)
		}
		bs := rec.primary()
		if !accession.IsValid(bs, accession.TypeBioSample) {
			rep.Debug(runlog.CatInvalidBioSampleID, "biosample record has no valid accession",
				runlog.Accession(bs), runlog.File(path))
			continue
		}
		for _, bp := range rec.bioProjectRefs() {
			if !accession.IsValid(bp, accession.TypeBioProject) {
				rep.Debug(runlog.CatInvalidBioProjectID, "biosample references invalid bioproject",
					runlog.Accession(bp), runlog.File(path))
				continue
			}
			err := w.Add(ctx, Edge{
				SrcType: accession.TypeBioProject, SrcAcc: bp,
				DstType: accession.TypeBioSample, DstAcc: bs,
			})
			if err != nil {
				return err
			}
		}
	}
}
