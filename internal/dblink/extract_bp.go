package dblink

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/runlog"
)

// packageRecord is the slice of a BioProject Package element the
// extractor needs: the primary accession, the DDBJ submission id
// (hum-id), the GEO series id, and the umbrella hierarchy links.
type packageRecord struct {
	ProjectID struct {
		ArchiveID []struct {
			Accession string `xml:"accession,attr"`
		} `xml:"ArchiveID"`
		LocalID []struct {
			SubmissionID string `xml:"submission_id,attr"`
			Value        string `xml:",chardata"`
		} `xml:"LocalID"`
		CenterID []struct {
			Center string `xml:"center,attr"`
			Value  string `xml:",chardata"`
		} `xml:"CenterID"`
	} `xml:"Project>Project>ProjectID"`
	Links []struct {
		Hierarchical *struct {
			Type     string `xml:"type,attr"`
			MemberID struct {
				Accession string `xml:"accession,attr"`
			} `xml:"MemberID"`
		} `xml:"Hierarchical"`
		ProjectIDRef struct {
			Accession string `xml:"accession,attr"`
		} `xml:"ProjectIDRef"`
	} `xml:"ProjectLinks>Link"`
}

func (r *packageRecord) primary() string {
	for _, a := range r.ProjectID.ArchiveID {
		if a.Accession != "" {
			return a.Accession
		}
	}
	return ""
}

// umbrellaCandidate is a child-parent pair held back until the whole
// corpus has been scanned; a parent absent from every shard is a
// private umbrella and produces no edge.
type umbrellaCandidate struct {
	child  string
	parent string
	file   string
}

// ExtractBPInternal walks BioProject shards and appends the
// project-internal relations: umbrella hierarchy, hum-id submissions,
// and GEO series. Umbrella edges need the full set of public project
// accessions, so candidates are buffered during the scan and resolved
// after it.
func ExtractBPInternal(ctx context.Context, rep Reporter, w *Writer,
	shardDirs []string, parallel int) error {

	var shards []string
	for _, dir := range shardDirs {
		files, err := listShards(dir, "*.xml")
		if err != nil {
			return fmt.Errorf("failed to list shards in %s: %w", dir, err)
		}
		shards = append(shards, files...)
	}
	rep.Info(fmt.Sprintf("extracting bioproject internal relations from %d shards", len(shards)))

	var (
		mu         sync.Mutex
		present    = make(map[string]bool)
		candidates []umbrellaCandidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			err := extractBPShard(gctx, rep, w, shard, func(primary string, cands []umbrellaCandidate) {
				mu.Lock()
				if primary != "" {
					present[primary] = true
				}
				candidates = append(candidates, cands...)
				mu.Unlock()
			})
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				rep.Error("bioproject shard failed", err, runlog.File(shard))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, c := range candidates {
		if !present[c.parent] {
			rep.Debug(runlog.CatPrivateUmbrellaParent, "umbrella parent absent from public projects",
				runlog.Accession(c.parent), runlog.File(c.file))
			continue
		}
		err := w.Add(ctx, Edge{
			SrcType: accession.TypeBioProject, SrcAcc: c.child,
			DstType: accession.TypeUmbrellaBioProject, DstAcc: c.parent,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func extractBPShard(ctx context.Context, rep Reporter, w *Writer, path string,
	collect func(primary string, cands []umbrellaCandidate)) error {

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
		if !ok || start.Name.Local != "Package" {
			continue
		}
		var rec packageRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return fmt.Errorf("failed to decode Package: %w", err)
		}
		primary := rec.primary()
		if !accession.IsValid(primary, accession.TypeBioProject) {
			rep.Debug(runlog.CatInvalidBioProjectID, "package has no valid project accession",
				runlog.Accession(primary), runlog.File(path))
			collect("", nil)
			continue
		}

		for _, local := range rec.ProjectID.LocalID {
			hum := accession.NormalizeHumID(strings.TrimSpace(local.SubmissionID))
			if hum == "" {
				continue
			}
			if !accession.IsValid(hum, accession.TypeHumID) {
				continue
			}
			err := w.Add(ctx, Edge{
				SrcType: accession.TypeBioProject, SrcAcc: primary,
				DstType: accession.TypeHumID, DstAcc: hum,
			})
			if err != nil {
				return err
			}
		}

		for _, center := range rec.ProjectID.CenterID {
			if !strings.EqualFold(center.Center, "GEO") {
				continue
			}
			gse := strings.TrimSpace(center.Value)
			if !accession.IsValid(gse, accession.TypeGEO) {
				continue
			}
			err := w.Add(ctx, Edge{
				SrcType: accession.TypeBioProject, SrcAcc: primary,
				DstType: accession.TypeGEO, DstAcc: gse,
			})
			if err != nil {
				return err
			}
		}

		var cands []umbrellaCandidate
		for _, link := range rec.Links {
			if link.Hierarchical == nil || link.Hierarchical.Type != "TopAdmin" {
				continue
			}
			child := link.ProjectIDRef.Accession
			parent := link.Hierarchical.MemberID.Accession
			if !accession.IsValid(child, accession.TypeBioProject) ||
				!accession.IsValid(parent, accession.TypeBioProject) {
				rep.Debug(runlog.CatInvalidBioProjectID, "umbrella link endpoint invalid",
					runlog.Accession(child+"/"+parent), runlog.File(path))
				continue
			}
			cands = append(cands, umbrellaCandidate{child: child, parent: parent, file: path})
		}
		collect(primary, cands)
	}
}
