package jsonl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/dblink"
)

// xrefURL renders the landing URL for one cross-referenced accession.
func xrefURL(t accession.Type, acc string) string {
	switch t {
	case accession.TypeBioProject, accession.TypeUmbrellaBioProject:
		return "https://ddbj.nig.ac.jp/search/entry/bioproject/" + acc
	case accession.TypeBioSample:
		return "https://ddbj.nig.ac.jp/search/entry/biosample/" + acc
	case accession.TypeSRASubmission, accession.TypeSRAStudy, accession.TypeSRAExperiment,
		accession.TypeSRARun, accession.TypeSRASample, accession.TypeSRAAnalysis:
		return "https://ddbj.nig.ac.jp/resource/" + string(t) + "/" + acc
	case accession.TypeJGAStudy, accession.TypeJGADataset, accession.TypeJGADAC, accession.TypeJGAPolicy:
		return "https://ddbj.nig.ac.jp/resource/" + string(t) + "/" + acc
	case accession.TypeGEA:
		return geaURL(acc)
	case accession.TypeMetaboBank:
		return "https://mb2.ddbj.nig.ac.jp/study/" + acc + ".html"
	case accession.TypeINSDCAssembly:
		return "https://www.ncbi.nlm.nih.gov/datasets/genome/" + acc + "/"
	case accession.TypeINSDCMaster:
		return "https://getentry.ddbj.nig.ac.jp/getentry/na/" + acc
	case accession.TypeHumID:
		return "https://humandbs.dbcls.jp/" + acc
	case accession.TypePubmedID:
		return "https://pubmed.ncbi.nlm.nih.gov/" + acc + "/"
	case accession.TypeGEO:
		return "https://www.ncbi.nlm.nih.gov/geo/query/acc.cgi?acc=" + acc
	case accession.TypeTaxonomy:
		return "https://www.ncbi.nlm.nih.gov/Taxonomy/Browser/wwwtax.cgi?id=" + acc
	}
	return ""
}

// geaURL buckets experiments by thousands, matching the archive's
// directory layout (E-GEAD-1234 lives under E-GEAD-001/).
func geaURL(acc string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(acc, "E-GEAD-"))
	if err != nil {
		return "https://ddbj.nig.ac.jp/public/ddbj_database/gea/experiment/" + acc + "/"
	}
	bucket := fmt.Sprintf("E-GEAD-%03d", (n/1000)*1000)
	return fmt.Sprintf("https://ddbj.nig.ac.jp/public/ddbj_database/gea/experiment/%s/%s/", bucket, acc)
}

// buildXrefs converts relation-graph neighbors into the dbXrefs list.
func buildXrefs(neighbors []dblink.Endpoint) []Xref {
	out := make([]Xref, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, Xref{
			Identifier: n.Acc,
			Type:       string(n.Type),
			URL:        xrefURL(n.Type, n.Acc),
		})
	}
	return out
}

// entryURL is the landing URL of the emitted document itself.
func entryURL(index, acc string) string {
	return "https://ddbj.nig.ac.jp/search/entry/" + index + "/" + acc
}
