package dblink

import (
	"context"
	"fmt"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/accessions"
)

// sraLink names one column join against the accessions store: records
// of entityType with a non-NULL column produce an edge of ownerType to
// the column's classified value.
type sraLink struct {
	entityType string
	ownerType  accession.Type
	column     string
}

// sraLinks is the fixed join plan: every entity links to its
// submission, plus the internal cross-links and the outward bioproject
// and biosample references carried by the dump.
var sraLinks = []sraLink{
	{"STUDY", accession.TypeSRAStudy, "submission"},
	{"STUDY", accession.TypeSRAStudy, "bioproject"},
	{"EXPERIMENT", accession.TypeSRAExperiment, "submission"},
	{"EXPERIMENT", accession.TypeSRAExperiment, "study"},
	{"EXPERIMENT", accession.TypeSRAExperiment, "sample"},
	{"EXPERIMENT", accession.TypeSRAExperiment, "biosample"},
	{"EXPERIMENT", accession.TypeSRAExperiment, "bioproject"},
	{"RUN", accession.TypeSRARun, "submission"},
	{"RUN", accession.TypeSRARun, "experiment"},
	{"RUN", accession.TypeSRARun, "sample"},
	{"RUN", accession.TypeSRARun, "biosample"},
	{"SAMPLE", accession.TypeSRASample, "submission"},
	{"SAMPLE", accession.TypeSRASample, "biosample"},
	{"ANALYSIS", accession.TypeSRAAnalysis, "submission"},
	{"ANALYSIS", accession.TypeSRAAnalysis, "study"},
}

// ExtractSRA appends the intra-SRA and SRA-to-BP/BS relations by
// draining the join plan against one accessions store. The same routine
// serves both the NCBI SRA and the DDBJ DRA store.
func ExtractSRA(ctx context.Context, rep Reporter, w *Writer, store *accessions.Store, label string) error {
	rep.Info(fmt.Sprintf("extracting sra relations from %s accessions store", label))
	for _, link := range sraLinks {
		err := store.Pairs(ctx, link.entityType, link.column, func(acc, linked string) error {
			return addClassified(ctx, w, rep, label, acc, linked)
		})
		if err != nil {
			return fmt.Errorf("failed to extract %s-%s pairs: %w", link.entityType, link.column, err)
		}
	}
	return nil
}
