package dblink

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/runlog"
)

// Reporter is the slice of the run log the extractors need. *runlog.Run
// satisfies it.
type Reporter interface {
	Debug(category, msg string, fields ...runlog.Field)
	Info(msg string, fields ...runlog.Field)
	Warning(msg string, fields ...runlog.Field)
	Error(msg string, err error, fields ...runlog.Field)
}

// addClassified classifies both raw identifiers and hands the edge to
// the writer. Endpoints that fail classification are dropped with a
// DEBUG record and the edge is not written.
func addClassified(ctx context.Context, w *Writer, rep Reporter, file, rawA, rawB string) error {
	aType, a, ok := accession.Classify(rawA)
	if !ok {
		rep.Debug(runlog.CatInvalidAccessionID, "endpoint failed classification",
			runlog.Accession(rawA), runlog.File(file))
		return nil
	}
	bType, b, ok := accession.Classify(rawB)
	if !ok {
		rep.Debug(runlog.CatInvalidAccessionID, "endpoint failed classification",
			runlog.Accession(rawB), runlog.File(file))
		return nil
	}
	return w.Add(ctx, Edge{SrcType: aType, SrcAcc: a, DstType: bType, DstAcc: b})
}

// addTyped writes an edge whose endpoints are already normalized but
// still validates both against their expected patterns.
func addTyped(ctx context.Context, w *Writer, rep Reporter, file string,
	aType accession.Type, a string, bType accession.Type, b string) error {
	if !accession.IsValid(a, aType) {
		rep.Debug(accession.InvalidCategory(aType), "accession does not match its type pattern",
			runlog.Accession(a), runlog.File(file))
		return nil
	}
	if !accession.IsValid(b, bType) {
		rep.Debug(accession.InvalidCategory(bType), "accession does not match its type pattern",
			runlog.Accession(b), runlog.File(file))
		return nil
	}
	return w.Add(ctx, Edge{SrcType: aType, SrcAcc: a, DstType: bType, DstAcc: b})
}

// listShards returns the shard files of a directory in name order.
func listShards(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
