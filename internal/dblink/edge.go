// Package dblink builds, finalizes, and serves the undirected relation
// graph connecting accessions across metadata sources. Edges accumulate
// in a temporary SQLite store fed by per-source extractors; finalize
// canonicalizes, prunes, and deduplicates before publishing.
package dblink

import (
	"github.com/ddbj/search-converter/internal/accession"
)

// Edge is one undirected relation between two classified accessions.
type Edge struct {
	SrcType accession.Type
	SrcAcc  string
	DstType accession.Type
	DstAcc  string
}

// NewEdge builds an edge from two raw identifiers, classifying both.
// ok is false when either side fails classification.
func NewEdge(rawA, rawB string) (Edge, bool) {
	aType, a, okA := accession.Classify(rawA)
	if !okA {
		return Edge{}, false
	}
	bType, b, okB := accession.Classify(rawB)
	if !okB {
		return Edge{}, false
	}
	return Edge{SrcType: aType, SrcAcc: a, DstType: bType, DstAcc: b}, true
}

// Canonical returns the edge with its endpoints ordered by the fixed
// total order (type ordinal ascending, then accession lexicographic).
// (A,B) and (B,A) canonicalize identically.
func (e Edge) Canonical() Edge {
	if e.less() {
		return e
	}
	return Edge{SrcType: e.DstType, SrcAcc: e.DstAcc, DstType: e.SrcType, DstAcc: e.SrcAcc}
}

// IsCanonical reports whether the endpoints are already ordered.
func (e Edge) IsCanonical() bool { return e.less() }

func (e Edge) less() bool {
	so, do := e.SrcType.Ordinal(), e.DstType.Ordinal()
	if so != do {
		return so < do
	}
	return e.SrcAcc <= e.DstAcc
}

// Endpoint is one side of an edge as seen from a query accession.
type Endpoint struct {
	Type accession.Type
	Acc  string
}
