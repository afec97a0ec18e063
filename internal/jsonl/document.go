// Package jsonl materializes per-entity search documents by joining
// shard XML with the relation graph, the date cache, and the per-source
// blacklists. One JSON object per line, one file per input shard.
package jsonl

import (
	"github.com/ddbj/search-converter/internal/accession"
)

// Organism identifies the sampled or studied organism.
type Organism struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Xref is one cross-referenced accession with its landing URL.
type Xref struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	URL        string `json:"url"`
}

// Distribution describes one downloadable rendition of the record.
type Distribution struct {
	Type           string `json:"type"`
	EncodingFormat string `json:"encodingFormat"`
	ContentURL     string `json:"contentUrl"`
}

// Document is the common search-document envelope shared by every
// family. Family-specific documents embed it.
type Document struct {
	Identifier    string         `json:"identifier"`
	Properties    interface{}    `json:"properties"`
	Distribution  []Distribution `json:"distribution"`
	IsPartOf      string         `json:"isPartOf"`
	Type          string         `json:"type"`
	Name          string         `json:"name,omitempty"`
	URL           string         `json:"url"`
	Organism      *Organism      `json:"organism"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	DBXrefs       []Xref         `json:"dbXrefs"`
	SameAs        []Xref         `json:"sameAs"`
	Status        string         `json:"status"`
	Accessibility string         `json:"accessibility"`
	DateCreated   string         `json:"dateCreated"`
	DateModified  string         `json:"dateModified"`
	DatePublished string         `json:"datePublished"`
}

// Agency names an organization in a grant.
type Agency struct {
	Abbreviation string `json:"abbreviation"`
	Name         string `json:"name"`
}

// Grant is one funding source of a BioProject.
type Grant struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Agency []Agency `json:"agency"`
}

// Organization is one submitting or funding body.
type Organization struct {
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	Role         string `json:"role"`
	URL          string `json:"url"`
}

// Publication is one literature reference of a BioProject.
type Publication struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Date   string `json:"date"`
	URL    string `json:"url"`
	DbType string `json:"DbType"`
	Status string `json:"status"`
}

// ExternalLink points from a BioProject to an external resource.
type ExternalLink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// BioProjectDocument extends the envelope with project metadata.
type BioProjectDocument struct {
	Document
	ObjectType   string         `json:"objectType"`
	Organization []Organization `json:"organization"`
	Publication  []Publication  `json:"publication"`
	Grant        []Grant        `json:"grant"`
	ExternalLink []ExternalLink `json:"externalLink"`
}

// Attribute is one BioSample attribute row.
type Attribute struct {
	AttributeName  string `json:"attribute_name"`
	DisplayName    string `json:"display_name"`
	HarmonizedName string `json:"harmonized_name"`
	Content        string `json:"content"`
}

// BioSampleDocument extends the envelope with sample metadata.
type BioSampleDocument struct {
	Document
	Attributes []Attribute `json:"attributes"`
	Model      []string    `json:"model"`
	Package    string      `json:"package"`
}

// ObjectType distinguishes umbrella projects from primary submissions.
const (
	ObjectTypeUmbrella = "UmbrellaBioProject"
	ObjectTypePrimary  = "BioProject"
)

// indexName maps an accession type onto its target search index.
func indexName(t accession.Type) string {
	switch t {
	case accession.TypeBioProject, accession.TypeUmbrellaBioProject:
		return "bioproject"
	case accession.TypeBioSample:
		return "biosample"
	case accession.TypeSRASubmission:
		return "sra-submission"
	case accession.TypeSRAStudy:
		return "sra-study"
	case accession.TypeSRAExperiment:
		return "sra-experiment"
	case accession.TypeSRARun:
		return "sra-run"
	case accession.TypeSRASample:
		return "sra-sample"
	case accession.TypeSRAAnalysis:
		return "sra-analysis"
	case accession.TypeJGAStudy:
		return "jga-study"
	case accession.TypeJGADataset:
		return "jga-dataset"
	case accession.TypeJGADAC:
		return "jga-dac"
	case accession.TypeJGAPolicy:
		return "jga-policy"
	}
	return ""
}
