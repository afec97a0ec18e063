// Package accession classifies raw identifier strings into the closed set
// of accession types handled by the pipeline (BioProject, BioSample, SRA,
// JGA, GEA, MetaboBank, INSDC assembly/master, and friends).
package accession

import (
	"regexp"
	"strings"
)

// Type identifies the kind of a biological accession.
type Type string

// The closed set of accession types. Declaration order defines the total
// order used for canonical edge orientation, so new types go at the end.
const (
	TypeBioProject         Type = "bioproject"
	TypeUmbrellaBioProject Type = "umbrella-bioproject"
	TypeBioSample          Type = "biosample"
	TypeSRASubmission      Type = "sra-submission"
	TypeSRAStudy           Type = "sra-study"
	TypeSRAExperiment      Type = "sra-experiment"
	TypeSRARun             Type = "sra-run"
	TypeSRASample          Type = "sra-sample"
	TypeSRAAnalysis        Type = "sra-analysis"
	TypeJGAStudy           Type = "jga-study"
	TypeJGADataset         Type = "jga-dataset"
	TypeJGADAC             Type = "jga-dac"
	TypeJGAPolicy          Type = "jga-policy"
	TypeGEA                Type = "gea"
	TypeMetaboBank         Type = "metabobank"
	TypeINSDCAssembly      Type = "insdc-assembly"
	TypeINSDCMaster        Type = "insdc-master"
	TypeHumID              Type = "hum-id"
	TypePubmedID           Type = "pubmed-id"
	TypeGEO                Type = "geo"
	TypeTaxonomy           Type = "taxonomy"
)

// AllTypes lists every accession type in canonical order.
var AllTypes = []Type{
	TypeBioProject,
	TypeUmbrellaBioProject,
	TypeBioSample,
	TypeSRASubmission,
	TypeSRAStudy,
	TypeSRAExperiment,
	TypeSRARun,
	TypeSRASample,
	TypeSRAAnalysis,
	TypeJGAStudy,
	TypeJGADataset,
	TypeJGADAC,
	TypeJGAPolicy,
	TypeGEA,
	TypeMetaboBank,
	TypeINSDCAssembly,
	TypeINSDCMaster,
	TypeHumID,
	TypePubmedID,
	TypeGEO,
	TypeTaxonomy,
}

var ordinals = func() map[Type]int {
	m := make(map[Type]int, len(AllTypes))
	for i, t := range AllTypes {
		m[t] = i
	}
	return m
}()

// Ordinal returns the position of t in the canonical total order.
// Unknown types sort last.
func (t Type) Ordinal() int {
	if n, ok := ordinals[t]; ok {
		return n
	}
	return len(AllTypes)
}

// Valid reports whether t is one of the closed-set types.
func (t Type) Valid() bool {
	_, ok := ordinals[t]
	return ok
}

var patterns = map[Type]*regexp.Regexp{
	TypeBioSample:          regexp.MustCompile(`^SAM[NED](\w)?\d+$`),
	TypeBioProject:         regexp.MustCompile(`^PRJ[DEN][A-Z]\d+$`),
	TypeUmbrellaBioProject: regexp.MustCompile(`^PRJ[DEN][A-Z]\d+$`),
	TypeSRASubmission:      regexp.MustCompile(`^[SDE]RA\d+$`),
	TypeSRAStudy:           regexp.MustCompile(`^[SDE]RP\d+$`),
	TypeSRAExperiment:      regexp.MustCompile(`^[SDE]RX\d+$`),
	TypeSRARun:             regexp.MustCompile(`^[SDE]RR\d+$`),
	TypeSRASample:          regexp.MustCompile(`^[SDE]RS\d+$`),
	TypeSRAAnalysis:        regexp.MustCompile(`^[SDE]RZ\d+$`),
	TypeJGAStudy:           regexp.MustCompile(`^JGAS\d+$`),
	TypeJGADataset:         regexp.MustCompile(`^JGAD\d+$`),
	TypeJGADAC:             regexp.MustCompile(`^JGAC\d+$`),
	TypeJGAPolicy:          regexp.MustCompile(`^JGAP\d+$`),
	TypeGEA:                regexp.MustCompile(`^E-GEAD-\d+$`),
	TypeGEO:                regexp.MustCompile(`^GSE\d+$`),
	TypeINSDCAssembly:      regexp.MustCompile(`^GCA_[0-9]{9}(\.[0-9]+)?$`),
	TypeINSDCMaster:        regexp.MustCompile(`^([A-Z]0{5}|[A-Z]{2}0{6}|[A-Z]{4,6}0{8,10}|[A-J][A-Z]{2}0{5})$`),
	TypeMetaboBank:         regexp.MustCompile(`^MTBKS\d+$`),
	TypeHumID:              regexp.MustCompile(`^hum\d+$`),
	TypePubmedID:           regexp.MustCompile(`^\d{7,8}$`),
	TypeTaxonomy:           regexp.MustCompile(`^\d{1,7}$`),
}

var humVersion = regexp.MustCompile(`^(hum\d+)\..*$`)

// IsValid reports whether acc matches the pattern for the given type.
func IsValid(acc string, t Type) bool {
	p, ok := patterns[t]
	if !ok {
		return false
	}
	return p.MatchString(acc)
}

// classifyRule pairs a type with its normalizer. Rules are ordered:
// numeric-only rules (pubmed-id, taxonomy) must come last, and
// umbrella-bioproject is never produced by classification since it shares
// the bioproject pattern.
type classifyRule struct {
	typ       Type
	normalize func(string) string
}

var classifyOrder = []classifyRule{
	{TypeBioSample, nil},
	{TypeBioProject, nil},
	{TypeSRASubmission, nil},
	{TypeSRAStudy, nil},
	{TypeSRAExperiment, nil},
	{TypeSRARun, nil},
	{TypeSRASample, nil},
	{TypeSRAAnalysis, nil},
	{TypeJGAStudy, nil},
	{TypeJGADataset, nil},
	{TypeJGADAC, nil},
	{TypeJGAPolicy, nil},
	{TypeGEA, nil},
	{TypeGEO, nil},
	{TypeINSDCAssembly, nil},
	{TypeINSDCMaster, StripVersion},
	{TypeMetaboBank, nil},
	{TypeHumID, NormalizeHumID},
	{TypePubmedID, nil},
	{TypeTaxonomy, nil},
}

// StripVersion removes a trailing ".N" version suffix
// (ABCD00000000.1 -> ABCD00000000). GCA assembly versions are meaningful
// and must not go through this.
func StripVersion(raw string) string {
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// NormalizeHumID drops the version part of a hum ID (hum0001.v2 -> hum0001).
func NormalizeHumID(raw string) string {
	if m := humVersion.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// NormalizeMasterID collapses a raw WGS/TSA/TLS master accession to its
// series form: version suffix and hyphenated range dropped, all digits
// zeroed (ABCD01000001.1 -> ABCD00000000).
func NormalizeMasterID(raw string) string {
	base := StripVersion(raw)
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	var b strings.Builder
	b.Grow(len(base))
	for _, c := range base {
		if c >= '0' && c <= '9' {
			b.WriteByte('0')
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Classify maps a raw identifier to its accession type and normalized
// form. The boolean is false when no rule matches; classification never
// returns umbrella-bioproject (callers assert that from context).
func Classify(raw string) (Type, string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", false
	}
	for _, rule := range classifyOrder {
		candidate := s
		if rule.normalize != nil {
			candidate = rule.normalize(s)
		}
		if patterns[rule.typ].MatchString(candidate) {
			return rule.typ, candidate, true
		}
	}
	return "", s, false
}

// InvalidCategory returns the debug category to log when an accession of
// the expected type fails validation. BioProject and BioSample get
// dedicated categories; everything else shares the generic one.
func InvalidCategory(expected Type) string {
	switch expected {
	case TypeBioProject, TypeUmbrellaBioProject:
		return "INVALID_BIOPROJECT_ID"
	case TypeBioSample:
		return "INVALID_BIOSAMPLE_ID"
	default:
		return "INVALID_ACCESSION_ID"
	}
}
