package accession

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		typ  Type
		norm string
	}{
		{"PRJNA12345", TypeBioProject, "PRJNA12345"},
		{"PRJDB1", TypeBioProject, "PRJDB1"},
		{"PRJEB999", TypeBioProject, "PRJEB999"},
		{"SAMN00000001", TypeBioSample, "SAMN00000001"},
		{"SAMD00000001", TypeBioSample, "SAMD00000001"},
		{"SAMEA1234", TypeBioSample, "SAMEA1234"},
		{"DRA000001", TypeSRASubmission, "DRA000001"},
		{"SRA000001", TypeSRASubmission, "SRA000001"},
		{"ERA000001", TypeSRASubmission, "ERA000001"},
		{"DRP000001", TypeSRAStudy, "DRP000001"},
		{"SRX000001", TypeSRAExperiment, "SRX000001"},
		{"ERR000001", TypeSRARun, "ERR000001"},
		{"DRS000001", TypeSRASample, "DRS000001"},
		{"SRZ000001", TypeSRAAnalysis, "SRZ000001"},
		{"JGAS000001", TypeJGAStudy, "JGAS000001"},
		{"JGAD000001", TypeJGADataset, "JGAD000001"},
		{"JGAC000001", TypeJGADAC, "JGAC000001"},
		{"JGAP000001", TypeJGAPolicy, "JGAP000001"},
		{"E-GEAD-123", TypeGEA, "E-GEAD-123"},
		{"GSE12345", TypeGEO, "GSE12345"},
		{"GCA_000001405.15", TypeINSDCAssembly, "GCA_000001405.15"},
		{"ABCD00000000.1", TypeINSDCMaster, "ABCD00000000"},
		{"A00000", TypeINSDCMaster, "A00000"},
		{"MTBKS1", TypeMetaboBank, "MTBKS1"},
		{"hum0001", TypeHumID, "hum0001"},
		{"hum0001.v2", TypeHumID, "hum0001"},
		{"12345678", TypePubmedID, "12345678"},
		{"9606", TypeTaxonomy, "9606"},
	}
	for _, c := range cases {
		typ, norm, ok := Classify(c.raw)
		if !ok {
			t.Errorf("Classify(%q): unexpected invalid", c.raw)
			continue
		}
		if typ != c.typ || norm != c.norm {
			t.Errorf("Classify(%q) = (%s, %q), want (%s, %q)", c.raw, typ, norm, c.typ, c.norm)
		}
	}
}

func TestClassifyWhitespace(t *testing.T) {
	typ, norm, ok := Classify("  PRJDB123\n")
	if !ok || typ != TypeBioProject || norm != "PRJDB123" {
		t.Errorf("got (%s, %q, %v)", typ, norm, ok)
	}
}

func TestClassifyInvalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "FOO123", "PRJ123", "SAM123", "GCA_123", "E-GEAD-", "bms_00001"} {
		if _, _, ok := Classify(raw); ok {
			t.Errorf("Classify(%q): expected invalid", raw)
		}
	}
}

func TestClassifyNumericBoundary(t *testing.T) {
	// 7-8 digits resolve to pubmed-id, shorter numerics to taxonomy.
	if typ, _, _ := Classify("1234567"); typ != TypePubmedID {
		t.Errorf("7 digits: got %s, want pubmed-id", typ)
	}
	if typ, _, _ := Classify("123456"); typ != TypeTaxonomy {
		t.Errorf("6 digits: got %s, want taxonomy", typ)
	}
	if _, _, ok := Classify("123456789"); ok {
		t.Error("9 digits: expected invalid")
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("PRJNA1", TypeBioProject) {
		t.Error("PRJNA1 should be a valid bioproject")
	}
	if !IsValid("PRJNA1", TypeUmbrellaBioProject) {
		t.Error("umbrella shares the bioproject pattern")
	}
	if IsValid("SAMN1", TypeBioProject) {
		t.Error("SAMN1 must not validate as bioproject")
	}
}

func TestNormalizeMasterID(t *testing.T) {
	cases := map[string]string{
		"ABCD01000001.1": "ABCD00000000",
		"ABCD01-2":       "ABCD00",
		"BAAA00000000":   "BAAA00000000",
	}
	for in, want := range cases {
		if got := NormalizeMasterID(in); got != want {
			t.Errorf("NormalizeMasterID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrdinalOrder(t *testing.T) {
	if TypeBioProject.Ordinal() >= TypeBioSample.Ordinal() {
		t.Error("bioproject must sort before biosample")
	}
	if !Type("nonsense").Valid() {
		// Unknown types sort after every known type.
		if Type("nonsense").Ordinal() <= TypeTaxonomy.Ordinal() {
			t.Error("unknown type must sort last")
		}
	}
}

func TestInvalidCategory(t *testing.T) {
	if InvalidCategory(TypeBioProject) != "INVALID_BIOPROJECT_ID" {
		t.Error("bioproject gets a dedicated category")
	}
	if InvalidCategory(TypeBioSample) != "INVALID_BIOSAMPLE_ID" {
		t.Error("biosample gets a dedicated category")
	}
	if InvalidCategory(TypeSRARun) != "INVALID_ACCESSION_ID" {
		t.Error("others share the generic category")
	}
}
