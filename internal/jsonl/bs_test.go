package jsonl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/datecache"
	"github.com/ddbj/search-converter/internal/dblink"
)

const bsShardXML = `<?xml version="1.0" encoding="UTF-8"?>
<BioSampleSet>
<BioSample accession="SAMD00000001" submission_date="2019-11-01T09:00:00" last_update="2024-04-01T09:00:00" publication_date="2019-12-01T09:00:00">
  <Description>
    <Title>Oryza sativa leaf sample</Title>
    <Organism taxonomy_id="39947" taxonomy_name="Oryza sativa">
      <OrganismName>Oryza sativa Japonica Group</OrganismName>
    </Organism>
    <Comment><Paragraph>Collected in 2019.</Paragraph></Comment>
  </Description>
  <Models><Model>Plant</Model></Models>
  <Package display_name="Plant">Plant.1.0</Package>
  <Attributes>
    <Attribute attribute_name="sample_name" harmonized_name="sample_name" display_name="sample name">leaf-1</Attribute>
    <Attribute attribute_name="tissue">leaf</Attribute>
  </Attributes>
</BioSample>
<BioSample submission_date="2020-01-01T00:00:00" last_update="2024-04-02T00:00:00">
  <Ids><Id namespace="BioSample">SAMD00000002</Id></Ids>
  <Description>
    <Title>DDBJ styled sample</Title>
    <Organism taxonomy_id="9606" taxonomy_name="Homo sapiens"/>
  </Description>
</BioSample>
<BioSample accession="SAMD00000009" last_update="2024-04-02T00:00:00">
  <Description><Title>Blacklisted sample</Title></Description>
</BioSample>
</BioSampleSet>
`

func TestEmitBioSample(t *testing.T) {
	rep := &testReporter{}
	graph := buildGraph(t, []dblink.Edge{
		{SrcType: accession.TypeBioSample, SrcAcc: "SAMD00000001", DstType: accession.TypeSRASample, DstAcc: "DRS000001"},
	})
	dates := buildDates(t, map[string]datecache.Dates{
		"SAMD00000001": {Modified: "2024-04-05T00:00:00Z"},
	})
	deps := Deps{Graph: graph, Dates: dates, Blacklist: blacklist.Set{"SAMD00000009": true}}

	shardDir := t.TempDir()
	writeShard(t, shardDir, "ddbj_biosample_0001.xml", bsShardXML)
	outDir := t.TempDir()

	stats, err := EmitBioSample(context.Background(), rep, deps, []string{shardDir}, outDir, Options{Parallel: 2})
	if err != nil {
		t.Fatalf("EmitBioSample failed: %v", err)
	}
	if stats.Written != 2 || stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	docs := readDocs(t, filepath.Join(outDir, "ddbj_biosample_0001.jsonl"))
	doc := docByID(t, docs, "SAMD00000001")
	if doc["type"] != "biosample" || doc["isPartOf"] != "BioSample" {
		t.Errorf("unexpected envelope %v / %v", doc["type"], doc["isPartOf"])
	}
	if doc["dateModified"] != "2024-04-05T00:00:00Z" {
		t.Errorf("date cache override missing: %v", doc["dateModified"])
	}
	if doc["dateCreated"] != "2019-11-01T09:00:00Z" {
		t.Errorf("unexpected dateCreated %v", doc["dateCreated"])
	}
	org := doc["organism"].(map[string]interface{})
	if org["identifier"] != "39947" || org["name"] != "Oryza sativa Japonica Group" {
		t.Errorf("unexpected organism %v", org)
	}
	attrs := doc["attributes"].([]interface{})
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %v", attrs)
	}
	first := attrs[0].(map[string]interface{})
	if first["harmonized_name"] != "sample_name" || first["content"] != "leaf-1" {
		t.Errorf("unexpected attribute %v", first)
	}
	models := doc["model"].([]interface{})
	if len(models) != 1 || models[0] != "Plant" {
		t.Errorf("unexpected models %v", models)
	}
	if doc["package"] != "Plant.1.0" {
		t.Errorf("unexpected package %v", doc["package"])
	}
	xrefs := doc["dbXrefs"].([]interface{})
	if len(xrefs) != 1 {
		t.Fatalf("expected 1 xref, got %v", xrefs)
	}

	// The DDBJ shape carries the accession in the Ids list and falls
	// back to the taxonomy_name attribute for the organism.
	ddbj := docByID(t, docs, "SAMD00000002")
	org = ddbj["organism"].(map[string]interface{})
	if org["name"] != "Homo sapiens" {
		t.Errorf("unexpected organism %v", org)
	}
	if ddbj["description"] != "" {
		t.Errorf("unexpected description %v", ddbj["description"])
	}
}
