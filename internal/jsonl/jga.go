package jsonl

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// jgaTypes drives the per-type emission: the XML dump, the record
// element inside it, and the accession type of the documents.
var jgaTypes = []struct {
	acc     accession.Type
	xmlFile string
	element string
}{
	{accession.TypeJGAStudy, "jga-study.xml", "STUDY"},
	{accession.TypeJGADataset, "jga-dataset.xml", "DATASET"},
	{accession.TypeJGADAC, "jga-dac.xml", "DAC"},
	{accession.TypeJGAPolicy, "jga-policy.xml", "POLICY"},
}

// jgaDates are the per-accession timestamps shipped next to the XML
// dumps as {entity}.date.csv (accession, created, published, modified).
type jgaDates struct {
	created   string
	published string
	modified  string
}

type jgaProperties struct {
	Title       string `json:"TITLE,omitempty"`
	Description string `json:"DESCRIPTION,omitempty"`
}

// EmitJGA renders one JSONL file per JGA entity type. JGA carries no
// modification timestamps usable for cutoffs, so every run is full.
// A missing per-type dump is a warning, not a failure.
func EmitJGA(ctx context.Context, rep dblink.Reporter, deps Deps,
	jgaDir, outDir string, opt Options) (*Stats, error) {

	var stats Stats
	for _, t := range jgaTypes {
		if err := ctx.Err(); err != nil {
			return &stats, err
		}
		xmlPath := filepath.Join(jgaDir, t.xmlFile)
		if _, err := os.Stat(xmlPath); os.IsNotExist(err) {
			rep.Warning("jga dump missing, type skipped", runlog.File(xmlPath))
			continue
		}
		dates, err := loadJGADates(jgaDir, t.element)
		if err != nil {
			return &stats, err
		}
		out := filepath.Join(outDir, shardFileName("jga", indexName(t.acc), 1))
		written, skipped, err := emitJGAType(ctx, rep, deps, xmlPath, out, t.acc, t.element, dates, opt)
		stats.Written += written
		stats.Skipped += skipped
		if err != nil {
			return &stats, fmt.Errorf("failed to emit %s: %w", indexName(t.acc), err)
		}
	}
	return &stats, nil
}

func loadJGADates(jgaDir, element string) (map[string]jgaDates, error) {
	path := filepath.Join(jgaDir, strings.ToLower(element)+".date.csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]jgaDates{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open date file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	dates := map[string]jgaDates{}
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return dates, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if first {
			first = false
			continue
		}
		if len(row) < 4 {
			continue
		}
		dates[strings.TrimSpace(row[0])] = jgaDates{
			created:   strings.TrimSpace(row[1]),
			published: strings.TrimSpace(row[2]),
			modified:  strings.TrimSpace(row[3]),
		}
	}
}

func emitJGAType(ctx context.Context, rep dblink.Reporter, deps Deps,
	xmlPath, out string, t accession.Type, element string,
	dates map[string]jgaDates, opt Options) (written, skipped int64, err error) {

	w, err := newShardWriter(out)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			w.abort()
		}
	}()
	written, skipped, err = scanJGAType(ctx, rep, deps, xmlPath, t, element, dates, opt, func(doc *Document) error {
		return w.write(doc)
	})
	if err != nil {
		return written, skipped, err
	}
	err = w.close()
	return written, skipped, err
}

func scanJGAType(ctx context.Context, rep dblink.Reporter, deps Deps,
	xmlPath string, t accession.Type, element string,
	dates map[string]jgaDates, opt Options, emit func(*Document) error) (written, skipped int64, err error) {

	f, err := os.Open(xmlPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	for {
		if err := ctx.Err(); err != nil {
			return written, skipped, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, skipped, fmt.Errorf("failed to parse dump: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != element {
			continue
		}
		acc := ""
		for _, a := range start.Attr {
			if a.Name.Local == "accession" {
				acc = a.Value
			}
		}
		title, desc, err := readJGARecord(dec, start)
		if err != nil {
			return written, skipped, err
		}
		if !accession.IsValid(acc, t) {
			rep.Debug(runlog.CatInvalidAccessionID, "record has no valid accession",
				runlog.Accession(acc), runlog.File(xmlPath))
			skipped++
			continue
		}
		if !opt.wants(deps.Blacklist, acc, "") {
			skipped++
			continue
		}

		doc := baseDocument(t, acc)
		doc.Accessibility = AccessibilityControlled
		doc.Properties = &jgaProperties{Title: title, Description: desc}
		doc.Title = title
		doc.Description = desc
		if d, ok := dates[acc]; ok {
			for _, p := range []struct {
				raw string
				dst *string
			}{
				{d.created, &doc.DateCreated},
				{d.published, &doc.DatePublished},
				{d.modified, &doc.DateModified},
			} {
				v, ok := normalizeDate(p.raw)
				if !ok {
					rep.Debug(runlog.CatNormalizeDate, "unparseable date row",
						runlog.Accession(acc), runlog.File(xmlPath))
				}
				*p.dst = v
			}
		}
		xrefs, err := lookupXrefs(ctx, deps.Graph, t, acc)
		if err != nil {
			return written, skipped, err
		}
		doc.DBXrefs = xrefs

		if err := emit(&doc); err != nil {
			return written, skipped, err
		}
		written++
	}
	return written, skipped, nil
}

// readJGARecord walks one record element, harvesting the first
// *TITLE-suffixed element as the title and the first element suffixed
// *ABSTRACT, *DESCRIPTION or POLICY_TEXT as the description.
func readJGARecord(dec *xml.Decoder, start xml.StartElement) (title, desc string, err error) {
	depth := 1
	capture := func(name string) *string {
		switch {
		case strings.HasSuffix(name, "TITLE"):
			return &title
		case strings.HasSuffix(name, "ABSTRACT"),
			strings.HasSuffix(name, "DESCRIPTION"),
			name == "POLICY_TEXT":
			return &desc
		}
		return nil
	}
	var target *string
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", "", fmt.Errorf("failed to parse %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			target = capture(t.Name.Local)
		case xml.CharData:
			if target != nil && *target == "" {
				*target = strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			depth--
			target = nil
		}
	}
	title = normalizeText(title)
	desc = normalizeText(desc)
	return title, desc, nil
}
