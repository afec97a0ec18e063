package dblink

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/runlog"
)

// The JGA archive publishes one relation CSV per entity pair. Each file
// has a header row and three columns; the first column is a row id and
// is ignored.
var jgaRelationFiles = []string{
	"analysis-study-relation.csv",
	"data-experiment-relation.csv",
	"dataset-analysis-relation.csv",
	"dataset-data-relation.csv",
	"dataset-policy-relation.csv",
	"experiment-study-relation.csv",
	"policy-dac-relation.csv",
}

// ExtractJGA appends the JGA relations: study-dataset (derived by
// joining the per-entity relation CSVs through analysis and data),
// dataset-policy and policy-dac (direct), and study-pubmed /
// study-humid from the study XML.
func ExtractJGA(ctx context.Context, rep Reporter, w *Writer, jgaDir string) error {
	rels := make(map[string]map[string][]string, len(jgaRelationFiles))
	for _, name := range jgaRelationFiles {
		pairs, err := readJGARelationCSV(filepath.Join(jgaDir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		m := make(map[string][]string)
		for _, p := range pairs {
			m[p[0]] = append(m[p[0]], p[1])
		}
		rels[name] = m
	}

	// dataset -> studies, via dataset-analysis-study and
	// dataset-data-experiment-study.
	analysisStudy := rels["analysis-study-relation.csv"]
	dataExperiment := rels["data-experiment-relation.csv"]
	experimentStudy := rels["experiment-study-relation.csv"]

	datasetStudies := make(map[string]map[string]bool)
	addStudy := func(dataset, study string) {
		if datasetStudies[dataset] == nil {
			datasetStudies[dataset] = make(map[string]bool)
		}
		datasetStudies[dataset][study] = true
	}
	for dataset, analyses := range rels["dataset-analysis-relation.csv"] {
		for _, analysis := range analyses {
			for _, study := range analysisStudy[analysis] {
				addStudy(dataset, study)
			}
		}
	}
	for dataset, datas := range rels["dataset-data-relation.csv"] {
		for _, data := range datas {
			for _, experiment := range dataExperiment[data] {
				for _, study := range experimentStudy[experiment] {
					addStudy(dataset, study)
				}
			}
		}
	}

	datasets := make([]string, 0, len(datasetStudies))
	for d := range datasetStudies {
		datasets = append(datasets, d)
	}
	sort.Strings(datasets)
	for _, dataset := range datasets {
		studies := make([]string, 0, len(datasetStudies[dataset]))
		for s := range datasetStudies[dataset] {
			studies = append(studies, s)
		}
		sort.Strings(studies)
		for _, study := range studies {
			if err := addTyped(ctx, w, rep, jgaDir,
				accession.TypeJGAStudy, study, accession.TypeJGADataset, dataset); err != nil {
				return err
			}
		}
	}

	for dataset, policies := range rels["dataset-policy-relation.csv"] {
		for _, policy := range policies {
			if err := addTyped(ctx, w, rep, jgaDir,
				accession.TypeJGADataset, dataset, accession.TypeJGAPolicy, policy); err != nil {
				return err
			}
		}
	}
	for policy, dacs := range rels["policy-dac-relation.csv"] {
		for _, dac := range dacs {
			if err := addTyped(ctx, w, rep, jgaDir,
				accession.TypeJGAPolicy, policy, accession.TypeJGADAC, dac); err != nil {
				return err
			}
		}
	}

	studyXML := filepath.Join(jgaDir, "jga-study.xml")
	if _, err := os.Stat(studyXML); err != nil {
		rep.Warning("jga study xml missing, skipping pubmed and humid relations",
			runlog.File(studyXML))
		return nil
	}
	return extractJGAStudyXML(ctx, rep, w, studyXML)
}

// readJGARelationCSV returns the (left, right) accession pairs of one
// relation CSV.
func readJGARelationCSV(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out [][2]string
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			continue
		}
		if len(row) < 3 {
			continue
		}
		left := strings.TrimSpace(row[1])
		right := strings.TrimSpace(row[2])
		if left == "" || right == "" {
			continue
		}
		out = append(out, [2]string{left, right})
	}
}

var humURLPattern = regexp.MustCompile(`hum\d+`)

// jgaStudyRecord is the slice of a JGA STUDY element carrying external
// references: pubmed XREF links and humandbs URL links.
type jgaStudyRecord struct {
	Accession string `xml:"accession,attr"`
	Links     []struct {
		XRef *struct {
			DB string `xml:"DB"`
			ID string `xml:"ID"`
		} `xml:"XREF_LINK"`
		URL *struct {
			URL string `xml:"URL"`
		} `xml:"URL_LINK"`
	} `xml:"STUDY_LINKS>STUDY_LINK"`
}

func extractJGAStudyXML(ctx context.Context, rep Reporter, w *Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open jga study xml: %w", err)
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
			return fmt.Errorf("failed to parse jga study xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "STUDY" {
			continue
		}
		var rec jgaStudyRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return fmt.Errorf("failed to decode STUDY: %w", err)
		}
		if !accession.IsValid(rec.Accession, accession.TypeJGAStudy) {
			rep.Debug(runlog.CatInvalidAccessionID, "jga study accession invalid",
				runlog.Accession(rec.Accession), runlog.File(path))
			continue
		}
		for _, link := range rec.Links {
			if link.XRef != nil && strings.EqualFold(strings.TrimSpace(link.XRef.DB), "pubmed") {
				id := strings.TrimSpace(link.XRef.ID)
				if err := addTyped(ctx, w, rep, path,
					accession.TypeJGAStudy, rec.Accession, accession.TypePubmedID, id); err != nil {
					return err
				}
			}
			if link.URL != nil {
				if hum := humURLPattern.FindString(link.URL.URL); hum != "" {
					if err := addTyped(ctx, w, rep, path,
						accession.TypeJGAStudy, rec.Accession, accession.TypeHumID, hum); err != nil {
						return err
					}
				}
			}
		}
	}
}
