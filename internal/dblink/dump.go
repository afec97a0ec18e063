package dblink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ddbj/search-converter/internal/accession"
)

// Orientation names one dumped TSV: the pair of types and the column
// order of the output, which may differ from canonical storage.
type Orientation struct {
	Src  accession.Type
	Dst  accession.Type
	Name string
}

// DumpOrientations is the fixed set of published TSV files.
var DumpOrientations = []Orientation{
	{accession.TypeBioProject, accession.TypeUmbrellaBioProject, "bioproject-umbrella_bioproject.tsv"},
	{accession.TypeBioProject, accession.TypeBioSample, "bioproject-biosample.tsv"},
	{accession.TypeBioProject, accession.TypeGEA, "bioproject-gea.tsv"},
	{accession.TypeBioProject, accession.TypeINSDCAssembly, "bioproject-insdc_assembly.tsv"},
	{accession.TypeBioProject, accession.TypeINSDCMaster, "bioproject-insdc_master.tsv"},
	{accession.TypeBioProject, accession.TypeMetaboBank, "bioproject-metabobank.tsv"},
	{accession.TypeBioProject, accession.TypeHumID, "bioproject-humid.tsv"},
	{accession.TypeBioSample, accession.TypeGEA, "biosample-gea.tsv"},
	{accession.TypeBioSample, accession.TypeINSDCAssembly, "biosample-insdc_assembly.tsv"},
	{accession.TypeBioSample, accession.TypeINSDCMaster, "biosample-insdc_master.tsv"},
	{accession.TypeBioSample, accession.TypeMetaboBank, "biosample-metabobank.tsv"},
	{accession.TypeJGAStudy, accession.TypeJGADataset, "jga_study-jga_dataset.tsv"},
	{accession.TypeJGAStudy, accession.TypePubmedID, "jga_study-pubmed.tsv"},
	{accession.TypeJGAStudy, accession.TypeHumID, "jga_study-humid.tsv"},
	{accession.TypeJGADataset, accession.TypeJGAPolicy, "jga_dataset-jga_policy.tsv"},
	{accession.TypeJGAPolicy, accession.TypeJGADAC, "jga_policy-jga_dac.tsv"},
}

// Dump writes every configured orientation as a two-column TSV under
// outDir, each sorted ascending by its first column. Canonical storage
// may hold either orientation of a pair; the query unswaps as needed.
func (s *Store) Dump(ctx context.Context, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	for _, o := range DumpOrientations {
		if err := s.dumpOne(ctx, outDir, o); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) dumpOne(ctx context.Context, outDir string, o Orientation) error {
	query := `
	SELECT src_acc, dst_acc FROM relation WHERE src_type = ? AND dst_type = ?
	UNION ALL
	SELECT dst_acc, src_acc FROM relation WHERE src_type = ? AND dst_type = ?
	ORDER BY 1, 2`
	rows, err := s.db.QueryContext(ctx, query,
		string(o.Src), string(o.Dst), string(o.Dst), string(o.Src))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", o.Name, err)
	}
	defer rows.Close()

	path := filepath.Join(outDir, o.Name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", o.Name, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", a, b); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write %s: %w", o.Name, err)
		}
	}
	if err := rows.Err(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", o.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", o.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", o.Name, err)
	}
	return nil
}
