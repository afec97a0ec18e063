package dblink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/blacklist"
	"github.com/ddbj/search-converter/internal/runlog"
)

// ExtractGEA appends gea-bioproject and gea-biosample edges from the
// GEA archive. The archive is two levels deep: prefix buckets
// (E-GEAD-000/, E-GEAD-1000/, ...) each holding the E-GEAD experiment
// directories with MAGE-TAB IDF and SDRF files: Comment[BioProject]
// rows in the IDF, a Comment[BioSample] column in the SDRF. The bucket
// directories themselves are never experiments.
func ExtractGEA(ctx context.Context, rep Reporter, w *Writer, geaDir string) error {
	dirs, err := collectGEADirs(geaDir)
	if err != nil {
		return err
	}
	rep.Info(fmt.Sprintf("extracting gea relations from %d experiments", len(dirs)))

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		gea := filepath.Base(dir)
		if !accession.IsValid(gea, accession.TypeGEA) {
			rep.Debug(runlog.CatInvalidAccessionID, "gea directory name is not an accession",
				runlog.Accession(gea), runlog.File(dir))
			continue
		}
		if err := extractMageTab(ctx, rep, w, accession.TypeGEA, gea, dir); err != nil {
			if ctx.Err() != nil {
				return err
			}
			rep.Error("gea experiment failed", err, runlog.File(dir))
		}
	}
	return nil
}

// collectGEADirs lists the experiment directories inside every prefix
// bucket, sorted.
func collectGEADirs(geaDir string) ([]string, error) {
	buckets, err := filepath.Glob(filepath.Join(geaDir, "E-GEAD-*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list gea buckets: %w", err)
	}
	var dirs []string
	for _, bucket := range buckets {
		info, err := os.Stat(bucket)
		if err != nil || !info.IsDir() {
			continue
		}
		sub, err := filepath.Glob(filepath.Join(bucket, "E-GEAD-*"))
		if err != nil {
			return nil, fmt.Errorf("failed to list gea experiments: %w", err)
		}
		for _, d := range sub {
			if info, err := os.Stat(d); err == nil && info.IsDir() {
				dirs = append(dirs, d)
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ExtractMetaboBank appends metabobank-bioproject and
// metabobank-biosample edges from the MetaboBank study directories and
// the two curated preserved lists.
func ExtractMetaboBank(ctx context.Context, rep Reporter, w *Writer,
	mtbDir string, preserved []blacklist.Relation) error {

	dirs, err := filepath.Glob(filepath.Join(mtbDir, "MTBKS*"))
	if err != nil {
		return fmt.Errorf("failed to list metabobank studies: %w", err)
	}
	sort.Strings(dirs)
	rep.Info(fmt.Sprintf("extracting metabobank relations from %d studies", len(dirs)))

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		mtb := filepath.Base(dir)
		if !accession.IsValid(mtb, accession.TypeMetaboBank) {
			rep.Debug(runlog.CatInvalidAccessionID, "metabobank directory name is not an accession",
				runlog.Accession(mtb), runlog.File(dir))
			continue
		}
		if err := extractMageTab(ctx, rep, w, accession.TypeMetaboBank, mtb, dir); err != nil {
			if ctx.Err() != nil {
				return err
			}
			rep.Error("metabobank study failed", err, runlog.File(dir))
		}
	}

	for _, rel := range preserved {
		if err := addTyped(ctx, w, rep, "preserved", rel.AType, rel.A, rel.BType, rel.B); err != nil {
			return err
		}
	}
	return nil
}

// extractMageTab links one study accession to the BioProject and
// BioSample references found in its IDF and SDRF files.
func extractMageTab(ctx context.Context, rep Reporter, w *Writer,
	ownerType accession.Type, owner, dir string) error {

	idfs, err := filepath.Glob(filepath.Join(dir, "*.idf.txt"))
	if err != nil {
		return err
	}
	for _, idf := range idfs {
		refs, err := parseIDFComments(idf, "Comment[BioProject]")
		if err != nil {
			return err
		}
		for _, bp := range refs {
			if err := addTyped(ctx, w, rep, idf, ownerType, owner, accession.TypeBioProject, bp); err != nil {
				return err
			}
		}
	}

	sdrfs, err := filepath.Glob(filepath.Join(dir, "*.sdrf.txt"))
	if err != nil {
		return err
	}
	for _, sdrf := range sdrfs {
		refs, err := parseSDRFColumn(sdrf, "Comment[BioSample]")
		if err != nil {
			return err
		}
		for _, bs := range refs {
			if err := addTyped(ctx, w, rep, sdrf, ownerType, owner, accession.TypeBioSample, bs); err != nil {
				return err
			}
		}
	}
	return nil
}
