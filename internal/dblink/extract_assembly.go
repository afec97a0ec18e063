package dblink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
	"github.com/ddbj/search-converter/internal/runlog"
)

// ExtractAssemblyMaster appends the assembly and WGS/TSA master
// relations from the NCBI assembly summary and the TRAD organism lists.
func ExtractAssemblyMaster(ctx context.Context, rep Reporter, w *Writer,
	summaryPath string, tradFiles []string) error {

	if err := extractAssemblySummary(ctx, rep, w, summaryPath); err != nil {
		return err
	}
	for _, path := range tradFiles {
		if err := extractTradList(ctx, rep, w, path); err != nil {
			if ctx.Err() != nil {
				return err
			}
			rep.Error("trad organism list failed", err, runlog.File(path))
		}
	}
	return nil
}

// extractAssemblySummary reads the tab-separated assembly summary:
// column 0 assembly accession, 1 bioproject, 2 biosample, 3 wgs master.
// Comment lines start with # and the literal value "na" means absent.
func extractAssemblySummary(ctx context.Context, rep Reporter, w *Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open assembly summary: %w", err)
	}
	defer f.Close()

	rep.Info("extracting assembly relations", runlog.File(path))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 4 {
			continue
		}
		assembly := summaryValue(cols[0])
		bioproject := summaryValue(cols[1])
		biosample := summaryValue(cols[2])
		master := summaryValue(cols[3])
		if master != "" {
			master = accession.NormalizeMasterID(master)
		}

		if !accession.IsValid(assembly, accession.TypeINSDCAssembly) {
			rep.Debug(runlog.CatInvalidAccessionID, "assembly accession invalid",
				runlog.Accession(assembly), runlog.File(path))
			continue
		}
		pairs := []struct {
			t accession.Type
			v string
		}{
			{accession.TypeBioProject, bioproject},
			{accession.TypeBioSample, biosample},
			{accession.TypeINSDCMaster, master},
		}
		for _, p := range pairs {
			if p.v == "" {
				continue
			}
			if err := addTyped(ctx, w, rep, path, accession.TypeINSDCAssembly, assembly, p.t, p.v); err != nil {
				return err
			}
		}
		// The master inherits the assembly's project and sample links.
		if master != "" && accession.IsValid(master, accession.TypeINSDCMaster) {
			if bioproject != "" {
				if err := addTyped(ctx, w, rep, path, accession.TypeINSDCMaster, master, accession.TypeBioProject, bioproject); err != nil {
					return err
				}
			}
			if biosample != "" {
				if err := addTyped(ctx, w, rep, path, accession.TypeINSDCMaster, master, accession.TypeBioSample, biosample); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read assembly summary: %w", err)
	}
	return nil
}

func summaryValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "na" {
		return ""
	}
	return v
}

// extractTradList reads a TRAD organism list: column 3 is the master
// accession (normalized to its series form), 9 the bioproject, 10 the
// biosample.
func extractTradList(ctx context.Context, rep Reporter, w *Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trad list: %w", err)
	}
	defer f.Close()

	rep.Info("extracting trad master relations", runlog.File(path))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 11 {
			continue
		}
		master := accession.NormalizeMasterID(strings.TrimSpace(cols[3]))
		if !accession.IsValid(master, accession.TypeINSDCMaster) {
			rep.Debug(runlog.CatInvalidAccessionID, "trad master accession invalid",
				runlog.Accession(master), runlog.File(path))
			continue
		}
		if bp := strings.TrimSpace(cols[9]); bp != "" {
			if err := addTyped(ctx, w, rep, path, accession.TypeINSDCMaster, master, accession.TypeBioProject, bp); err != nil {
				return err
			}
		}
		if bs := strings.TrimSpace(cols[10]); bs != "" {
			if err := addTyped(ctx, w, rep, path, accession.TypeINSDCMaster, master, accession.TypeBioSample, bs); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trad list: %w", err)
	}
	return nil
}
