package dblink

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// parseIDFComments reads a MAGE-TAB IDF file and returns the values of
// every row whose key equals the given comment header, e.g.
// Comment[BioProject].
func parseIDFComments(path, key string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open idf: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		cols := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if len(cols) < 2 || !strings.EqualFold(cols[0], key) {
			continue
		}
		for _, v := range cols[1:] {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read idf: %w", err)
	}
	return out, nil
}

// parseSDRFColumn reads a MAGE-TAB SDRF file and returns the distinct
// values of the named header column, e.g. Comment[BioSample].
func parseSDRFColumn(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sdrf: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read sdrf: %w", err)
		}
		return nil, nil
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	idx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []string
	for scanner.Scan() {
		cols := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if idx >= len(cols) {
			continue
		}
		v := strings.TrimSpace(cols[idx])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sdrf: %w", err)
	}
	return out, nil
}
