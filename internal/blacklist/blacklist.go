// Package blacklist loads the curated exclusion and preservation lists
// kept under CONST_DIR: plain-text accession blacklists per source
// family, and TSV lists of hand-maintained relations that must survive
// every rebuild of the relation graph.
package blacklist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ddbj/search-converter/internal/accession"
)

// Set is a case-sensitive accession blacklist.
type Set map[string]bool

// Contains reports whether acc is blacklisted.
func (s Set) Contains(acc string) bool { return s[acc] }

// Load reads a blacklist file. Blank lines and lines starting with #
// are ignored; entries are used exactly as written. A missing file
// yields an empty set with ok=false so the caller can log a warning.
func Load(path string) (Set, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Set{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open blacklist: %w", err)
	}
	defer f.Close()

	set := Set{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read blacklist: %w", err)
	}
	return set, true, nil
}

// Relation is one preserved pair with both endpoints classified.
type Relation struct {
	AType accession.Type
	A     string
	BType accession.Type
	B     string
}

// LoadPreserved reads a two-column TSV of curated relations. The first
// line is a header and is skipped. Rows where either side fails
// classification are returned in skipped for the caller to log; they
// never abort the load. A missing file yields empty results with
// ok=false.
func LoadPreserved(path string) (rels []Relation, skipped []string, ok bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to open preserved list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			first = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			skipped = append(skipped, line)
			continue
		}
		aType, a, aOK := accession.Classify(cols[0])
		bType, b, bOK := accession.Classify(cols[1])
		if !aOK || !bOK {
			skipped = append(skipped, line)
			continue
		}
		rels = append(rels, Relation{AType: aType, A: a, BType: bType, B: b})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("failed to read preserved list: %w", err)
	}
	return rels, skipped, true, nil
}
