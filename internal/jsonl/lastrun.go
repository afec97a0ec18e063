package jsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Families are the incremental bookkeeping units.
var Families = []string{"bioproject", "biosample", "sra", "jga"}

// LastRun maps each family to the start timestamp of its last
// successful emission, or nil before the first full run.
type LastRun map[string]*time.Time

// LoadLastRun reads the bookkeeping file. A missing file yields an
// all-nil map, which forces full mode everywhere.
func LoadLastRun(path string) (LastRun, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		lr := LastRun{}
		for _, f := range Families {
			lr[f] = nil
		}
		return lr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last_run file: %w", err)
	}
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse last_run file: %w", err)
	}
	lr := LastRun{}
	for _, f := range Families {
		lr[f] = nil
		if s, ok := raw[f]; ok && s != nil {
			t, err := time.Parse(time.RFC3339, *s)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp for %s: %w", f, err)
			}
			lr[f] = &t
		}
	}
	return lr, nil
}

// Save rewrites the bookkeeping file atomically.
func (lr LastRun) Save(path string) error {
	raw := make(map[string]*string, len(Families))
	for _, f := range Families {
		raw[f] = nil
		if t := lr[f]; t != nil {
			s := t.UTC().Format(time.RFC3339)
			raw[f] = &s
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal last_run: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write last_run: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write last_run: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync last_run: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close last_run: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish last_run: %w", err)
	}
	return nil
}

// Cutoff computes the effective incremental cutoff for a family: the
// last successful run minus the safety margin. nil means full mode.
// The margin absorbs upstream back-dating of records after publication.
func (lr LastRun) Cutoff(family string, marginDays int) *time.Time {
	t := lr[family]
	if t == nil {
		return nil
	}
	c := t.Add(-time.Duration(marginDays) * 24 * time.Hour)
	return &c
}
