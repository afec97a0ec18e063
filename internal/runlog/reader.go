package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one parsed line of a run's JSONL log file.
type Entry struct {
	TS            string `json:"ts"`
	Level         string `json:"level"`
	RunID         string `json:"run_id"`
	RunName       string `json:"run_name"`
	Msg           string `json:"msg"`
	File          string `json:"file,omitempty"`
	Accession     string `json:"accession,omitempty"`
	Source        string `json:"source,omitempty"`
	DebugCategory string `json:"debug_category,omitempty"`
	Error         string `json:"error,omitempty"`
}

var levelRank = map[string]int{
	"DEBUG":    0,
	"INFO":     1,
	"WARNING":  2,
	"ERROR":    3,
	"CRITICAL": 4,
}

// ReadLog loads the log entries of a run, keeping only entries at or
// above minLevel. minLevel "" means everything.
func ReadLog(logDir, runID, minLevel string) ([]Entry, error) {
	min := 0
	if minLevel != "" {
		rank, ok := levelRank[minLevel]
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", minLevel)
		}
		min = rank
	}

	path := filepath.Join(logDir, runID+".log.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line from a crashed run is not fatal.
			continue
		}
		if levelRank[e.Level] >= min {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan run log: %w", err)
	}
	return entries, nil
}
