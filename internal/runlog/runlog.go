// Package runlog coordinates pipeline runs: every step executes inside a
// run that owns a structured JSONL log file and a persisted run record.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run statuses persisted in the run store.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// Debug categories form a closed set; Debug rejects anything else.
const (
	CatInvalidBioProjectID   = "INVALID_BIOPROJECT_ID"
	CatInvalidBioSampleID    = "INVALID_BIOSAMPLE_ID"
	CatInvalidAccessionID    = "INVALID_ACCESSION_ID"
	CatPrivateUmbrellaParent = "PRIVATE_UMBRELLA_PARENT"
	CatNormalizeOrganism     = "NORMALIZE_ORGANISM"
	CatNormalizeDate         = "NORMALIZE_DATE"
	CatNormalizeAttribute    = "NORMALIZE_ATTRIBUTE"
	CatNormalizeXref         = "NORMALIZE_XREF"
)

var knownCategories = map[string]bool{
	CatInvalidBioProjectID:   true,
	CatInvalidBioSampleID:    true,
	CatInvalidAccessionID:    true,
	CatPrivateUmbrellaParent: true,
	CatNormalizeOrganism:     true,
	CatNormalizeDate:         true,
	CatNormalizeAttribute:    true,
	CatNormalizeXref:         true,
}

// Field is an optional context attribute on a log record.
type Field = zap.Field

// File attaches the input file a record refers to.
func File(path string) Field { return zap.String("file", path) }

// Accession attaches the accession a record refers to.
func Accession(acc string) Field { return zap.String("accession", acc) }

// Source attaches the source family (bioproject, biosample, sra, jga).
func Source(s string) Field { return zap.String("source", s) }

// Run is one execution of a pipeline step. It carries the structured
// logger and the per-level counters that end up in the run record.
type Run struct {
	ID      string
	Name    string
	Started time.Time

	logger *zap.Logger
	store  *Store

	mu         sync.Mutex
	counts     map[string]int64 // by level
	categories map[string]int64 // by debug category
	firstErr   error
}

// NewRunID stamps a run name with the current UTC time.
func NewRunID(name string, now time.Time) string {
	return fmt.Sprintf("%s_%s", name, now.UTC().Format("20060102150405"))
}

// Start opens a run: a JSONL log file under logDir, a console mirror on
// stderr, and an IN_PROGRESS record in the store. store may be nil in
// tests.
func Start(store *Store, logDir, name string) (*Run, error) {
	now := time.Now()
	r := &Run{
		ID:         NewRunID(name, now),
		Name:       name,
		Started:    now,
		store:      store,
		counts:     make(map[string]int64),
		categories: make(map[string]int64),
	}
	if store != nil {
		// Two starts of the same step within one second would collide
		// on the run_id; the store suffixes the later one.
		id, err := store.insertRunUnique(r.ID, r.Name, r.Started)
		if err != nil {
			return nil, err
		}
		r.ID = id
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, r.ID+".log.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	base := []zap.Field{zap.String("run_id", r.ID), zap.String("run_name", r.Name)}
	fileCore := zapcore.NewCore(jsonEncoder(), zapcore.Lock(f), zapcore.DebugLevel)
	consoleCore := zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
	r.logger = zap.New(zapcore.NewTee(fileCore, consoleCore)).With(base...)

	r.Info(fmt.Sprintf("run started: %s", r.ID))
	return r, nil
}

func jsonEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		MessageKey:    "msg",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   encodeLevel,
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		MessageKey:    "msg",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   encodeLevel,
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// encodeLevel maps zap levels onto the pipeline's five level names.
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	default:
		enc.AppendString("CRITICAL")
	}
}

func (r *Run) count(level string) {
	r.mu.Lock()
	r.counts[level]++
	r.mu.Unlock()
}

// Debug records a diagnostic with a mandatory closed-set category.
func (r *Run) Debug(category, msg string, fields ...Field) {
	if !knownCategories[category] {
		// Unknown categories indicate a programming error in the caller.
		r.Warning(fmt.Sprintf("unknown debug category %q for: %s", category, msg), fields...)
		return
	}
	r.count("DEBUG")
	r.mu.Lock()
	r.categories[category]++
	r.mu.Unlock()
	r.logger.Debug(msg, append(fields, zap.String("debug_category", category))...)
}

// Info records normal progress.
func (r *Run) Info(msg string, fields ...Field) {
	r.count("INFO")
	r.logger.Info(msg, fields...)
}

// Warning records a recoverable anomaly.
func (r *Run) Warning(msg string, fields ...Field) {
	r.count("WARNING")
	r.logger.Warn(msg, fields...)
}

// Error records a failed unit of work with its mandatory cause. The run
// continues; the first error is kept for the run record.
func (r *Run) Error(msg string, err error, fields ...Field) {
	r.count("ERROR")
	r.mu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.mu.Unlock()
	r.logger.Error(msg, append(fields, zap.NamedError("error", err))...)
}

// Critical records a step-aborting failure and returns an error for the
// caller to propagate.
func (r *Run) Critical(msg string, err error, fields ...Field) error {
	r.count("CRITICAL")
	r.mu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.mu.Unlock()
	r.logger.Log(zapcore.DPanicLevel, msg, append(fields, zap.NamedError("error", err))...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// Counts returns a copy of the per-level counters.
func (r *Run) Counts() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// CategoryCounts returns a copy of the per-category debug counters.
func (r *Run) CategoryCounts() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.categories))
	for k, v := range r.categories {
		out[k] = v
	}
	return out
}

// Finish closes the run: the final status is SUCCESS unless a CRITICAL
// was recorded or the step reported a terminal error.
func (r *Run) Finish(stepErr error) error {
	status := StatusSuccess
	r.mu.Lock()
	critical := r.counts["CRITICAL"] > 0
	r.mu.Unlock()
	if stepErr != nil || critical {
		status = StatusFailed
	}

	r.Info(fmt.Sprintf("run finished: %s (%s)", r.ID, status), countFields(r.Counts())...)
	_ = r.logger.Sync()

	if r.store != nil {
		if err := r.store.finishRun(r.ID, status, r.Counts(), r.CategoryCounts()); err != nil {
			return err
		}
	}
	return nil
}

func countFields(counts map[string]int64) []Field {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Int64(k, counts[k]))
	}
	return fields
}
