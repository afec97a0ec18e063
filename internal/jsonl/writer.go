package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// shardWriter streams documents into one output file, one JSON object
// per line. The file is created eagerly so an empty shard still leaves
// an (empty) output behind, which keeps shard accounting simple.
type shardWriter struct {
	f   *os.File
	buf *bufio.Writer
	n   int64
}

func newShardWriter(path string) (*shardWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &shardWriter{f: f, buf: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (w *shardWriter) write(doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	w.n++
	return nil
}

func (w *shardWriter) close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}

// abort closes and removes a partially written output.
func (w *shardWriter) abort() {
	name := w.f.Name()
	w.f.Close()
	os.Remove(name)
}

// lazyWriter defers file creation to the first document. Regenerate
// uses it so entity types with no matching documents leave no file
// behind.
type lazyWriter struct {
	path string
	w    *shardWriter
}

func (l *lazyWriter) write(doc interface{}) error {
	if l.w == nil {
		w, err := newShardWriter(l.path)
		if err != nil {
			return err
		}
		l.w = w
	}
	return l.w.write(doc)
}

func (l *lazyWriter) close() error {
	if l.w == nil {
		return nil
	}
	return l.w.close()
}

func (l *lazyWriter) abort() {
	if l.w != nil {
		l.w.abort()
	}
}
