// Package xmlsplit shards huge XML dumps into fixed-size record batches.
// The scan is line oriented: a record starts at a line beginning with
// <Tag and ends at a line beginning with </Tag>, which holds for the
// BioProject and BioSample dumps and keeps memory bounded by the largest
// single record.
package xmlsplit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Options configures one split.
type Options struct {
	InputPath string // .gz suffix selects gzip decompression
	Tag       string // record element name, e.g. "Package" or "BioSample"
	BatchSize int    // records per shard
	OutDir    string // final shard directory, replaced atomically
	Prefix    string // shard file prefix, e.g. "ncbi_bioproject"
}

// Result summarizes a completed split.
type Result struct {
	Shards  int
	Records int64
}

// Split shards the input into OutDir. Work happens in OutDir+".tmp",
// renamed over OutDir only on success, so a failed run never leaves a
// half-written shard directory behind.
func Split(ctx context.Context, opts Options) (*Result, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}

	f, err := os.Open(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(opts.InputPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip input: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	tmpDir := opts.OutDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("failed to clear shard work directory: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shard work directory: %w", err)
	}

	w := &shardWriter{dir: tmpDir, prefix: opts.Prefix, batchSize: opts.BatchSize}
	if err := scan(ctx, reader, opts.Tag, w); err != nil {
		w.abort()
		os.RemoveAll(tmpDir)
		return nil, err
	}
	if err := w.finish(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	if err := os.RemoveAll(opts.OutDir); err != nil {
		return nil, fmt.Errorf("failed to remove previous shards: %w", err)
	}
	if err := os.Rename(tmpDir, opts.OutDir); err != nil {
		return nil, fmt.Errorf("failed to publish shards: %w", err)
	}
	return &Result{Shards: w.shards, Records: w.records}, nil
}

// scan walks the input line by line. Lines before the first record are
// the wrapper header, lines after the last record are the wrapper
// footer; both are reproduced in every shard so each shard is itself a
// well-formed document.
func scan(ctx context.Context, r io.Reader, tag string, w *shardWriter) error {
	open := []byte("<" + tag)
	close := []byte("</" + tag + ">")

	br := bufio.NewReaderSize(r, 1<<20)
	var (
		inRecord bool
		sawFirst bool
		record   bytes.Buffer
		trailing bytes.Buffer
		lineNo   int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimLeft(line, " \t")
			switch {
			case inRecord:
				record.Write(line)
				if startsRecordBoundary(trimmed, close) {
					inRecord = false
					if err := w.writeRecord(record.Bytes()); err != nil {
						return err
					}
					record.Reset()
				}
			case startsRecordBoundary(trimmed, open):
				if !sawFirst {
					sawFirst = true
					w.header = append([]byte(nil), trailing.Bytes()...)
					trailing.Reset()
				} else {
					// Inter-record whitespace or comments are dropped.
					trailing.Reset()
				}
				inRecord = true
				record.Write(line)
				if startsRecordBoundary(trimmed, close) || selfClosing(trimmed) {
					inRecord = false
					if err := w.writeRecord(record.Bytes()); err != nil {
						return err
					}
					record.Reset()
				}
			default:
				trailing.Write(line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read failed at line %d: %w", lineNo, err)
		}
	}

	if inRecord {
		return fmt.Errorf("unterminated <%s> record at end of input (line %d)", tag, lineNo)
	}
	w.footer = append([]byte(nil), trailing.Bytes()...)
	return nil
}

// startsRecordBoundary reports whether the line begins with the tag
// token followed by a delimiter, so <BioSample does not match
// <BioSampleSet.
func startsRecordBoundary(line, token []byte) bool {
	if !bytes.HasPrefix(line, token) {
		return false
	}
	if token[len(token)-1] == '>' {
		return true
	}
	if len(line) == len(token) {
		return true
	}
	switch line[len(token)] {
	case '>', ' ', '\t', '/', '\n', '\r':
		return true
	}
	return false
}

func selfClosing(line []byte) bool {
	t := bytes.TrimRight(line, " \t\r\n")
	return bytes.HasSuffix(t, []byte("/>"))
}

// shardWriter streams records into numbered shard files. The wrapper
// footer is only known at EOF, so shards are closed without it and the
// footer is appended to each one in finish.
type shardWriter struct {
	dir       string
	prefix    string
	batchSize int

	header []byte
	footer []byte

	cur     *os.File
	curBuf  *bufio.Writer
	inShard int
	shards  int
	records int64
	paths   []string
}

func (w *shardWriter) writeRecord(rec []byte) error {
	if w.cur == nil {
		if err := w.openShard(); err != nil {
			return err
		}
	}
	if _, err := w.curBuf.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.records++
	w.inShard++
	if w.inShard >= w.batchSize {
		return w.closeShard()
	}
	return nil
}

func (w *shardWriter) openShard() error {
	w.shards++
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%04d.xml", w.prefix, w.shards))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create shard: %w", err)
	}
	w.cur = f
	w.curBuf = bufio.NewWriterSize(f, 1<<20)
	w.inShard = 0
	w.paths = append(w.paths, path)
	if len(w.header) > 0 {
		if _, err := w.curBuf.Write(w.header); err != nil {
			return fmt.Errorf("failed to write shard header: %w", err)
		}
	}
	return nil
}

func (w *shardWriter) closeShard() error {
	if w.cur == nil {
		return nil
	}
	if err := w.curBuf.Flush(); err != nil {
		return fmt.Errorf("failed to flush shard: %w", err)
	}
	if err := w.cur.Close(); err != nil {
		return fmt.Errorf("failed to close shard: %w", err)
	}
	w.cur = nil
	w.curBuf = nil
	return nil
}

func (w *shardWriter) abort() {
	if w.cur != nil {
		w.cur.Close()
		w.cur = nil
	}
}

// finish closes the open shard and appends the wrapper footer to every
// shard written.
func (w *shardWriter) finish() error {
	if err := w.closeShard(); err != nil {
		return err
	}
	if len(w.footer) == 0 {
		return nil
	}
	for _, path := range w.paths {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to reopen shard for footer: %w", err)
		}
		if _, err := f.Write(w.footer); err != nil {
			f.Close()
			return fmt.Errorf("failed to append shard footer: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close shard: %w", err)
		}
	}
	return nil
}
