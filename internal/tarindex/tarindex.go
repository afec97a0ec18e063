// Package tarindex maintains the per-submission metadata archives
// (NCBI_SRA_Metadata.tar, DRA_Metadata.tar) and their offset-index
// sidecars. The index lets JSONL workers read one submission's XML with
// a single positioned read instead of scanning the whole archive.
package tarindex

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry locates one file's data inside the archive.
type Entry struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// Index is the archive sidecar: entry locations plus the sync
// high-water mark.
type Index struct {
	SyncedAt string           `json:"synced_at"`
	Entries  map[string]Entry `json:"entries"`
}

// IndexPath names the sidecar for an archive.
func IndexPath(tarPath string) string { return tarPath + ".index.json" }

// countingReader tracks the byte position inside the archive; after
// tar.Reader.Next returns, the position is the start of the entry data.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// BuildIndex scans the archive and returns the offset index. The
// SyncedAt stamp is left empty; Sync owns it.
func BuildIndex(tarPath string) (*Index, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	ix := &Index{Entries: make(map[string]Entry)}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return ix, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		ix.Entries[hdr.Name] = Entry{Offset: cr.n, Size: hdr.Size}
	}
}

// Load reads a sidecar index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive index: %w", err)
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("failed to parse archive index: %w", err)
	}
	if ix.Entries == nil {
		ix.Entries = make(map[string]Entry)
	}
	return &ix, nil
}

// Save writes the sidecar atomically.
func (ix *Index) Save(path string) error {
	data, err := json.Marshal(ix)
	if err != nil {
		return fmt.Errorf("failed to marshal archive index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish archive index: %w", err)
	}
	return nil
}

// Reader serves positioned reads against one archive.
type Reader struct {
	f  *os.File
	ix *Index
}

// OpenReader opens the archive and its sidecar index.
func OpenReader(tarPath string) (*Reader, error) {
	ix, err := Load(IndexPath(tarPath))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return &Reader{f: f, ix: ix}, nil
}

// Close closes the archive handle.
func (r *Reader) Close() error { return r.f.Close() }

// Names lists the archived files under a prefix, sorted.
func (r *Reader) Names(prefix string) []string {
	var out []string
	for name := range r.ix.Entries {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Read returns one archived file's contents.
func (r *Reader) Read(name string) ([]byte, error) {
	e, ok := r.ix.Entries[name]
	if !ok {
		return nil, fmt.Errorf("%s not in archive index", name)
	}
	buf := make([]byte, e.Size)
	if _, err := r.f.ReadAt(buf, e.Offset); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return buf, nil
}

// trailerSize is the two zero blocks ending a tar stream.
const trailerSize = 1024

// Sync appends files from srcDir that are new or modified since the
// last sync, then rebuilds and saves the index. Entry names are paths
// relative to srcDir (submission directory plus file name). Returns the
// number of files appended.
func Sync(tarPath, srcDir string) (int, error) {
	var since time.Time
	if ix, err := Load(IndexPath(tarPath)); err == nil && ix.SyncedAt != "" {
		if t, err := time.Parse(time.RFC3339, ix.SyncedAt); err == nil {
			since = t
		}
	}

	var pending []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".xml") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if since.IsZero() || info.ModTime().After(since) {
			pending = append(pending, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk source directory: %w", err)
	}
	sort.Strings(pending)

	now := time.Now().UTC()
	if len(pending) > 0 {
		if err := appendFiles(tarPath, srcDir, pending); err != nil {
			return 0, err
		}
	}

	ix, err := BuildIndex(tarPath)
	if errors.Is(err, fs.ErrNotExist) && len(pending) == 0 {
		ix = &Index{Entries: make(map[string]Entry)}
	} else if err != nil {
		return 0, err
	}
	ix.SyncedAt = now.Format(time.RFC3339)
	if err := ix.Save(IndexPath(tarPath)); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// appendFiles extends the archive in place: the existing trailer is
// overwritten by the new entries and a fresh trailer.
func appendFiles(tarPath, srcDir string, paths []string) error {
	if err := os.MkdirAll(filepath.Dir(tarPath), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	f, err := os.OpenFile(tarPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open archive for append: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.Size() >= trailerSize {
		if _, err := f.Seek(info.Size()-trailerSize, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek past trailer: %w", err)
		}
	}

	tw := tar.NewWriter(f)
	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}
		if err := appendOne(tw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close archive writer: %w", err)
	}
	return f.Sync()
}

func appendOne(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to append %s: %w", name, err)
	}
	return nil
}
