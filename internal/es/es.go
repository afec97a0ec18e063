// Package es pushes JSONL documents into the search engine over the
// HTTP bulk API and manages the per-family indexes.
package es

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ddbj/search-converter/internal/dblink"
	"github.com/ddbj/search-converter/internal/runlog"
)

// batchSize is the number of documents per bulk request.
const batchSize = 5000

// requestTimeout bounds one bulk call, not the whole import.
const requestTimeout = 600 * time.Second

// Client talks to one search cluster.
type Client struct {
	baseURL string
	hc      *http.Client

	retryInitial time.Duration
}

// New returns a client for the cluster at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		hc:           &http.Client{Timeout: requestTimeout},
		retryInitial: time.Second,
	}
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

// transientStatus reports whether a response status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, int, error) {
	var (
		out  []byte
		code int
	)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		code = resp.StatusCode
		if transientStatus(code) {
			return fmt.Errorf("%s %s: status %d", method, path, code)
		}
		return nil
	}
	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, 0, err
	}
	return out, code, nil
}

// Ping verifies the cluster answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, code, err := c.do(ctx, http.MethodGet, "/", "", nil)
	if err != nil {
		return fmt.Errorf("search cluster unreachable: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("search cluster returned status %d", code)
	}
	return nil
}

// defaultIndexBody keeps mapping decisions server-side; only the shard
// layout is pinned.
const defaultIndexBody = `{"settings":{"number_of_shards":1,"number_of_replicas":0}}`

// CreateIndex creates an index, tolerating one that already exists.
func (c *Client) CreateIndex(ctx context.Context, index string) error {
	body, code, err := c.do(ctx, http.MethodPut, "/"+index, "application/json", []byte(defaultIndexBody))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	if code == http.StatusOK {
		return nil
	}
	if code == http.StatusBadRequest && bytes.Contains(body, []byte("resource_already_exists_exception")) {
		return nil
	}
	return fmt.Errorf("failed to create index %s: status %d: %s", index, code, body)
}

// DeleteIndex removes an index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) (found bool, err error) {
	body, code, err := c.do(ctx, http.MethodDelete, "/"+index, "", nil)
	if err != nil {
		return false, fmt.Errorf("failed to delete index %s: %w", index, err)
	}
	switch code {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("failed to delete index %s: status %d: %s", index, code, body)
}

// IndexInfo is one row of the index listing.
type IndexInfo struct {
	Index     string `json:"index"`
	Health    string `json:"health"`
	DocsCount string `json:"docs.count"`
}

// ListIndexes returns the cluster's indexes sorted by name.
func (c *Client) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	body, code, err := c.do(ctx, http.MethodGet, "/_cat/indices?format=json", "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("failed to list indexes: status %d: %s", code, body)
	}
	var infos []IndexInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("failed to parse index listing: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos, nil
}

// bulkResponse is the slice of the bulk reply the client inspects.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkResult summarizes one import or delete pass.
type BulkResult struct {
	Indexed  int64
	Deleted  int64
	NotFound int64
	Failed   int64
}

// bulkLines sends one prepared NDJSON payload and folds the per-item
// outcomes into res. Document-level failures are logged and counted,
// not returned: the caller moves on to the next batch.
func (c *Client) bulkLines(ctx context.Context, rep dblink.Reporter, payload []byte, res *BulkResult) error {
	body, code, err := c.do(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", payload)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("bulk request failed: status %d: %s", code, body)
	}
	var resp bulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}
	for _, item := range resp.Items {
		for action, r := range item {
			switch {
			case action == "delete" && r.Status == http.StatusNotFound:
				res.NotFound++
			case r.Status >= 200 && r.Status < 300:
				if action == "delete" {
					res.Deleted++
				} else {
					res.Indexed++
				}
			default:
				res.Failed++
				reason := fmt.Sprintf("status %d", r.Status)
				if r.Error != nil {
					reason = r.Error.Type + ": " + r.Error.Reason
				}
				rep.Error("document rejected by bulk api", fmt.Errorf("%s", reason),
					runlog.Accession(r.ID))
			}
		}
	}
	return nil
}

// identifierOf pulls the document id out of one JSONL line.
func identifierOf(line []byte) (string, error) {
	var doc struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(line, &doc); err != nil {
		return "", fmt.Errorf("bad document line: %w", err)
	}
	if doc.Identifier == "" {
		return "", fmt.Errorf("document line has no identifier")
	}
	return doc.Identifier, nil
}

// IndexFromFilename recovers the target index from a shard file name
// of the {source}_{index}_{NNNN}.jsonl shape.
func IndexFromFilename(path string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("cannot derive index from file name %s", filepath.Base(path))
	}
	return strings.Join(parts[1:len(parts)-1], "_"), nil
}

// BulkImportFile streams one JSONL shard into its index in batches.
func (c *Client) BulkImportFile(ctx context.Context, rep dblink.Reporter, index, path string) (*BulkResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()

	var (
		res     BulkResult
		payload bytes.Buffer
		n       int
	)
	flush := func() error {
		if n == 0 {
			return nil
		}
		if err := c.bulkLines(ctx, rep, payload.Bytes(), &res); err != nil {
			return err
		}
		payload.Reset()
		n = 0
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		id, err := identifierOf(line)
		if err != nil {
			rep.Error("skipping malformed document line", err, runlog.File(path))
			res.Failed++
			continue
		}
		action, err := json.Marshal(map[string]map[string]string{
			"index": {"_index": index, "_id": id},
		})
		if err != nil {
			return nil, err
		}
		payload.Write(action)
		payload.WriteByte('\n')
		payload.Write(line)
		payload.WriteByte('\n')
		n++
		if n >= batchSize {
			if err := flush(); err != nil {
				return &res, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return &res, fmt.Errorf("failed to read shard: %w", err)
	}
	if err := flush(); err != nil {
		return &res, err
	}
	return &res, nil
}

// BulkImportGlob imports every shard matching the pattern, deriving
// each file's index from its name. A failed shard is logged and the
// import continues.
func (c *Client) BulkImportGlob(ctx context.Context, rep dblink.Reporter, pattern string) (*BulkResult, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad shard pattern: %w", err)
	}
	sort.Strings(files)
	rep.Info(fmt.Sprintf("bulk importing %d shard files", len(files)))

	var total BulkResult
	failedFiles := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return &total, err
		}
		index, err := IndexFromFilename(file)
		if err != nil {
			rep.Error("shard skipped", err, runlog.File(file))
			failedFiles++
			continue
		}
		res, err := c.BulkImportFile(ctx, rep, index, file)
		if res != nil {
			total.Indexed += res.Indexed
			total.Failed += res.Failed
		}
		if err != nil {
			rep.Error("shard import failed", err, runlog.File(file))
			failedFiles++
		}
	}
	if failedFiles > 0 {
		return &total, fmt.Errorf("%d of %d shard files failed", failedFiles, len(files))
	}
	return &total, nil
}

// DeleteDocuments removes the given ids from an index. Absent ids are
// counted as NotFound, not failures.
func (c *Client) DeleteDocuments(ctx context.Context, rep dblink.Reporter, index string, ids []string) (*BulkResult, error) {
	var (
		res     BulkResult
		payload bytes.Buffer
		n       int
	)
	flush := func() error {
		if n == 0 {
			return nil
		}
		if err := c.bulkLines(ctx, rep, payload.Bytes(), &res); err != nil {
			return err
		}
		payload.Reset()
		n = 0
		return nil
	}
	for _, id := range ids {
		action, err := json.Marshal(map[string]map[string]string{
			"delete": {"_index": index, "_id": id},
		})
		if err != nil {
			return nil, err
		}
		payload.Write(action)
		payload.WriteByte('\n')
		n++
		if n >= batchSize {
			if err := flush(); err != nil {
				return &res, err
			}
		}
	}
	if err := flush(); err != nil {
		return &res, err
	}
	return &res, nil
}
