// Package ingest turns incoming PDFs (HTTP uploads or files dropped into the
// inbox directory) into queued documents.
package ingest

import (
	"context"
	"io"

	"github.com/joseph-ayodele/docparser/internal/async"
)

// Submission is one PDF to ingest.
type Submission struct {
	Filename  string
	Body      io.Reader
	Translate bool
	// Dedupe returns the existing document when one with the same sha256 exists.
	Dedupe bool
}

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string `json:"source_path,omitempty"`
	Filename     string `json:"filename"`
	DocumentID   string `json:"document_id,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
	Deduplicated bool   `json:"deduplicated"`
	Err          string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Enqueuer hands a created job to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

// Inspector validates a stored PDF and returns its page count.
type Inspector interface {
	Inspect(path string) (int, error)
}

// Ingestor is the behavior the servers depend on.
type Ingestor interface {
	Submit(ctx context.Context, s Submission) (IngestionResult, error)
	IngestPath(ctx context.Context, path string, translate bool) (IngestionResult, error)
	IngestDirectory(ctx context.Context, root string, translate, skipHidden bool) ([]IngestionResult, DirStats, error)
}
