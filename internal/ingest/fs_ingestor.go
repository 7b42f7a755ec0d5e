package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// IngestPath ingests a PDF from the local filesystem. Files already ingested
// (same sha256) are reported as deduplicated.
func (u *Usecase) IngestPath(ctx context.Context, path string, translate bool) (IngestionResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return IngestionResult{SourcePath: path}, fmt.Errorf("abs path: %w", err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return IngestionResult{SourcePath: abs}, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			u.Logger.Warn("ingest.close_failed", "path", abs, "error", err)
		}
	}(f)

	res, err := u.Submit(ctx, Submission{
		Filename:  filepath.Base(abs),
		Body:      f,
		Translate: translate,
		Dedupe:    true,
	})
	res.SourcePath = abs
	return res, err
}
