package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid create/write bursts while a file is copied in
	Translate   bool          // translate_to_english for ingested documents
}

// StartWatcher emits paths of PDFs created or written under the roots. A path
// is emitted once its events have been quiet for cfg.Debounce. Both channels
// close when ctx ends.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && !IsHidden(path) && AllowedExt(filepath.Ext(path)) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watcher.close_failed", "error", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		// pending maps a path to the time of its last event.
		pending := map[string]time.Time{}
		tick := time.NewTicker(cfg.Debounce / 2)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					// new subdirectories are watched too; Add fails harmlessly on files
					_ = w.Add(e.Name)
				}
				if IsHidden(e.Name) || !AllowedExt(filepath.Ext(e.Name)) {
					continue
				}
				if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
					pending[e.Name] = time.Now()
				}
			case now := <-tick.C:
				for p, last := range pending {
					if now.Sub(last) < cfg.Debounce {
						continue
					}
					delete(pending, p)
					if !emit(p) {
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watcher.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch ingests every PDF that appears under cfg.Roots until ctx ends.
func Watch(ctx context.Context, cfg WatchConfig, ing Ingestor, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	paths, _, err := StartWatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("ingest.watcher.started", "roots", cfg.Roots)
	for p := range paths {
		res, err := ing.IngestPath(ctx, p, cfg.Translate)
		if err != nil {
			logger.Error("ingest.watcher.rejected", "path", p, "error", err)
			continue
		}
		logger.Info("ingest.watcher.ingested",
			"path", p,
			"document_id", res.DocumentID,
			"job_id", res.JobID,
			"deduplicated", res.Deduplicated,
		)
	}
	logger.Info("ingest.watcher.stopped")
	return nil
}
