package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/async"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/pdf"
	"github.com/joseph-ayodele/docparser/internal/repository"
)

// Usecase stores uploads, creates their document and job rows and queues them.
type Usecase struct {
	Documents repository.DocumentRepository
	Jobs      repository.JobRepository
	Store     *artifacts.Store
	Queue     Enqueuer
	Inspector Inspector
	MaxBytes  int64
	Logger    *slog.Logger
}

func NewUsecase(docs repository.DocumentRepository, jobs repository.JobRepository, store *artifacts.Store, queue Enqueuer, maxBytes int64, logger *slog.Logger) *Usecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &Usecase{
		Documents: docs,
		Jobs:      jobs,
		Store:     store,
		Queue:     queue,
		Inspector: pdf.Inspector{},
		MaxBytes:  maxBytes,
		Logger:    logger,
	}
}

// Submit ingests one PDF. Rejections wrap common.ErrInvalidInput and carry a
// user-facing message.
func (u *Usecase) Submit(ctx context.Context, s Submission) (IngestionResult, error) {
	out := IngestionResult{Filename: s.Filename}
	if s.Filename == "" || !AllowedExt(filepath.Ext(s.Filename)) {
		return out, common.NewAppError("INVALID_FILE", "Only PDF files are allowed: "+s.Filename, common.ErrInvalidInput)
	}

	docID := uuid.NewString()
	up, err := u.Store.SaveUpload(docID, s.Body, u.MaxBytes)
	if errors.Is(err, artifacts.ErrTooLarge) {
		msg := fmt.Sprintf("File too large (%s). Maximum size is %dMB", s.Filename, u.MaxBytes/(1024*1024))
		return out, common.NewAppError("FILE_TOO_LARGE", msg, errors.Join(common.ErrInvalidInput, err))
	}
	if err != nil {
		return out, fmt.Errorf("save upload: %w", err)
	}
	out.SHA256 = up.SHA256

	if s.Dedupe {
		existing, err := u.Documents.GetBySHA256(ctx, up.SHA256)
		switch {
		case err == nil:
			u.discard(up.Path)
			job, err := u.Jobs.GetByDocument(ctx, existing.ID)
			if err != nil {
				return out, fmt.Errorf("load job: %w", err)
			}
			out.DocumentID, out.JobID, out.Deduplicated = existing.ID, job.ID, true
			u.Logger.Info("ingest.deduplicated", "filename", s.Filename, "document_id", existing.ID)
			return out, nil
		case !errors.Is(err, common.ErrNotFound):
			u.discard(up.Path)
			return out, fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	pages, err := u.Inspector.Inspect(up.Path)
	if err != nil {
		u.discard(up.Path)
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			appErr.Message = fmt.Sprintf("%s: %s", appErr.Message, s.Filename)
		}
		return out, err
	}
	out.PageCount = pages

	doc := &entity.Document{
		ID:                 docID,
		OriginalFilename:   s.Filename,
		StoredPDFPath:      up.Path,
		SHA256:             up.SHA256,
		Status:             constants.DocumentStatusQueued,
		TranslateToEnglish: s.Translate,
	}
	if err := u.Documents.Create(ctx, doc); err != nil {
		u.discard(up.Path)
		return out, fmt.Errorf("create document: %w", err)
	}
	job, err := u.Jobs.Create(ctx, doc.ID)
	if err != nil {
		return out, fmt.Errorf("create job: %w", err)
	}
	out.DocumentID, out.JobID = doc.ID, job.ID

	if err := u.Queue.Enqueue(ctx, async.Job{JobID: job.ID, DocumentID: doc.ID, SubmittedAt: time.Now()}); err != nil {
		// the document stays queued and is resumed on the next start
		return out, fmt.Errorf("enqueue job: %w", err)
	}
	u.Logger.Info("ingest.accepted",
		"filename", s.Filename,
		"document_id", doc.ID,
		"job_id", job.ID,
		"bytes", up.Size,
		"pages", pages,
		"translate", s.Translate,
	)
	return out, nil
}

// Resume re-queues documents left queued by a previous run and fails those
// that were processing when it stopped.
func (u *Usecase) Resume(ctx context.Context) (int, error) {
	orphans, err := u.Documents.ListByStatus(ctx, constants.DocumentStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing documents: %w", err)
	}
	for _, d := range orphans {
		msg := "processing interrupted: server restarted"
		if err := u.Documents.Finish(ctx, d.ID, repository.DocumentResult{
			Status:       constants.DocumentStatusFailed,
			InvoiceCount: d.InvoiceCount,
			ErrorMessage: &msg,
		}); err != nil {
			return 0, err
		}
		if job, err := u.Jobs.GetByDocument(ctx, d.ID); err == nil {
			_ = u.Jobs.Finish(ctx, job.ID)
		}
		u.Logger.Warn("ingest.resume.orphan_failed", "document_id", d.ID)
	}

	queued, err := u.Documents.ListByStatus(ctx, constants.DocumentStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("list queued documents: %w", err)
	}
	n := 0
	// oldest first
	for i := len(queued) - 1; i >= 0; i-- {
		d := queued[i]
		job, err := u.Jobs.GetByDocument(ctx, d.ID)
		if err != nil {
			u.Logger.Error("ingest.resume.no_job", "document_id", d.ID, "error", err)
			continue
		}
		if err := u.Queue.Enqueue(ctx, async.Job{JobID: job.ID, DocumentID: d.ID, SubmittedAt: time.Now()}); err != nil {
			return n, fmt.Errorf("enqueue job: %w", err)
		}
		n++
	}
	if n > 0 || len(orphans) > 0 {
		u.Logger.Info("ingest.resume", "requeued", n, "orphans_failed", len(orphans))
	}
	return n, nil
}

func (u *Usecase) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.Logger.Warn("ingest.discard_failed", "path", path, "error", err)
	}
}
