// Package pipeline runs the per-document state machine: convert, then
// extract, structure and optionally translate each page in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/extract"
	"github.com/joseph-ayodele/docparser/internal/invoice"
	"github.com/joseph-ayodele/docparser/internal/pdf"
	"github.com/joseph-ayodele/docparser/internal/repository"
	"github.com/joseph-ayodele/docparser/internal/structure"
	"github.com/joseph-ayodele/docparser/internal/utils"
)

// Structurer turns page text into an invoice and translates it.
type Structurer interface {
	StructurePage(ctx context.Context, text string, page int) structure.Result
	Translate(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error)
}

// Final error messages.
const (
	msgNoInvoices  = "No invoices could be structured from any page"
	msgNoPages     = "No pages were processed successfully"
	finalizeBudget = 30 * time.Second
)

// Deps are the collaborators of a Processor.
type Deps struct {
	Documents repository.DocumentRepository
	Pages     repository.PageRepository
	Invoices  repository.InvoiceRepository
	Jobs      repository.JobRepository
	Converter pdf.Converter
	Extractor extract.TextExtractor
	Structure Structurer
	Store     *artifacts.Store
	Events    Publisher
}

// Processor coordinates conversion, extraction and structuring for a job.
type Processor struct {
	Deps
	Logger *slog.Logger

	mu   sync.Mutex
	live map[string]*jobContext
}

func NewProcessor(deps Deps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Deps: deps, Logger: logger, live: map[string]*jobContext{}}
}

// Process runs a job to a terminal document status. The returned error is
// non-nil only when the job could not be loaded or its final state could not
// be written; page and document failures are recorded, not returned.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	job, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	doc, err := p.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status.Terminal() {
		p.Logger.Warn("pipeline.job.skipped", "job_id", jobID, "status", doc.Status)
		return nil
	}

	jc := p.register(job, doc)
	defer p.unregister(jc)

	jc.logger.Info("pipeline.job.start", "filename", doc.OriginalFilename)
	status, cause := p.run(ctx, jc)
	return p.finish(ctx, jc, status, cause)
}

// Cancel persists the durable flag, then flips the in-memory flag of a live job.
func (p *Processor) Cancel(ctx context.Context, jobID string) error {
	if err := p.Jobs.RequestCancel(ctx, jobID); err != nil {
		return err
	}
	p.mu.Lock()
	jc, ok := p.live[jobID]
	p.mu.Unlock()
	if ok {
		jc.canceled.Store(true)
	}
	p.Logger.Info("pipeline.job.cancel_requested", "job_id", jobID, "live", ok)
	return nil
}

// Active returns the ids of running jobs.
func (p *Processor) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Processor) register(job *entity.Job, doc *entity.Document) *jobContext {
	jc := newJobContext(job, doc, p.Events, p.Logger)
	p.mu.Lock()
	p.live[job.ID] = jc
	p.mu.Unlock()
	p.Events.Open(job.ID)
	return jc
}

func (p *Processor) unregister(jc *jobContext) {
	p.mu.Lock()
	delete(p.live, jc.jobID)
	p.mu.Unlock()
	p.Events.Close(jc.jobID)
}

// run drives the job until it needs a terminal status. cause is the failure
// message for a failed document.
func (p *Processor) run(ctx context.Context, jc *jobContext) (constants.DocumentStatus, error) {
	if ctx.Err() != nil {
		return constants.DocumentStatusFailed, interrupted(ctx)
	}
	if p.cancelRequested(ctx, jc) {
		return constants.DocumentStatusCanceled, nil
	}
	docID := jc.doc.ID

	if err := p.transition(ctx, jc, constants.DocumentStatusProcessing); err != nil {
		return constants.DocumentStatusFailed, err
	}
	if err := p.Jobs.Start(ctx, jc.jobID); err != nil {
		return constants.DocumentStatusFailed, err
	}
	jc.stage(constants.StageProcessing, "Starting document processing...")

	jc.stage(constants.StageConverting, "Converting PDF to images...")
	images, err := p.Converter.Convert(ctx, jc.doc.StoredPDFPath, p.Store.PagesDir(docID))
	if err != nil {
		if ctx.Err() != nil {
			return constants.DocumentStatusFailed, interrupted(ctx)
		}
		jc.logger.Error("pipeline.convert.failed", "error", err)
		return constants.DocumentStatusFailed, fmt.Errorf("PDF conversion failed: %w", err)
	}
	jc.totalPages = len(images)
	if err := p.Documents.SetPageCount(ctx, docID, len(images)); err != nil {
		return constants.DocumentStatusFailed, err
	}
	refs := make([]events.PageRef, len(images))
	for i := range images {
		refs[i] = events.PageRef{PageIndex: i, PageNumber: i + 1}
	}
	jc.emit(events.PDFConverted{
		Message:    fmt.Sprintf("PDF converted to %d images", len(images)),
		TotalPages: len(images),
		Images:     refs,
	})

	pages, err := p.Pages.CreatePending(ctx, docID, images)
	if err != nil {
		return constants.DocumentStatusFailed, err
	}
	total := len(pages)
	jc.emit(events.Status{
		Status:     string(constants.StageExtracting),
		Message:    fmt.Sprintf("Processing %d pages...", total),
		TotalPages: &total,
	})

	for _, page := range pages {
		if ctx.Err() != nil {
			return constants.DocumentStatusFailed, interrupted(ctx)
		}
		if p.cancelRequested(ctx, jc) {
			jc.logger.Info("pipeline.job.canceled", "pages_processed", jc.pagesProcessed)
			return constants.DocumentStatusCanceled, nil
		}
		if err := p.processPage(ctx, jc, page); err != nil {
			if ctx.Err() != nil {
				p.abandonPage(ctx, jc, page)
				return constants.DocumentStatusFailed, interrupted(ctx)
			}
			return constants.DocumentStatusFailed, err
		}
	}

	switch {
	case len(jc.invoices) > 0:
		return constants.DocumentStatusDone, nil
	case jc.pagesProcessed > 0:
		return constants.DocumentStatusFailed, errors.New(msgNoInvoices)
	default:
		return constants.DocumentStatusFailed, errors.New(msgNoPages)
	}
}

// cancelRequested checks the in-memory flag, then the durable one.
func (p *Processor) cancelRequested(ctx context.Context, jc *jobContext) bool {
	if jc.canceled.Load() {
		return true
	}
	requested, err := p.Jobs.IsCancelRequested(ctx, jc.jobID)
	if err != nil {
		jc.logger.Warn("pipeline.cancel.check_failed", "error", err)
		return false
	}
	if requested {
		jc.canceled.Store(true)
	}
	return requested
}

func (p *Processor) transition(ctx context.Context, jc *jobContext, to constants.DocumentStatus) error {
	if !constants.CanTransition(jc.status, to) {
		return fmt.Errorf("document %s cannot move from %s to %s", jc.doc.ID, jc.status, to)
	}
	if err := p.Documents.SetStatus(ctx, jc.doc.ID, to); err != nil {
		return err
	}
	jc.status = to
	return nil
}

// processPage runs one page through extraction, structuring and translation.
// A non-nil error aborts the job; stage and artifact failures are recorded on the page instead.
func (p *Processor) processPage(ctx context.Context, jc *jobContext, page *entity.Page) error {
	docID := jc.doc.ID
	idx, n, total := page.PageIndex, page.PageNumber(), jc.totalPages
	log := jc.logger.With("page", n)

	if err := p.Pages.MarkProcessing(ctx, page.ID); err != nil {
		return err
	}
	if err := p.Jobs.SetCurrentPage(ctx, jc.jobID, idx); err != nil {
		return err
	}

	jc.stage(constants.StageExtracting, fmt.Sprintf("Extracting text from page %d/%d...", n, total))
	ext, err := p.Extractor.ExtractPage(ctx, utils.StrOrEmpty(page.ImagePath))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.pageError(ctx, jc, page, err)
	}
	textPath, err := p.Store.WritePageText(docID, idx, ext.Text)
	if err != nil {
		return p.pageError(ctx, jc, page, err)
	}
	if err := p.Pages.SaveText(ctx, page.ID, textPath, utils.Truncate(ext.Text, constants.TextPreviewLen)); err != nil {
		return err
	}
	textLen := len([]rune(ext.Text))
	jc.emit(events.TextExtracted{
		PageIndex:     idx,
		PageNumber:    n,
		TotalPages:    total,
		Text:          ext.Text,
		TextLength:    textLen,
		ExtractTimeMs: ext.ElapsedMs,
	})

	jc.stage(constants.StageStructuring, fmt.Sprintf("Structuring page %d/%d...", n, total))
	res := p.Structure.StructurePage(ctx, ext.Text, n)
	if !res.OK && ctx.Err() != nil {
		return ctx.Err()
	}
	pageTime := ext.ElapsedMs + res.ElapsedMs

	if res.OK {
		inv := res.Value
		if jc.doc.TranslateToEnglish {
			jc.stage(constants.StageTranslating, fmt.Sprintf("Translating page %d to English...", n))
			translated, err := p.Structure.Translate(ctx, inv)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				log.Warn("pipeline.translate.fallback", "error", err)
			default:
				inv = translated
			}
		}
		rec, err := p.writeInvoice(jc, page, inv)
		if err != nil {
			return p.pageError(ctx, jc, page, err)
		}
		if err := p.commitInvoice(ctx, jc, page, rec, inv, pageTime); err != nil {
			return err
		}
		jc.emit(events.JSONStructured{
			PageIndex:    idx,
			PageNumber:   n,
			TotalPages:   total,
			JSONData:     inv,
			StructTimeMs: res.ElapsedMs,
		})
		log.Info("pipeline.page.structured", "elapsed_ms", pageTime, "attempts", res.Attempts)
	} else {
		failure := repository.PageFailure{ErrorMessage: res.Err.Error(), PageTimeMs: &pageTime}
		if rawPath, err := p.Store.WriteFailedJSON(docID, n, res.Raw); err != nil {
			log.Error("pipeline.page.raw_save_failed", "error", err)
		} else {
			failure.RawJSONPath = &rawPath
		}
		if err := p.Pages.MarkFailed(ctx, page.ID, failure); err != nil {
			return err
		}
		jc.emit(events.JSONFailed{
			PageIndex:  idx,
			PageNumber: n,
			Error:      res.Err.Error(),
			RawOutput:  res.Raw,
		})
		log.Warn("pipeline.page.structure_failed", "error", res.Err, "attempts", res.Attempts)
	}

	jc.pagesProcessed++
	jc.emit(events.PageDone{
		PageIndex:     idx,
		PageNumber:    n,
		TotalPages:    total,
		TimeMs:        pageTime,
		ExtractTimeMs: ext.ElapsedMs,
		StructTimeMs:  res.ElapsedMs,
		TextPreview:   utils.Truncate(ext.Text, constants.EventPreviewLen),
		TextLength:    textLen,
		Structured:    res.OK,
	})
	return nil
}

// writeInvoice writes the page JSON artifact and builds its record.
func (p *Processor) writeInvoice(jc *jobContext, page *entity.Page, inv *invoice.Invoice) (*entity.Invoice, error) {
	jsonPath, err := p.Store.WritePageJSON(jc.doc.ID, page.PageNumber(), inv)
	if err != nil {
		return nil, fmt.Errorf("save page JSON: %w", err)
	}
	return utils.ToInvoiceRecord(jc.doc.ID, page.PageIndex, inv, jsonPath)
}

func (p *Processor) commitInvoice(ctx context.Context, jc *jobContext, page *entity.Page, rec *entity.Invoice, inv *invoice.Invoice, pageTime int64) error {
	if err := p.Invoices.Create(ctx, rec); err != nil {
		return err
	}
	if err := p.Pages.MarkDone(ctx, page.ID, pageTime); err != nil {
		return err
	}
	jc.invoices = append(jc.invoices, inv)
	return nil
}

// pageError records a page that could not be read and moves on.
func (p *Processor) pageError(ctx context.Context, jc *jobContext, page *entity.Page, cause error) error {
	jc.logger.Error("pipeline.page.error", "page", page.PageNumber(), "error", cause)
	if err := p.Pages.MarkFailed(ctx, page.ID, repository.PageFailure{ErrorMessage: cause.Error()}); err != nil {
		return err
	}
	jc.emit(events.PageError{PageIndex: page.PageIndex, Error: cause.Error()})
	return nil
}

// abandonPage fails the page that was in flight when the job was interrupted.
func (p *Processor) abandonPage(ctx context.Context, jc *jobContext, page *entity.Page) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeBudget)
	defer cancel()
	if err := p.Pages.MarkFailed(wctx, page.ID, repository.PageFailure{ErrorMessage: interrupted(ctx).Error()}); err != nil {
		jc.logger.Error("pipeline.page.abandon_failed", "page", page.PageNumber(), "error", err)
	}
}

// finish writes the terminal state and emits the terminal event. Writes use a
// detached context so an interrupted job is never left processing.
func (p *Processor) finish(ctx context.Context, jc *jobContext, status constants.DocumentStatus, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeBudget)
	defer cancel()
	docID := jc.doc.ID

	if !constants.CanTransition(jc.status, status) {
		jc.logger.Error("pipeline.job.bad_transition", "from", jc.status, "to", status)
		status, cause = constants.DocumentStatusFailed, fmt.Errorf("invalid transition from %s to %s", jc.status, status)
	}

	res := repository.DocumentResult{
		Status:       status,
		InvoiceCount: len(jc.invoices),
		TotalTimeMs:  jc.elapsedMs(),
	}
	if cause != nil {
		msg := cause.Error()
		res.ErrorMessage = &msg
	}
	if len(jc.invoices) > 0 {
		path, err := p.Store.WriteCombinedJSON(docID, jc.invoices)
		if err != nil {
			jc.logger.Error("pipeline.combined_json.failed", "error", err)
		} else {
			res.JSONPath = &path
		}
	}

	err := p.Documents.Finish(wctx, docID, res)
	if jerr := p.Jobs.Finish(wctx, jc.jobID); jerr != nil {
		err = errors.Join(err, jerr)
	}
	if err != nil {
		jc.logger.Error("pipeline.job.finalize_failed", "error", err)
	}

	switch status {
	case constants.DocumentStatusDone:
		jc.emit(events.Done{
			Status:       string(status),
			DocumentID:   docID,
			TotalTimeMs:  res.TotalTimeMs,
			InvoiceCount: res.InvoiceCount,
			Message:      events.DoneMessage(res.InvoiceCount),
		})
	case constants.DocumentStatusCanceled:
		jc.emit(events.Canceled{
			Status:         string(status),
			DocumentID:     docID,
			PagesProcessed: jc.pagesProcessed,
			Message:        events.CanceledMessage,
		})
	default:
		jc.emit(events.Error{
			Status:     string(constants.DocumentStatusFailed),
			DocumentID: docID,
			Error:      utils.StrOrEmpty(res.ErrorMessage),
		})
	}
	jc.logger.Info("pipeline.job.finished",
		"status", status,
		"invoices", res.InvoiceCount,
		"pages_processed", jc.pagesProcessed,
		"elapsed_ms", res.TotalTimeMs,
	)
	return err
}

func interrupted(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("processing interrupted: %w", cause)
}
