package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/invoice"
)

// Publisher is the event sink of running jobs.
type Publisher interface {
	Open(jobID string)
	Publish(jobID string, ev events.Event)
	Close(jobID string)
}

// jobContext is the state of one running job. It is owned by the goroutine
// running the job; only canceled is touched from other goroutines.
type jobContext struct {
	jobID string
	doc   *entity.Document

	canceled atomic.Bool

	pub    Publisher
	logger *slog.Logger

	start          time.Time
	status         constants.DocumentStatus
	totalPages     int
	pagesProcessed int
	invoices       []*invoice.Invoice
}

func newJobContext(job *entity.Job, doc *entity.Document, pub Publisher, logger *slog.Logger) *jobContext {
	jc := &jobContext{
		jobID:  job.ID,
		doc:    doc,
		pub:    pub,
		logger: logger.With("job_id", job.ID, "document_id", doc.ID),
		start:  time.Now(),
		status: doc.Status,
	}
	if job.CancelRequested {
		jc.canceled.Store(true)
	}
	return jc
}

func (jc *jobContext) emit(p events.Payload) {
	jc.pub.Publish(jc.jobID, events.New(p))
}

func (jc *jobContext) stage(stage constants.Stage, msg string) {
	jc.emit(events.Status{Status: string(stage), Message: msg})
}

func (jc *jobContext) elapsedMs() int64 {
	return time.Since(jc.start).Milliseconds()
}
