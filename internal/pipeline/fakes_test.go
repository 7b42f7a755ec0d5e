package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/extract"
	"github.com/joseph-ayodele/docparser/internal/invoice"
	"github.com/joseph-ayodele/docparser/internal/repository"
	"github.com/joseph-ayodele/docparser/internal/structure"
)

// memDB backs every fake repository.
type memDB struct {
	mu       sync.Mutex
	docs     map[string]*entity.Document
	pages    map[string][]*entity.Page
	invoices []*entity.Invoice
	jobs     map[string]*entity.Job
}

func newMemDB() *memDB {
	return &memDB{
		docs:  map[string]*entity.Document{},
		pages: map[string][]*entity.Page{},
		jobs:  map[string]*entity.Job{},
	}
}

func missing(what, id string) error {
	return common.NewAppError("NOT_FOUND", what+" "+id+" not found", common.ErrNotFound)
}

type fakeDocs struct{ *memDB }

func (f fakeDocs) Create(_ context.Context, d *entity.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = constants.DocumentStatusQueued
	}
	cp := *d
	f.docs[d.ID] = &cp
	return nil
}

func (f fakeDocs) Get(_ context.Context, id string) (*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, missing("document", id)
	}
	cp := *d
	return &cp, nil
}

func (f fakeDocs) GetBySHA256(_ context.Context, sum string) (*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.SHA256 == sum {
			cp := *d
			return &cp, nil
		}
	}
	return nil, missing("document", sum)
}

func (f fakeDocs) List(_ context.Context, _ int) ([]*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Document
	for _, d := range f.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakeDocs) ListByStatus(_ context.Context, status constants.DocumentStatus) ([]*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Document
	for _, d := range f.docs {
		if d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeDocs) SetStatus(_ context.Context, id string, s constants.DocumentStatus) error {
	return f.with(id, func(d *entity.Document) { d.Status = s })
}

func (f fakeDocs) SetPageCount(_ context.Context, id string, n int) error {
	return f.with(id, func(d *entity.Document) { d.PageCount = &n })
}

func (f fakeDocs) Finish(ctx context.Context, id string, res repository.DocumentResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.with(id, func(d *entity.Document) {
		d.Status = res.Status
		d.InvoiceCount = res.InvoiceCount
		d.ErrorMessage = res.ErrorMessage
		d.TotalTimeMs = &res.TotalTimeMs
		d.JSONPath = res.JSONPath
	})
}

func (f fakeDocs) with(id string, fn func(*entity.Document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return missing("document", id)
	}
	fn(d)
	return nil
}

type fakePages struct{ *memDB }

func (f fakePages) CreatePending(_ context.Context, docID string, images []string) ([]*entity.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages[docID]) > 0 {
		return nil, errors.New("pages already exist")
	}
	var out []*entity.Page
	for i, img := range images {
		img := img
		p := &entity.Page{ID: uuid.NewString(), DocumentID: docID, PageIndex: i, ImagePath: &img, Status: constants.PageStatusPending}
		f.pages[docID] = append(f.pages[docID], p)
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakePages) Get(_ context.Context, docID string, idx int) (*entity.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages[docID] {
		if p.PageIndex == idx {
			cp := *p
			return &cp, nil
		}
	}
	return nil, missing("page", fmt.Sprint(idx))
}

func (f fakePages) ListByDocument(_ context.Context, docID string) ([]*entity.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Page
	for _, p := range f.pages[docID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakePages) MarkProcessing(_ context.Context, id string) error {
	return f.with(id, func(p *entity.Page) { p.Status = constants.PageStatusProcessing })
}

func (f fakePages) SaveText(_ context.Context, id, path, preview string) error {
	return f.with(id, func(p *entity.Page) {
		p.ExtractedTextPath = &path
		p.ExtractedTextPreview = &preview
	})
}

func (f fakePages) MarkDone(_ context.Context, id string, ms int64) error {
	return f.with(id, func(p *entity.Page) {
		p.Status = constants.PageStatusDone
		p.PageTimeMs = &ms
	})
}

func (f fakePages) MarkFailed(ctx context.Context, id string, pf repository.PageFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.with(id, func(p *entity.Page) {
		p.Status = constants.PageStatusFailed
		msg := pf.ErrorMessage
		p.ErrorMessage = &msg
		p.RawJSONPath = pf.RawJSONPath
		p.PageTimeMs = pf.PageTimeMs
	})
}

func (f fakePages) CountByStatus(_ context.Context, docID string, s constants.PageStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.pages[docID] {
		if p.Status == s {
			n++
		}
	}
	return n, nil
}

func (f fakePages) with(id string, fn func(*entity.Page)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ps := range f.pages {
		for _, p := range ps {
			if p.ID == id {
				fn(p)
				return nil
			}
		}
	}
	return missing("page", id)
}

type fakeInvoices struct{ *memDB }

func (f fakeInvoices) Create(_ context.Context, inv *entity.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	cp := *inv
	f.invoices = append(f.invoices, &cp)
	return nil
}

func (f fakeInvoices) Get(_ context.Context, id string) (*entity.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, missing("invoice", id)
}

func (f fakeInvoices) GetByIndex(_ context.Context, docID string, idx int) (*entity.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.DocumentID == docID && inv.InvoiceIndex == idx {
			return inv, nil
		}
	}
	return nil, missing("invoice", fmt.Sprint(idx))
}

func (f fakeInvoices) ListByDocument(_ context.Context, docID string) ([]*entity.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range f.invoices {
		if inv.DocumentID == docID {
			out = append(out, inv)
		}
	}
	return out, nil
}

type fakeJobs struct{ *memDB }

func (f fakeJobs) Create(_ context.Context, docID string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &entity.Job{ID: uuid.NewString(), DocumentID: docID, CreatedAt: time.Now()}
	f.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (f fakeJobs) Get(_ context.Context, id string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, missing("job", id)
	}
	cp := *j
	return &cp, nil
}

func (f fakeJobs) GetByDocument(_ context.Context, docID string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.DocumentID == docID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, missing("job", docID)
}

func (f fakeJobs) Start(_ context.Context, id string) error {
	return f.with(id, func(j *entity.Job) { now := time.Now(); j.StartedAt = &now })
}

func (f fakeJobs) SetCurrentPage(_ context.Context, id string, idx int) error {
	return f.with(id, func(j *entity.Job) { j.CurrentPage = &idx })
}

func (f fakeJobs) Finish(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.with(id, func(j *entity.Job) { now := time.Now(); j.FinishedAt = &now })
}

func (f fakeJobs) RequestCancel(_ context.Context, id string) error {
	return f.with(id, func(j *entity.Job) { j.CancelRequested = true })
}

func (f fakeJobs) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	j, err := f.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return j.CancelRequested, nil
}

func (f fakeJobs) Status(ctx context.Context, id string) (*entity.JobStatus, error) {
	j, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := fakeDocs(f).Get(ctx, j.DocumentID)
	if err != nil {
		return nil, err
	}
	done, _ := fakePages(f).CountByStatus(ctx, d.ID, constants.PageStatusDone)
	return &entity.JobStatus{
		JobID:           j.ID,
		DocumentID:      d.ID,
		Status:          string(d.Status),
		PageCount:       d.PageCount,
		PagesDone:       done,
		CurrentPage:     j.CurrentPage,
		CancelRequested: j.CancelRequested,
		ErrorMessage:    d.ErrorMessage,
		Filename:        d.OriginalFilename,
	}, nil
}

func (f fakeJobs) with(id string, fn func(*entity.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return missing("job", id)
	}
	fn(j)
	return nil
}

// fakeConverter returns n image paths without touching the disk.
type fakeConverter struct {
	pages int
	err   error
	calls int
}

func (c *fakeConverter) Convert(_ context.Context, _, outDir string) ([]string, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]string, c.pages)
	for i := range out {
		out[i] = fmt.Sprintf("%s/page_%04d.jpg", outDir, i+1)
	}
	return out, nil
}

// fakeExtractor returns canned text per image; hook runs before each call.
type fakeExtractor struct {
	fail  map[int]error // by 0-based call index
	hook  func(call int)
	calls int
}

func (e *fakeExtractor) ExtractPage(ctx context.Context, imagePath string) (extract.Result, error) {
	call := e.calls
	e.calls++
	if e.hook != nil {
		e.hook(call)
	}
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	if err, ok := e.fail[call]; ok {
		return extract.Result{}, err
	}
	return extract.Result{Text: "Invoice text for " + imagePath, ElapsedMs: 5, Attempts: 1}, nil
}

// fakeStructurer succeeds unless the page is listed in fail.
type fakeStructurer struct {
	fail         map[int]bool // by page number
	translateErr error
	translated   int
}

func (s *fakeStructurer) StructurePage(_ context.Context, _ string, page int) structure.Result {
	if s.fail[page] {
		return structure.Result{
			Err:       &structure.FailedError{Cause: errors.New("invalid JSON: unexpected end of JSON input")},
			Raw:       `{"document": {`,
			Attempts:  2,
			ElapsedMs: 7,
		}
	}
	inv := invoice.Empty()
	num := fmt.Sprintf("INV-%d", page)
	inv.Document.Identifiers.DocumentNumber = &num
	inv.SetPageRange(page)
	return structure.Result{OK: true, Value: inv, Attempts: 1, ElapsedMs: 7}
}

func (s *fakeStructurer) Translate(_ context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if s.translateErr != nil {
		return nil, s.translateErr
	}
	s.translated++
	out := *inv
	typ := "invoice"
	out.Document.Type = &typ
	return &out, nil
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	opened []string
	closed []string
}

func (r *recorder) Open(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, jobID)
}

func (r *recorder) Publish(_ string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Close(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, jobID)
}

func (r *recorder) types() []constants.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]constants.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
