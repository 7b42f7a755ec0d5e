package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/export"
	"github.com/joseph-ayodele/docparser/internal/ingest"
	"github.com/joseph-ayodele/docparser/internal/invoice"
	"github.com/joseph-ayodele/docparser/internal/repository"
)

type stubIngestor struct {
	mu   sync.Mutex
	subs []ingest.Submission
	err  error
}

func (s *stubIngestor) Submit(_ context.Context, sub ingest.Submission) (ingest.IngestionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ingest.IngestionResult{}, s.err
	}
	_, _ = io.Copy(io.Discard, sub.Body)
	sub.Body = nil
	s.subs = append(s.subs, sub)
	return ingest.IngestionResult{Filename: sub.Filename, JobID: "job-" + sub.Filename, DocumentID: "doc-" + sub.Filename}, nil
}

func (s *stubIngestor) IngestPath(_ context.Context, path string, _ bool) (ingest.IngestionResult, error) {
	return ingest.IngestionResult{SourcePath: path, Filename: filepath.Base(path), JobID: "job-path"}, nil
}

func (s *stubIngestor) IngestDirectory(_ context.Context, root string, _, _ bool) ([]ingest.IngestionResult, ingest.DirStats, error) {
	return []ingest.IngestionResult{{SourcePath: filepath.Join(root, "a.pdf"), JobID: "job-a"}}, ingest.DirStats{Scanned: 2, Matched: 1, Succeeded: 1}, nil
}

func (s *stubIngestor) submissions() []ingest.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingest.Submission(nil), s.subs...)
}

type stubCanceler struct {
	jobs repository.JobRepository
}

func (c stubCanceler) Cancel(ctx context.Context, jobID string) error {
	return c.jobs.RequestCancel(ctx, jobID)
}

type stubLLM struct{ err error }

func (s stubLLM) Health(context.Context) error { return s.err }

type env struct {
	deps    Deps
	handler http.Handler
	ing     *stubIngestor
	hub     *events.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	store, err := artifacts.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	docs := repository.NewDocumentRepository(db, nil)
	invs := repository.NewInvoiceRepository(db, nil)
	jobs := repository.NewJobRepository(db, nil)
	hub := events.NewHub(time.Hour, nil)
	ing := &stubIngestor{}

	deps := Deps{
		Documents:      docs,
		Pages:          repository.NewPageRepository(db, nil),
		Invoices:       invs,
		Jobs:           jobs,
		Store:          store,
		Ingest:         ing,
		Control:        stubCanceler{jobs: jobs},
		Events:         hub,
		Export:         export.NewService(docs, invs, nil),
		LLM:            stubLLM{},
		DB:             db,
		MaxUploadBytes: 1 << 20,
		Origins:        []string{"http://localhost:5173"},
	}
	return &env{deps: deps, handler: NewHTTPServer(deps, nil).Routes(), ing: ing, hub: hub}
}

func (e *env) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) createDocument(t *testing.T, filename string) (*entity.Document, *entity.Job) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	path := e.deps.Store.UploadPath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 test"), 0o644))

	doc := &entity.Document{ID: id, OriginalFilename: filename, StoredPDFPath: path, SHA256: id}
	require.NoError(t, e.deps.Documents.Create(ctx, doc))
	job, err := e.deps.Jobs.Create(ctx, doc.ID)
	require.NoError(t, err)
	return doc, job
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

type upload struct {
	name string
	body []byte
}

func multipartBody(t *testing.T, translate string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile("files[]", f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.body)
		require.NoError(t, err)
	}
	if translate != "" {
		require.NoError(t, mw.WriteField("translate_to_english", translate))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadReturnsJobURLs(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "true", upload{"a.pdf", []byte("%PDF a")}, upload{"b.PDF", []byte("%PDF b")})

	rec := e.do(t, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"job-a.pdf", "job-b.PDF"}, resp.JobIDs)
	assert.Equal(t, []string{"/api/jobs/job-a.pdf/events", "/api/jobs/job-b.PDF/events"}, resp.JobURLs)
	assert.Equal(t, "/api/jobs/job-a.pdf/events", resp.BatchURL)

	subs := e.ing.submissions()
	require.Len(t, subs, 2)
	assert.True(t, subs[0].Translate)
	assert.False(t, subs[0].Dedupe)
}

func TestUploadRejectsWholeBatch(t *testing.T) {
	tests := []struct {
		name  string
		files []upload
		want  string
	}{
		{"wrong extension", []upload{{"a.pdf", []byte("%PDF")}, {"notes.txt", []byte("x")}}, "Only PDF files are allowed: notes.txt"},
		{"too large", []upload{{"big.pdf", bytes.Repeat([]byte("x"), 2<<20)}}, "File too large (big.pdf). Maximum size is 1MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			body, ct := multipartBody(t, "", tt.files...)
			rec := e.do(t, http.MethodPost, "/api/upload", body, ct)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, detail(t, rec))
			assert.Empty(t, e.ing.submissions())
		})
	}
}

func TestUploadWithoutFiles(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "false")
	rec := e.do(t, http.MethodPost, "/api/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No files uploaded", detail(t, rec))
}

func TestUploadIngestFailureIsInternal(t *testing.T) {
	e := newEnv(t)
	e.ing.err = errors.New("disk full")
	body, ct := multipartBody(t, "", upload{"a.pdf", []byte("%PDF")})
	rec := e.do(t, http.MethodPost, "/api/upload", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", detail(t, rec))
}

func TestJobStatusAndCancel(t *testing.T) {
	e := newEnv(t)
	doc, job := e.createDocument(t, "scan.pdf")

	rec := e.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st entity.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, job.ID, st.JobID)
	assert.Equal(t, doc.ID, st.DocumentID)
	assert.Equal(t, "queued", st.Status)
	assert.False(t, st.CancelRequested)

	rec = e.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cancel_requested","job_id":"`+job.ID+`"}`, rec.Body.String())

	requested, err := e.deps.Jobs.IsCancelRequested(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	rec = e.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString()+"/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobEventsReplaysStoredTerminal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, doneJob := e.createDocument(t, "done.pdf")
	doneDoc, _ := e.deps.Documents.Get(ctx, doneJob.DocumentID)
	require.NoError(t, e.deps.Documents.Finish(ctx, doneDoc.ID, repository.DocumentResult{
		Status: constants.DocumentStatusDone, InvoiceCount: 2, TotalTimeMs: 1500,
	}))

	failedDoc, failedJob := e.createDocument(t, "failed.pdf")
	msg := "No pages were processed successfully"
	require.NoError(t, e.deps.Documents.Finish(ctx, failedDoc.ID, repository.DocumentResult{
		Status: constants.DocumentStatusFailed, ErrorMessage: &msg,
	}))

	rec := e.do(t, http.MethodGet, "/api/jobs/"+doneJob.ID+"/events", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: initial\n")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, `"invoice_count":2`)
	assert.Less(t, strings.Index(body, "event: initial"), strings.Index(body, "event: done"))

	rec = e.do(t, http.MethodGet, "/api/jobs/"+failedJob.ID+"/events", nil, "")
	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.Contains(t, rec.Body.String(), msg)

	canceledDoc, canceledJob := e.createDocument(t, "canceled.pdf")
	require.NoError(t, e.deps.Documents.Finish(ctx, canceledDoc.ID, repository.DocumentResult{
		Status: constants.DocumentStatusCanceled,
	}))
	rec = e.do(t, http.MethodGet, "/api/jobs/"+canceledJob.ID+"/events", nil, "")
	assert.Contains(t, rec.Body.String(), "event: canceled\n")
	assert.Contains(t, rec.Body.String(), `"message":"Processing canceled by user"`)
}

func TestJobEventsRelaysLiveEvents(t *testing.T) {
	e := newEnv(t)
	doc, job := e.createDocument(t, "live.pdf")
	require.NoError(t, e.deps.Documents.SetStatus(context.Background(), doc.ID, constants.DocumentStatusProcessing))
	e.hub.Open(job.ID)

	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/" + job.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}

	require.Equal(t, "initial", readEvent())
	e.hub.Publish(job.ID, events.New(events.Status{Status: "processing", Message: "Converting PDF to images..."}))
	e.hub.Publish(job.ID, events.New(events.Done{Status: "done", DocumentID: doc.ID, InvoiceCount: 1}))

	assert.Equal(t, "status", readEvent())
	assert.Equal(t, "done", readEvent())
	assert.Equal(t, "", readEvent())
}

func TestJobEventsUnknownJob(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString()+"/events", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentsListAndDetail(t *testing.T) {
	e := newEnv(t)
	doc, _ := e.createDocument(t, "one.pdf")
	e.createDocument(t, "two.pdf")

	rec := e.do(t, http.MethodGet, "/api/documents?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Documents []entity.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Documents, 1)

	rec = e.do(t, http.MethodGet, "/api/documents?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, doc.ID, got["id"])
	assert.Equal(t, []any{}, got["pages"])
	assert.Equal(t, []any{}, got["invoices"])
}

func TestPageTextPrefersFileOverPreview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, _ := e.createDocument(t, "pages.pdf")
	pages, err := e.deps.Pages.CreatePending(ctx, doc.ID, []string{"", ""})
	require.NoError(t, err)

	full := "FULL TEXT of page one, longer than the preview"
	path, err := e.deps.Store.WritePageText(doc.ID, 0, full)
	require.NoError(t, err)
	require.NoError(t, e.deps.Pages.SaveText(ctx, pages[0].ID, path, "FULL TEXT"))
	require.NoError(t, e.deps.Pages.SaveText(ctx, pages[1].ID, filepath.Join(e.deps.Store.Root(), "gone.txt"), "preview only"))

	rec := e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/0/text", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page_index":0,"text":"`+full+`","text_length":`+itoa(len(full))+`}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/1/text", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"preview only"`)

	rec = e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/9/text", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Page not found", detail(t, rec))

	rec = e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/-1/text", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPageImageStaysInsideDataDir(t *testing.T) {
	e := newEnv(t)
	doc, _ := e.createDocument(t, "img.pdf")
	inside := filepath.Join(e.deps.Store.PagesDir(doc.ID), "page_0001.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("png"), 0o644))
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	_, err := e.deps.Pages.CreatePending(context.Background(), doc.ID, []string{inside, outside})
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/pages/"+doc.ID+"/0", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/pages/"+doc.ID+"/1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, _ := e.createDocument(t, "march invoices.pdf")

	rec := e.do(t, http.MethodGet, "/download/pdf/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="march invoices.pdf"`)

	rec = e.do(t, http.MethodGet, "/download/json/"+doc.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JSON not yet generated", detail(t, rec))

	inv := &invoice.Invoice{}
	inv.SetPageRange(1)
	pagePath, err := e.deps.Store.WritePageJSON(doc.ID, 1, inv)
	require.NoError(t, err)
	number := "INV-7"
	rec0 := &entity.Invoice{DocumentID: doc.ID, InvoiceIndex: 0, StartPage: 1, EndPage: 1, DocumentNumber: &number, JSONPath: &pagePath}
	require.NoError(t, e.deps.Invoices.Create(ctx, rec0))

	combined, err := e.deps.Store.WriteCombinedJSON(doc.ID, []*invoice.Invoice{inv})
	require.NoError(t, err)
	require.NoError(t, e.deps.Documents.Finish(ctx, doc.ID, repository.DocumentResult{
		Status: constants.DocumentStatusDone, InvoiceCount: 1, JSONPath: &combined,
	}))

	rec = e.do(t, http.MethodGet, "/download/invoice/"+rec0.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "invoice_INV-7.json")

	rec = e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/0/json", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	rec = e.do(t, http.MethodGet, "/api/pages/"+doc.ID+"/3/json", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Page JSON not found", detail(t, rec))

	rec = e.do(t, http.MethodGet, "/download/json/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="march invoices.json"`)
	assert.Contains(t, rec.Body.String(), `"invoices"`)

	rec = e.do(t, http.MethodGet, "/view/json/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	rec = e.do(t, http.MethodGet, "/download/invoice/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invoice JSON not found", detail(t, rec))
}

func TestExportXLSX(t *testing.T) {
	e := newEnv(t)
	doc, _ := e.createDocument(t, "x.pdf")

	rec := e.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/export.xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = e.do(t, http.MethodGet, "/api/documents/"+uuid.NewString()+"/export.xlsx", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","ollama":"connected","database":"connected"}`, rec.Body.String())

	e.deps.LLM = stubLLM{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	NewHTTPServer(e.deps, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy","ollama":"disconnected","database":"connected"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
