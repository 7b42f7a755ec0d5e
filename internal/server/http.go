// Package server exposes jobs, documents and artifacts over HTTP (JSON + SSE)
// and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/ingest"
	"github.com/joseph-ayodele/docparser/internal/llm"
	"github.com/joseph-ayodele/docparser/internal/repository"
)

// Canceler requests cancellation of a job.
type Canceler interface {
	Cancel(ctx context.Context, jobID string) error
}

// Subscriber streams the live events of a job.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan events.Event, error)
}

// Exporter renders a document's invoices as a workbook.
type Exporter interface {
	InvoicesXLSX(ctx context.Context, documentID string) ([]byte, error)
}

// Pinger checks the database.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Deps are the collaborators of the HTTP and gRPC servers.
type Deps struct {
	Documents repository.DocumentRepository
	Pages     repository.PageRepository
	Invoices  repository.InvoiceRepository
	Jobs      repository.JobRepository
	Store     *artifacts.Store
	Ingest    ingest.Ingestor
	Control   Canceler
	Events    Subscriber
	Export    Exporter
	LLM       llm.HealthChecker
	DB        Pinger

	MaxUploadBytes int64
	Keepalive      time.Duration
	Origins        []string
}

// HTTPServer serves the JSON, SSE and download endpoints.
type HTTPServer struct {
	Deps
	logger *slog.Logger
}

func NewHTTPServer(deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Keepalive <= 0 {
		deps.Keepalive = events.DefaultKeepalive
	}
	return &HTTPServer{Deps: deps, logger: logger}
}

// Routes builds the router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors(s.Origins))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/status", s.jobStatus)
			r.Post("/cancel", s.cancelJob)
			r.Get("/events", s.jobEvents)
		})

		r.Get("/documents", s.listDocuments)
		r.Route("/documents/{docID}", func(r chi.Router) {
			r.Get("/", s.getDocument)
			r.Get("/export.xlsx", s.exportDocument)
		})

		r.Get("/pages/{docID}/{pageIndex}/text", s.pageText)
		r.Get("/pages/{docID}/{pageIndex}/json", s.pageJSON)
	})

	r.Get("/pages/{docID}/{pageIndex}", s.pageImage)

	r.Route("/download", func(r chi.Router) {
		r.Get("/pdf/{docID}", s.downloadPDF)
		r.Get("/invoice/{invoiceID}", s.downloadInvoice)
		r.Get("/json/{docID}", s.downloadCombined)
	})
	r.Get("/view/json/{docID}", s.viewCombined)

	return r
}

// requestLogger logs one line per request and puts the request id on the context.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimiddleware.GetReqID(r.Context())
		ctx := common.WithRequestID(r.Context(), reqID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Info("http.request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// cors allows the configured frontend origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && origin != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps not-found to 404, invalid input to 400 and anything else to 500.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
	}

	detail := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		detail = appErr.Message
	}
	if status == http.StatusInternalServerError {
		common.LoggerFrom(r.Context(), s.logger).Error("http.error", "path", r.URL.Path, "error", err)
		detail = "internal error"
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}
