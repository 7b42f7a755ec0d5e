package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/utils"
)

const defaultListLimit = 50

type documentDetail struct {
	*entity.Document
	Pages    []*entity.Page    `json:"pages"`
	Invoices []*entity.Invoice `json:"invoices"`
}

func missing(message string) error {
	return common.NewAppError("NOT_FOUND", message, common.ErrNotFound)
}

// listDocuments handles GET /api/documents?limit=N.
func (s *HTTPServer) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, common.NewAppError("INVALID_LIMIT", "limit must be a positive integer", common.ErrInvalidInput))
			return
		}
		limit = n
	}
	docs, err := s.Documents.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*entity.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// getDocument handles GET /api/documents/{docID}.
func (s *HTTPServer) getDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.Documents.Get(ctx, chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pages, err := s.Pages.ListByDocument(ctx, doc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	invs, err := s.Invoices.ListByDocument(ctx, doc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pages == nil {
		pages = []*entity.Page{}
	}
	if invs == nil {
		invs = []*entity.Invoice{}
	}
	writeJSON(w, http.StatusOK, documentDetail{Document: doc, Pages: pages, Invoices: invs})
}

// exportDocument handles GET /api/documents/{docID}/export.xlsx.
func (s *HTTPServer) exportDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	b, err := s.Export.InvoicesXLSX(r.Context(), docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", attachment("invoices_"+docID+".xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = w.Write(b)
}

func (s *HTTPServer) page(r *http.Request) (*entity.Page, error) {
	idx, err := strconv.Atoi(chi.URLParam(r, "pageIndex"))
	if err != nil || idx < 0 {
		return nil, common.NewAppError("INVALID_PAGE", "page index must be a non-negative integer", common.ErrInvalidInput)
	}
	p, err := s.Pages.Get(r.Context(), chi.URLParam(r, "docID"), idx)
	if errors.Is(err, common.ErrNotFound) {
		return nil, missing("Page not found")
	}
	return p, err
}

// pageText handles GET /api/pages/{docID}/{pageIndex}/text.
func (s *HTTPServer) pageText(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text := utils.StrOrEmpty(p.ExtractedTextPreview)
	if path := utils.StrOrEmpty(p.ExtractedTextPath); path != "" && artifacts.Exists(path) {
		if full, err := s.Store.ReadPageText(p.DocumentID, p.PageIndex); err == nil {
			text = full
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page_index":  p.PageIndex,
		"text":        text,
		"text_length": len([]rune(text)),
	})
}

// pageJSON handles GET /api/pages/{docID}/{pageIndex}/json.
func (s *HTTPServer) pageJSON(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "pageIndex"))
	if err != nil || idx < 0 {
		s.writeError(w, r, common.NewAppError("INVALID_PAGE", "page index must be a non-negative integer", common.ErrInvalidInput))
		return
	}
	inv, err := s.Invoices.GetByIndex(r.Context(), chi.URLParam(r, "docID"), idx)
	if err != nil || inv.JSONPath == nil {
		s.writeError(w, r, notFoundOr(err, "Page JSON not found"))
		return
	}
	s.serveJSONFile(w, r, *inv.JSONPath, "", "Page JSON file not found")
}

// pageImage handles GET /pages/{docID}/{pageIndex}.
func (s *HTTPServer) pageImage(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(r)
	if err != nil || p.ImagePath == nil {
		s.writeError(w, r, notFoundOr(err, "Page image not found"))
		return
	}
	s.serveFile(w, r, *p.ImagePath, "", "Page image file not found")
}

// downloadPDF handles GET /download/pdf/{docID}.
func (s *HTTPServer) downloadPDF(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Documents.Get(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, r, notFoundOr(err, "Document not found"))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	s.serveFile(w, r, doc.StoredPDFPath, doc.OriginalFilename, "PDF file not found")
}

// downloadInvoice handles GET /download/invoice/{invoiceID}.
func (s *HTTPServer) downloadInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Invoices.Get(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil || inv.JSONPath == nil {
		s.writeError(w, r, notFoundOr(err, "Invoice JSON not found"))
		return
	}
	s.serveJSONFile(w, r, *inv.JSONPath, utils.InvoiceFileName(inv), "Invoice JSON file not found")
}

// downloadCombined handles GET /download/json/{docID}.
func (s *HTTPServer) downloadCombined(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.combinedDocument(w, r)
	if !ok {
		return
	}
	stem := strings.TrimSuffix(doc.OriginalFilename, filepath.Ext(doc.OriginalFilename))
	s.serveJSONFile(w, r, *doc.JSONPath, stem+".json", "JSON file not found")
}

// viewCombined handles GET /view/json/{docID}.
func (s *HTTPServer) viewCombined(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.combinedDocument(w, r)
	if !ok {
		return
	}
	s.serveJSONFile(w, r, *doc.JSONPath, "", "JSON file not found")
}

func (s *HTTPServer) combinedDocument(w http.ResponseWriter, r *http.Request) (*entity.Document, bool) {
	doc, err := s.Documents.Get(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, r, notFoundOr(err, "Document not found"))
		return nil, false
	}
	if doc.JSONPath == nil {
		s.writeError(w, r, missing("JSON not yet generated"))
		return nil, false
	}
	return doc, true
}

func (s *HTTPServer) serveJSONFile(w http.ResponseWriter, r *http.Request, path, filename, notFoundMsg string) {
	w.Header().Set("Content-Type", "application/json")
	s.serveFile(w, r, path, filename, notFoundMsg)
}

// serveFile serves a stored artifact; paths outside the data directory are refused.
func (s *HTTPServer) serveFile(w http.ResponseWriter, r *http.Request, path, filename, notFoundMsg string) {
	if !s.Store.Within(path) || !artifacts.Exists(path) {
		w.Header().Del("Content-Type")
		s.writeError(w, r, missing(notFoundMsg))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		w.Header().Del("Content-Type")
		s.writeError(w, r, fmt.Errorf("open artifact: %w", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		w.Header().Del("Content-Type")
		s.writeError(w, r, fmt.Errorf("stat artifact: %w", err))
		return
	}
	if filename != "" {
		w.Header().Set("Content-Disposition", attachment(filename))
	}
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// notFoundOr keeps non-404 errors and replaces a not-found with msg.
func notFoundOr(err error, msg string) error {
	if err == nil || errors.Is(err, common.ErrNotFound) {
		return missing(msg)
	}
	return err
}
