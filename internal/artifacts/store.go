// Package artifacts owns the on-disk layout under the data directory:
// uploaded PDFs, page images, extracted text and structured JSON.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/invoice"
)

// Store reads and writes job artifacts below Root.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the artifact directories under root.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{constants.UploadsDir, constants.PagesDir, constants.JSONDir, constants.TextDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) Root() string { return s.root }

// UploadPath is where the document's PDF is stored.
func (s *Store) UploadPath(docID string) string {
	return filepath.Join(s.root, constants.UploadsDir, docID+".pdf")
}

// PagesDir holds the rasterized page images of a document.
func (s *Store) PagesDir(docID string) string {
	return filepath.Join(s.root, constants.PagesDir, docID)
}

// TextPath is the extracted text of a page; pageIndex is 0-based.
func (s *Store) TextPath(docID string, pageIndex int) string {
	return filepath.Join(s.root, constants.TextDir, docID, fmt.Sprintf("page_%04d.txt", pageIndex+1))
}

// PageJSONPath is the structured result of a page; pageNumber is 1-based.
func (s *Store) PageJSONPath(docID string, pageNumber int) string {
	return filepath.Join(s.root, constants.JSONDir, fmt.Sprintf("%s_page_%d.json", docID, pageNumber))
}

// FailedJSONPath keeps the last cleaned model output of a page that failed structuring.
func (s *Store) FailedJSONPath(docID string, pageNumber int) string {
	return filepath.Join(s.root, constants.JSONDir, fmt.Sprintf("%s_page_%d_failed.json", docID, pageNumber))
}

// CombinedJSONPath holds every invoice of a document.
func (s *Store) CombinedJSONPath(docID string) string {
	return filepath.Join(s.root, constants.JSONDir, docID+".json")
}

// Upload is the result of storing an uploaded PDF.
type Upload struct {
	Path   string
	SHA256 string
	Size   int64
}

// SaveUpload streams r to the document's upload path, hashing as it goes.
// At most limit bytes are accepted when limit > 0.
func (s *Store) SaveUpload(docID string, r io.Reader, limit int64) (Upload, error) {
	path := s.UploadPath(docID)
	h := sha256.New()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	var size int64
	err := writeAtomic(path, func(w io.Writer) error {
		n, err := io.Copy(io.MultiWriter(w, h), src)
		size = n
		if err != nil {
			return err
		}
		if limit > 0 && n > limit {
			return ErrTooLarge
		}
		return nil
	})
	if err != nil {
		return Upload{}, err
	}
	return Upload{Path: path, SHA256: hex.EncodeToString(h.Sum(nil)), Size: size}, nil
}

// ErrTooLarge is returned by SaveUpload when the limit is exceeded.
var ErrTooLarge = errors.New("upload exceeds size limit")

// WritePageText stores the extracted text of a page.
func (s *Store) WritePageText(docID string, pageIndex int, text string) (string, error) {
	path := s.TextPath(docID, pageIndex)
	if err := writeFile(path, []byte(text)); err != nil {
		return "", err
	}
	return path, nil
}

// ReadPageText returns the stored text of a page.
func (s *Store) ReadPageText(docID string, pageIndex int) (string, error) {
	b, err := os.ReadFile(s.TextPath(docID, pageIndex))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CombinedText joins every page's text with page markers.
func (s *Store) CombinedText(docID string, pageCount int) string {
	parts := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		text, err := s.ReadPageText(docID, i)
		if err != nil {
			text = "[No text extracted]"
		}
		parts = append(parts, fmt.Sprintf("--- PAGE %d ---\n%s", i+1, text))
	}
	return strings.Join(parts, "\n\n")
}

// WritePageJSON stores a page's structured result as indented JSON.
func (s *Store) WritePageJSON(docID string, pageNumber int, inv *invoice.Invoice) (string, error) {
	b, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode page json: %w", err)
	}
	path := s.PageJSONPath(docID, pageNumber)
	if err := writeFile(path, b); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFailedJSON stores the raw output of a page that could not be structured.
func (s *Store) WriteFailedJSON(docID string, pageNumber int, raw string) (string, error) {
	path := s.FailedJSONPath(docID, pageNumber)
	if err := writeFile(path, []byte(raw)); err != nil {
		return "", err
	}
	return path, nil
}

// WriteCombinedJSON stores {"invoices": [...]} for a document.
func (s *Store) WriteCombinedJSON(docID string, invoices []*invoice.Invoice) (string, error) {
	if invoices == nil {
		invoices = []*invoice.Invoice{}
	}
	b, err := json.MarshalIndent(map[string]any{"invoices": invoices}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode combined json: %w", err)
	}
	path := s.CombinedJSONPath(docID)
	if err := writeFile(path, b); err != nil {
		return "", err
	}
	s.logger.Info("artifacts.combined.saved", "document_id", docID, "invoices", len(invoices), "path", path)
	return path, nil
}

// ReadInvoice loads a stored page result.
func ReadInvoice(path string) (*invoice.Invoice, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inv invoice.Invoice
	if err := json.Unmarshal(b, &inv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &inv, nil
}

// Within reports whether path resolves inside the store root.
func (s *Store) Within(path string) bool {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return false
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Exists reports whether path exists and is a regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func writeFile(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// writeAtomic writes through a temp file in the target directory and renames it into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if _, statErr := os.Stat(tmp.Name()); !errors.Is(statErr, fs.ErrNotExist) {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
