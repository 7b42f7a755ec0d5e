// Package pdf rasterizes uploaded documents into one JPEG per page.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/docparser/internal/common"
)

// Config holds rasterizer settings.
type Config struct {
	Pdftoppm string // binary name or path
	DPI      int
	MaxPages int // 0 = all pages
}

// Converter turns a PDF into page images.
type Converter interface {
	Convert(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PdftoppmConverter shells out to poppler's pdftoppm.
type PdftoppmConverter struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewConverter(cfg Config, runner Runner, logger *slog.Logger) *PdftoppmConverter {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &PdftoppmConverter{cfg: cfg, runner: runner, logger: logger}
}

// Convert renders every page of pdfPath into outDir as page_0001.jpg, page_0002.jpg, ...
// and returns the image paths in page order.
func (c *PdftoppmConverter) Convert(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}

	prefix := filepath.Join(outDir, "raw")
	args := []string{"-r", strconv.Itoa(c.cfg.DPI), "-jpeg"}
	if c.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(c.cfg.MaxPages))
	}
	args = append(args, pdfPath, prefix)

	// pdftoppm -r 300 -jpeg <in.pdf> <dir/raw>
	_, errb, err := c.runner.Run(ctx, c.cfg.Pdftoppm, args...)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", c.cfg.Pdftoppm, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", c.cfg.Pdftoppm, err, msg)
	}

	// pdftoppm zero-pads the page suffix to the width of the page count: raw-1.jpg or raw-01.jpg.
	matches, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.New("pdftoppm produced no images")
	}
	numbered := make(map[int]string, len(matches))
	keys := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "raw-"), ".jpg"))
		if err != nil {
			continue
		}
		numbered[n] = m
		keys = append(keys, n)
	}
	sort.Ints(keys)

	out := make([]string, 0, len(keys))
	for i, n := range keys {
		dst := filepath.Join(outDir, PageImageName(i))
		if err := os.Rename(numbered[n], dst); err != nil {
			return nil, fmt.Errorf("rename page %d: %w", n, err)
		}
		out = append(out, dst)
	}

	if want, err := PageCount(pdfPath); err == nil && c.cfg.MaxPages == 0 && want != len(out) {
		c.logger.Warn("pdf.convert.page_count_mismatch", "pdf", pdfPath, "pdfcpu", want, "rendered", len(out))
	}
	c.logger.Info("pdf.convert.ok", "pdf", pdfPath, "pages", len(out), "dpi", c.cfg.DPI)
	return out, nil
}

// PageImageName is the file name of a page image; pageIndex is 0-based.
func PageImageName(pageIndex int) string {
	return fmt.Sprintf("page_%04d.jpg", pageIndex+1)
}

// PageCount reads the page count from the PDF's page tree.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("read page count: %w", err)
	}
	return n, nil
}

// Validate checks that path parses as a PDF.
func Validate(path string) error {
	if err := api.ValidateFile(path, nil); err != nil {
		return common.NewAppError("INVALID_PDF", "not a readable PDF", errors.Join(common.ErrInvalidInput, err))
	}
	return nil
}

// Inspector validates a stored upload and reports its page count.
type Inspector struct{}

func (Inspector) Inspect(path string) (int, error) {
	if err := Validate(path); err != nil {
		return 0, err
	}
	n, err := PageCount(path)
	if err != nil {
		return 0, common.NewAppError("INVALID_PDF", "not a readable PDF", errors.Join(common.ErrInvalidInput, err))
	}
	if n == 0 {
		return 0, common.NewAppError("INVALID_PDF", "PDF has no pages", common.ErrInvalidInput)
	}
	return n, nil
}
