// Package export renders stored invoices as spreadsheets.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/invoice"
	"github.com/joseph-ayodele/docparser/internal/repository"
	"github.com/joseph-ayodele/docparser/internal/utils"
)

const (
	invoicesSheet  = "Invoices"
	lineItemsSheet = "Line Items"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	documents repository.DocumentRepository
	invoices  repository.InvoiceRepository
	logger    *slog.Logger
}

func NewService(docs repository.DocumentRepository, invs repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{documents: docs, invoices: invs, logger: logger}
}

// InvoicesXLSX returns a workbook with one row per invoice of the document on
// the first sheet and every line item on the second.
func (s *Service) InvoicesXLSX(ctx context.Context, documentID string) ([]byte, error) {
	start := time.Now()

	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	recs, err := s.invoices.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(lineItemsSheet); err != nil {
		return nil, err
	}

	invHeaders := []string{
		"Page",
		"Document Number",
		"Issue Date",
		"Supplier",
		"Customer",
		"Currency",
		"Gross Amount",
		"Reference Numbers",
		"Source File",
	}
	itemHeaders := []string{
		"Page",
		"Document Number",
		"Line",
		"Product Code",
		"Description",
		"Quantity",
		"Unit Price",
		"Line Total",
		"Tax Rate",
	}
	if err := writeHeader(f, invoicesSheet, invHeaders); err != nil {
		return nil, err
	}
	if err := writeHeader(f, lineItemsSheet, itemHeaders); err != nil {
		return nil, err
	}

	row, itemRow := 2, 2
	for _, r := range recs {
		writeRow(f, invoicesSheet, row, []any{
			r.StartPage,
			str(r.DocumentNumber),
			str(r.IssueDate),
			str(r.SupplierName),
			str(r.CustomerName),
			str(r.Currency),
			num(r.GrossAmount),
			strings.Join(r.ReferenceNumbers, ", "),
			doc.OriginalFilename,
		})
		row++

		items, err := lineItems(r)
		if err != nil {
			s.logger.Warn("export.xlsx.bad_result", "invoice_id", r.ID, "error", err)
			continue
		}
		for _, it := range items {
			line := any("")
			if it.LineNo != nil {
				line = *it.LineNo
			}
			writeRow(f, lineItemsSheet, itemRow, []any{
				r.StartPage,
				str(r.DocumentNumber),
				line,
				str(it.ProductCode),
				utils.Truncate(str(it.Description), 140),
				num(it.Quantity),
				num(it.UnitPrice),
				num(it.LineTotal),
				num(it.TaxRate),
			})
			itemRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(invoicesSheet, "B", "C", 18)
	_ = f.SetColWidth(invoicesSheet, "D", "E", 32)
	_ = f.SetColWidth(invoicesSheet, "G", "G", 14)
	_ = f.SetColWidth(invoicesSheet, "H", "I", 30)
	_ = f.SetColWidth(lineItemsSheet, "B", "B", 18)
	_ = f.SetColWidth(lineItemsSheet, "E", "E", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"document_id", documentID,
		"rows", len(recs),
		"line_items", itemRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func lineItems(r *entity.Invoice) ([]invoice.LineItem, error) {
	if len(r.ResultJSON) == 0 {
		return nil, nil
	}
	var inv invoice.Invoice
	if err := json.Unmarshal(r.ResultJSON, &inv); err != nil {
		return nil, err
	}
	return inv.LineItems, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func str(s *string) string {
	return utils.StrOrEmpty(s)
}

// num leaves the cell empty for a missing amount.
func num(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}
