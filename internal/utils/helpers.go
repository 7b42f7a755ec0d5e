package utils

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/invoice"
)

func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Truncate returns at most n characters of s, never splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ToInvoiceRecord builds the stored record of a structured page.
func ToInvoiceRecord(documentID string, pageIndex int, inv *invoice.Invoice, jsonPath string) (*entity.Invoice, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("encode invoice: %w", err)
	}
	kf := inv.KeyFields()
	rec := &entity.Invoice{
		DocumentID:       documentID,
		InvoiceIndex:     pageIndex,
		StartPage:        pageIndex + 1,
		EndPage:          pageIndex + 1,
		DocumentNumber:   kf.DocumentNumber,
		ReferenceNumbers: kf.ReferenceNumbers,
		IssueDate:        kf.IssueDate,
		SupplierName:     kf.SupplierName,
		CustomerName:     kf.CustomerName,
		GrossAmount:      kf.GrossAmount,
		Currency:         kf.Currency,
		ResultJSON:       body,
	}
	if jsonPath != "" {
		rec.JSONPath = &jsonPath
	}
	if inv.PageStart != nil {
		rec.StartPage = *inv.PageStart
	}
	if inv.PageEnd != nil {
		rec.EndPage = *inv.PageEnd
	}
	return rec, nil
}

// InvoiceFileName is the download name of an invoice's JSON file.
func InvoiceFileName(rec *entity.Invoice) string {
	if rec.DocumentNumber != nil && *rec.DocumentNumber != "" {
		return "invoice_" + *rec.DocumentNumber + ".json"
	}
	return "invoice_" + rec.ID + ".json"
}

// ToStruct renders any JSON-encodable value as a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
