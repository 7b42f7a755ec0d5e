package entity

import (
	"encoding/json"
	"time"
)

// Invoice is the stored record of one structured page, with its lookup fields mirrored.
type Invoice struct {
	ID               string          `json:"id"`
	DocumentID       string          `json:"document_id"`
	InvoiceIndex     int             `json:"invoice_index"`
	StartPage        int             `json:"start_page"`
	EndPage          int             `json:"end_page"`
	DocumentNumber   *string         `json:"document_number,omitempty"`
	ReferenceNumbers []string        `json:"reference_numbers"`
	IssueDate        *string         `json:"issue_date,omitempty"`
	SupplierName     *string         `json:"supplier_name,omitempty"`
	CustomerName     *string         `json:"customer_name,omitempty"`
	GrossAmount      *float64        `json:"gross_amount,omitempty"`
	Currency         *string         `json:"currency,omitempty"`
	JSONPath         *string         `json:"json_path,omitempty"`
	ResultJSON       json.RawMessage `json:"result_json,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
