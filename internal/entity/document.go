package entity

import (
	"time"

	"github.com/joseph-ayodele/docparser/constants"
)

// Document represents an uploaded PDF for data transfer between layers.
type Document struct {
	ID                 string                   `json:"id"`
	OriginalFilename   string                   `json:"original_filename"`
	StoredPDFPath      string                   `json:"stored_pdf_path"`
	SHA256             string                   `json:"sha256"`
	Status             constants.DocumentStatus `json:"status"`
	PageCount          *int                     `json:"page_count"`
	InvoiceCount       int                      `json:"invoice_count"`
	TranslateToEnglish bool                     `json:"translate_to_english"`
	ErrorMessage       *string                  `json:"error_message,omitempty"`
	TotalTimeMs        *int64                   `json:"total_time_ms,omitempty"`
	JSONPath           *string                  `json:"json_path,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}
