package entity

import "github.com/joseph-ayodele/docparser/constants"

// Page is one rendered page of a document.
type Page struct {
	ID                   string               `json:"id"`
	DocumentID           string               `json:"document_id"`
	PageIndex            int                  `json:"page_index"`
	ImagePath            *string              `json:"image_path,omitempty"`
	ExtractedTextPath    *string              `json:"extracted_text_path,omitempty"`
	ExtractedTextPreview *string              `json:"extracted_text_preview,omitempty"`
	PageTimeMs           *int64               `json:"page_time_ms,omitempty"`
	Status               constants.PageStatus `json:"status"`
	RawJSONPath          *string              `json:"raw_json_path,omitempty"`
	ErrorMessage         *string              `json:"error_message,omitempty"`
}

// PageNumber is the 1-based page number.
func (p *Page) PageNumber() int { return p.PageIndex + 1 }
