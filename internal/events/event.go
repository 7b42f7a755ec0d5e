// Package events carries per-job progress from the processor to any number of
// stream subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joseph-ayodele/docparser/constants"
)

// Payload is the typed body of one event variant.
type Payload interface {
	EventType() constants.EventType
}

// Event is a transient progress notification. It is never persisted.
type Event struct {
	Type    constants.EventType
	Payload Payload
}

// New wraps p into an Event.
func New(p Payload) Event {
	return Event{Type: p.EventType(), Payload: p}
}

// Terminal reports whether the event ends the job stream.
func (e Event) Terminal() bool {
	return e.Type.Terminal()
}

// Data returns the JSON body of the event.
func (e Event) Data() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// Map returns the payload as a generic tree.
func (e Event) Map() (map[string]any, error) {
	b, err := e.Data()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteSSE writes the event in text/event-stream framing.
func WriteSSE(w io.Writer, e Event) error {
	data, err := e.Data()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

type PageRef struct {
	PageIndex  int `json:"page_index"`
	PageNumber int `json:"page_number"`
}

type Initial struct {
	Status      string `json:"status"`
	PageCount   *int   `json:"page_count"`
	CurrentPage *int   `json:"current_page"`
	DocumentID  string `json:"document_id"`
}

type Status struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	TotalPages *int   `json:"total_pages,omitempty"`
}

type PDFConverted struct {
	Message    string    `json:"message"`
	TotalPages int       `json:"total_pages"`
	Images     []PageRef `json:"images"`
}

type TextExtracted struct {
	PageIndex     int    `json:"page_index"`
	PageNumber    int    `json:"page_number"`
	TotalPages    int    `json:"total_pages"`
	Text          string `json:"text"`
	TextLength    int    `json:"text_length"`
	ExtractTimeMs int64  `json:"extract_time_ms"`
}

type JSONStructured struct {
	PageIndex    int   `json:"page_index"`
	PageNumber   int   `json:"page_number"`
	TotalPages   int   `json:"total_pages"`
	JSONData     any   `json:"json_data"`
	StructTimeMs int64 `json:"struct_time_ms"`
}

type JSONFailed struct {
	PageIndex  int    `json:"page_index"`
	PageNumber int    `json:"page_number"`
	Error      string `json:"error"`
	RawOutput  string `json:"raw_output"`
}

type PageDone struct {
	PageIndex     int    `json:"page_index"`
	PageNumber    int    `json:"page_number"`
	TotalPages    int    `json:"total_pages"`
	TimeMs        int64  `json:"time_ms"`
	ExtractTimeMs int64  `json:"extract_time_ms"`
	StructTimeMs  int64  `json:"struct_time_ms"`
	TextPreview   string `json:"text_preview"`
	TextLength    int    `json:"text_length"`
	Structured    bool   `json:"structured"`
}

type PageError struct {
	PageIndex int    `json:"page_index"`
	Error     string `json:"error"`
}

type Canceled struct {
	Status         string `json:"status"`
	DocumentID     string `json:"document_id"`
	PagesProcessed int    `json:"pages_processed"`
	Message        string `json:"message"`
}

type Error struct {
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

type Done struct {
	Status       string `json:"status"`
	DocumentID   string `json:"document_id"`
	TotalTimeMs  int64  `json:"total_time_ms"`
	InvoiceCount int    `json:"invoice_count"`
	Message      string `json:"message"`
}

// CanceledMessage is carried by every canceled event, live or rebuilt.
const CanceledMessage = "Processing canceled by user"

// DoneMessage is the human-readable summary carried by a done event.
func DoneMessage(invoiceCount int) string {
	return fmt.Sprintf("Processing complete! Created %d JSON file(s) - one per page.", invoiceCount)
}

type Keepalive struct {
	Timestamp string `json:"timestamp"`
}

// NewKeepalive stamps a keepalive with the current UTC time.
func NewKeepalive(now time.Time) Event {
	return New(Keepalive{Timestamp: now.UTC().Format(time.RFC3339Nano)})
}

func (Initial) EventType() constants.EventType        { return constants.EventInitial }
func (Status) EventType() constants.EventType         { return constants.EventStatus }
func (PDFConverted) EventType() constants.EventType   { return constants.EventPDFConverted }
func (TextExtracted) EventType() constants.EventType  { return constants.EventTextExtracted }
func (JSONStructured) EventType() constants.EventType { return constants.EventJSONStructured }
func (JSONFailed) EventType() constants.EventType     { return constants.EventJSONFailed }
func (PageDone) EventType() constants.EventType       { return constants.EventPageDone }
func (PageError) EventType() constants.EventType      { return constants.EventPageError }
func (Canceled) EventType() constants.EventType       { return constants.EventCanceled }
func (Error) EventType() constants.EventType          { return constants.EventError }
func (Done) EventType() constants.EventType           { return constants.EventDone }
func (Keepalive) EventType() constants.EventType      { return constants.EventKeepalive }
