package constants

// EventType names a progress event on the job stream.
type EventType string

const (
	EventInitial        EventType = "initial"
	EventStatus         EventType = "status"
	EventPDFConverted   EventType = "pdf_converted"
	EventTextExtracted  EventType = "text_extracted"
	EventJSONStructured EventType = "json_structured"
	EventJSONFailed     EventType = "json_failed"
	EventPageError      EventType = "page_error"
	EventPageDone       EventType = "page_done"
	EventCanceled       EventType = "canceled"
	EventError          EventType = "error"
	EventDone           EventType = "done"
	EventKeepalive      EventType = "keepalive"
)

// Terminal reports whether the event ends a job stream.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventCanceled || t == EventError
}
