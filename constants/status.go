package constants

// DocumentStatus is the canonical status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocumentStatusQueued     DocumentStatus = "queued"     // uploaded, waiting for a worker
	DocumentStatusProcessing DocumentStatus = "processing" // a job is running
	DocumentStatusDone       DocumentStatus = "done"       // at least one invoice produced
	DocumentStatusFailed     DocumentStatus = "failed"     // terminal failure
	DocumentStatusCanceled   DocumentStatus = "canceled"   // canceled by user
)

// DocumentStatuses lists every document status, in state machine order.
var DocumentStatuses = []string{
	string(DocumentStatusQueued),
	string(DocumentStatusProcessing),
	string(DocumentStatusDone),
	string(DocumentStatusFailed),
	string(DocumentStatusCanceled),
}

// Terminal reports whether no further transition is allowed.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentStatusDone, DocumentStatusFailed, DocumentStatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether a document may move from one status to another.
// Status never regresses: queued -> processing -> {done, failed, canceled}.
// A queued document may also fail or be canceled before a worker picks it up.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case DocumentStatusQueued:
		return to == DocumentStatusProcessing || to == DocumentStatusFailed || to == DocumentStatusCanceled
	case DocumentStatusProcessing:
		return to.Terminal()
	}
	return false
}

// PageStatus is the canonical status for rows in pages.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusDone       PageStatus = "done"
	PageStatusFailed     PageStatus = "failed"
)

// PageStatuses lists every page status.
var PageStatuses = []string{
	string(PageStatusPending),
	string(PageStatusProcessing),
	string(PageStatusDone),
	string(PageStatusFailed),
}

// Stage is the fine-grained progress value carried by status events.
// Stages are never stored as a document status.
type Stage string

const (
	StageProcessing  Stage = "processing"
	StageConverting  Stage = "converting"
	StageExtracting  Stage = "extracting"
	StageStructuring Stage = "structuring"
	StageTranslating Stage = "translating"
)
