package entity

import "time"

// Job tracks the processing run of a document.
type Job struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"document_id"`
	CancelRequested bool       `json:"cancel_requested"`
	CurrentPage     *int       `json:"current_page,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// JobStatus is the joined job/document view served by the status endpoints.
type JobStatus struct {
	JobID           string  `json:"job_id"`
	DocumentID      string  `json:"document_id"`
	Status          string  `json:"status"`
	PageCount       *int    `json:"page_count"`
	PagesDone       int     `json:"pages_done"`
	CurrentPage     *int    `json:"current_page"`
	CancelRequested bool    `json:"cancel_requested"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	Filename        string  `json:"filename"`
}
