package async

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Enqueue once Shutdown has started.
var ErrClosed = errors.New("queue is shutting down")

// Job identifies one processing run. The job row already exists; the queue
// only carries its id.
type Job struct {
	JobID       string
	DocumentID  string
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
