package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = 2 * time.Hour
)

// ProcessorQueue feeds jobs to a fixed pool of workers. Each worker runs one
// job at a time, so QUEUE_WORKERS bounds the number of concurrent jobs.
type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// base is canceled when Shutdown gives up waiting; running jobs then
	// finalize as interrupted.
	base   context.Context
	cancel context.CancelFunc

	// Enqueue holds the read lock while sending so Shutdown never closes ch
	// under a sender.
	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: defaultWorkers,
		timeout: defaultTimeout,
		ch:      make(chan Job, defaultQueueSize),
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *ProcessorQueue) work(workerID int) {
	defer q.wg.Done()
	log := q.logger.With("worker_id", workerID)
	log.Debug("queue.worker.started")

	for job := range q.ch {
		if q.base.Err() != nil {
			// left queued; picked up again on the next start
			log.Warn("queue.job.dropped", "job_id", job.JobID)
			continue
		}
		q.run(log, job)
	}

	log.Debug("queue.worker.stopped")
}

func (q *ProcessorQueue) run(log *slog.Logger, job Job) {
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("queue.job.panic", "job_id", job.JobID, "panic", r)
		}
	}()

	waited := time.Since(job.SubmittedAt)
	if err := q.proc.Process(ctx, job.JobID); err != nil {
		log.Error("queue.job.failed", "job_id", job.JobID, "document_id", job.DocumentID, "error", err)
		return
	}
	log.Info("queue.job.done", "job_id", job.JobID, "document_id", job.DocumentID, "waited_ms", waited.Milliseconds())
}

// Enqueue hands a job to the workers. When the buffer is full it blocks until
// a worker frees a slot or ctx ends.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "job_id", job.JobID)
		return ErrClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue.enqueue.backpressure", "job_id", job.JobID, "depth", len(q.ch))
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.logger.Info("queue.enqueue.ok", "job_id", job.JobID, "document_id", job.DocumentID)
	return nil
}

// Depth is the number of jobs waiting for a worker.
func (q *ProcessorQueue) Depth() int {
	return len(q.ch)
}

// Shutdown stops intake and waits for queued and running jobs. If ctx ends
// first, running jobs are canceled and Shutdown waits for them to finalize.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted", "pending", len(q.ch))
		q.cancel()
		<-done
	}
	q.cancel()
}
