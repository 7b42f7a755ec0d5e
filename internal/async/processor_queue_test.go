package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu      sync.Mutex
	seen    []string
	running atomic.Int32
	peak    atomic.Int32
	block   chan struct{}
	err     error
}

func (f *fakeProcessor) Process(ctx context.Context, jobID string) error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.record(jobID)
			return ctx.Err()
		}
	}
	f.record(jobID)
	return f.err
}

func (f *fakeProcessor) record(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
}

func (f *fakeProcessor) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func TestQueueProcessesAllJobs(t *testing.T) {
	proc := &fakeProcessor{}
	q := NewProcessorQueue(proc, nil, WithWorkers(3))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{JobID: id}))
	}
	q.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, proc.ids())
}

func TestQueueBoundsConcurrency(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewProcessorQueue(proc, nil, WithWorkers(2), WithQueueSize(8))

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{JobID: string(rune('a' + i))}))
	}
	require.Eventually(t, func() bool { return proc.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(proc.block)
	q.Shutdown(context.Background())

	assert.Equal(t, int32(2), proc.peak.Load())
	assert.Len(t, proc.ids(), 6)
}

func TestQueueEnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(&fakeProcessor{}, nil)
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{JobID: "late"})
	assert.ErrorIs(t, err, ErrClosed)

	q.Shutdown(context.Background())
}

func TestQueueEnqueueBackpressureHonorsContext(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(proc.block)
		q.Shutdown(context.Background())
	}()

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "running"}))
	require.Eventually(t, func() bool { return proc.running.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "buffered"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{JobID: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Depth())
}

func TestQueueShutdownCancelsRunningJobs(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(4))

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "running"}))
	require.Eventually(t, func() bool { return proc.running.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "waiting"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	assert.Equal(t, []string{"running"}, proc.ids())
	assert.Zero(t, proc.running.Load())
}

func TestQueueJobTimeout(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithProcessTimeout(10*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "slow"}))
	q.Shutdown(context.Background())

	assert.Equal(t, []string{"slow"}, proc.ids())
}

func TestQueueSurvivesFailures(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("load job: not found")}
	q := NewProcessorQueue(proc, nil, WithWorkers(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "x"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: "y"}))
	q.Shutdown(context.Background())

	assert.Equal(t, []string{"x", "y"}, proc.ids())
}
