package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoTopic is returned when subscribing to a job that is not running.
var ErrNoTopic = errors.New("no live event topic for job")

// DefaultKeepalive is the idle interval after which subscribers get a keepalive.
const DefaultKeepalive = 30 * time.Second

// topic is an append-only event log for one job. Waiters block on notify,
// which is closed and replaced on every publish.
type topic struct {
	mu     sync.Mutex
	log    []Event
	notify chan struct{}
	closed bool
}

// Hub fans job events out to subscribers. Publish never blocks; each
// subscriber is fed by its own goroutine reading the topic log.
type Hub struct {
	mu        sync.Mutex
	topics    map[string]*topic
	keepalive time.Duration
	logger    *slog.Logger
}

func NewHub(keepalive time.Duration, logger *slog.Logger) *Hub {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics:    make(map[string]*topic),
		keepalive: keepalive,
		logger:    logger,
	}
}

// Open starts a topic for jobID. Opening a live topic is a no-op.
func (h *Hub) Open(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[jobID]; ok {
		return
	}
	h.topics[jobID] = &topic{notify: make(chan struct{})}
	h.logger.Debug("events.topic.open", "job_id", jobID)
}

// Close ends the topic. Subscribers drain what was published and then stop.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	t, ok := h.topics[jobID]
	delete(h.topics, jobID)
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	close(t.notify)
	t.mu.Unlock()
	h.logger.Debug("events.topic.close", "job_id", jobID, "events", len(t.log))
}

// Live reports whether jobID has an open topic.
func (h *Hub) Live(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.topics[jobID]
	return ok
}

// Publish appends ev to the job's topic. Unknown jobs are ignored.
func (h *Hub) Publish(jobID string, ev Event) {
	h.mu.Lock()
	t, ok := h.topics[jobID]
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.log = append(t.log, ev)
	close(t.notify)
	t.notify = make(chan struct{})
}

// Subscribe streams the job's events from now on, in publish order.
// The channel closes after a terminal event, when the topic closes, or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	h.mu.Lock()
	t, ok := h.topics[jobID]
	h.mu.Unlock()
	if !ok {
		return nil, ErrNoTopic
	}

	t.mu.Lock()
	pos := len(t.log)
	t.mu.Unlock()

	out := make(chan Event, 16)
	go h.feed(ctx, t, pos, out)
	return out, nil
}

func (h *Hub) feed(ctx context.Context, t *topic, pos int, out chan<- Event) {
	defer close(out)

	timer := time.NewTimer(h.keepalive)
	defer timer.Stop()

	for {
		t.mu.Lock()
		pending := t.log[pos:]
		pos = len(t.log)
		closed := t.closed
		wait := t.notify
		t.mu.Unlock()

		for _, ev := range pending {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
		if closed {
			return
		}
		if len(pending) > 0 {
			resetTimer(timer, h.keepalive)
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return
		case now := <-timer.C:
			select {
			case out <- NewKeepalive(now):
			case <-ctx.Done():
				return
			}
			timer.Reset(h.keepalive)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
