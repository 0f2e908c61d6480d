// Package memqueue provides the in-process bounded work queue feeding the
// worker pool. Two strict priority classes: standard drains before low,
// FIFO within each class.
package memqueue

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
)

// Queue is a bounded channel pair. Enqueue never blocks: a full class fails
// fast with domain.ErrQueueFull so callers surface backpressure.
type Queue struct {
	standard chan string
	low      chan string
	done     chan struct{}
	once     sync.Once
}

// New splits capacity between the classes (standard keeps the remainder).
// With capacity 1 the low class has no slots and rejects immediately.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	lowCap := capacity / 2
	return &Queue{
		standard: make(chan string, capacity-lowCap),
		low:      make(chan string, lowCap),
		done:     make(chan struct{}),
	}
}

// Enqueue adds a job id to its class without blocking.
func (q *Queue) Enqueue(ctx domain.Context, jobID string, p domain.Priority) error {
	tracer := otel.Tracer("queue.mem")
	_, span := tracer.Start(ctx, "queue.Enqueue", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.priority", string(p)),
	))
	defer span.End()

	select {
	case <-q.done:
		return fmt.Errorf("op=queue.enqueue: closed: %w", domain.ErrQueueFull)
	default:
	}

	ch := q.standard
	if p == domain.PriorityLow {
		ch = q.low
	}
	select {
	case ch <- jobID:
		observability.SetQueueDepth(len(q.standard), len(q.low))
		return nil
	default:
		return fmt.Errorf("op=queue.enqueue: class %s at capacity: %w", p, domain.ErrQueueFull)
	}
}

// Dequeue blocks until an id is available, the context is done, or the queue
// closes. A queued standard item is always taken before any low item.
func (q *Queue) Dequeue(ctx domain.Context) (string, error) {
	for {
		select {
		case id := <-q.standard:
			observability.SetQueueDepth(len(q.standard), len(q.low))
			return id, nil
		default:
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("op=queue.dequeue: %w", ctx.Err())
		case <-q.done:
			return "", fmt.Errorf("op=queue.dequeue: closed: %w", domain.ErrQueueFull)
		case id := <-q.standard:
			observability.SetQueueDepth(len(q.standard), len(q.low))
			return id, nil
		case id := <-q.low:
			observability.SetQueueDepth(len(q.standard), len(q.low))
			return id, nil
		}
	}
}

// Len reports the current depth of each class.
func (q *Queue) Len() (standard, low int) {
	return len(q.standard), len(q.low)
}

// Close wakes all blocked dequeuers. Items still queued are dropped on the
// floor; the registry sweeper expires their jobs.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
