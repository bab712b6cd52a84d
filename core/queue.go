package core

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrQueueClosed = errors.New("core: attempt queue closed")

// MemoryAttemptQueue is a bounded in-process queue of delivery ids. Ids
// that do not fit stay pending in the store and are picked up by the
// scheduler's pending recovery.
type MemoryAttemptQueue struct {
	ids       chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemoryAttemptQueue(size int) *MemoryAttemptQueue {
	if size <= 0 {
		size = DefaultConfig().Dispatch.QueueSize
	}
	return &MemoryAttemptQueue{
		ids:    make(chan string, size),
		closed: make(chan struct{}),
	}
}

func (q *MemoryAttemptQueue) Enqueue(ctx context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return errors.New("core: delivery id is required")
	}
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ids <- deliveryID:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume hands ids to handle until ctx is done or the queue is closed.
// After Close, ids already buffered are drained before returning.
func (q *MemoryAttemptQueue) Consume(ctx context.Context, handle func(context.Context, string) error) error {
	if handle == nil {
		return errors.New("core: attempt queue handler is required")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.ids:
			_ = handle(ctx, id)
		case <-q.closed:
			for {
				select {
				case id := <-q.ids:
					_ = handle(ctx, id)
				default:
					return nil
				}
			}
		}
	}
}

func (q *MemoryAttemptQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}

func (q *MemoryAttemptQueue) Len() int {
	return len(q.ids)
}

var _ AttemptQueue = (*MemoryAttemptQueue)(nil)
