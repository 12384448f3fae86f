package events

import (
	"context"
	"sync"
)

// MemoryQueue is an unbounded in-process queue for tests and local runs.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Notification
	nonEmpty chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{nonEmpty: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Publish(_ context.Context, n Notification) error {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
	select {
	case q.nonEmpty <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				select {
				case q.nonEmpty <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return &Delivery{
				Notification: n,
				Ack:          func(context.Context) error { return nil },
			}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.nonEmpty:
		}
	}
}

var (
	_ Publisher = (*MemoryQueue)(nil)
	_ Source    = (*MemoryQueue)(nil)
)
