package outcome

import (
	"context"
	"sync"

	xerrors "Plugweave/internal/errors"
)

// MemoryQueue backs the outcome pipeline with a channel. It is the default
// driver for single-process deployments and tests.
type MemoryQueue struct {
	ch     chan Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Event, size), done: make(chan struct{})}
}

// Publish enqueues an event, blocking when the buffer is full. The event
// channel itself is never closed, so a publisher racing Close gets an error
// instead of a panic.
func (q *MemoryQueue) Publish(ctx context.Context, event Event) error {
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "outcome queue is closed")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "outcome queue is closed")
	case q.ch <- event:
		return nil
	}
}

// Consume starts workerCount goroutines delivering events to the handler.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					// Drain what was buffered before the close.
					for {
						select {
						case event := <-q.ch:
							_ = handler(ctx, event)
						default:
							return
						}
					}
				case event := <-q.ch:
					_ = handler(ctx, event)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close marks the queue closed. Buffered events remain consumable.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
