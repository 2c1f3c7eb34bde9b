package outcome

import "context"

// Handler processes one outcome event delivered by a queue.
type Handler func(ctx context.Context, event Event) error

// Producer publishes outcome events to the queue.
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer delivers queued events to a handler.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue combines both halves.
type Queue interface {
	Producer
	Consumer
}
