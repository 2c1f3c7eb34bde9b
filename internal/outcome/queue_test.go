package outcome

import (
	"context"
	"sync"
	"testing"
	"time"

	"Plugweave/internal/discovery"
	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/plugin"
)

func TestMemoryQueueDelivers(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make([]Event, 0)
	done := make(chan struct{})

	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, event Event) error {
			mu.Lock()
			received = append(received, event)
			if len(received) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		event := NewEvent("p", "chain-1", true, 10*time.Millisecond, "")
		if err := q.Publish(ctx, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events were not delivered")
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := q.Publish(context.Background(), NewEvent("p", "", true, 0, ""))
	if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("publish after close = %v, want queue failure", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestMemoryQueuePublishCancelled(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	// Fill the buffer so the second publish blocks on the context.
	if err := q.Publish(ctx, NewEvent("p", "", true, 0, "")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, NewEvent("p", "", true, 0, "")); err == nil {
		t.Fatal("publish on a cancelled context should fail")
	}
}

func TestMemoryQueueCloseDuringPublish(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	// Blocked and racing publishers must come back with an error, never a
	// send-on-closed-channel panic.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := q.Publish(ctx, NewEvent("p", "", true, 0, "")); err != nil {
					return
				}
			}
		}()
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
}

func TestRecorderFoldsOutcomesIntoIndex(t *testing.T) {
	index := discovery.NewIndex(discovery.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := index.Register(ctx, plugin.Descriptor{
		Identity:    "collector",
		Description: "Collect metrics from hosts",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	q := NewMemoryQueue(8)
	defer q.Close()
	recorder, err := NewRecorder(index, q, WithWorkerCount(1))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	go func() { _ = recorder.Start(ctx) }()

	if err := q.Publish(ctx, NewEvent("collector", "chain-1", true, 40*time.Millisecond, "")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := index.Stats("collector")
		if stats.UsageCount == 1 {
			if stats.AvgExecMillis != 40 || stats.SuccessRate != 1 {
				t.Fatalf("stats = %+v", stats)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("outcome never reached the index, stats = %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRecorderValidation(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()
	if _, err := NewRecorder(nil, q); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil index error = %v", err)
	}
	index := discovery.NewIndex(discovery.NewMemoryStore())
	if _, err := NewRecorder(index, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil consumer error = %v", err)
	}
}
