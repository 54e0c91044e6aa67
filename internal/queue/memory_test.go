package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryQueueDeliversJobs(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, "video-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "video-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("Depth = %d, %v; want 2", depth, err)
	}

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job Job) error {
			mu.Lock()
			seen = append(seen, job.VideoID)
			if len(seen) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not delivered in time")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "video-1" || seen[1] != "video-2" {
		t.Fatalf("unexpected delivery order %v", seen)
	}
}

func TestMemoryQueueRejectsEmptyID(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Logger: testLogger()})
	if err := q.Enqueue(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty video id")
	}
}

func TestMemoryQueueRetriesThenDeadLetters(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{MaxAttempts: 3, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, "video-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	attempts := make(chan int, 8)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job Job) error {
			attempts <- job.Attempt
			return errors.New("record vanished")
		})
	}()

	for want := 1; want <= 3; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("attempt = %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d never delivered", want)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(q.DeadLetters()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never dead-lettered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].VideoID != "video-1" || dead[0].Attempt != 3 {
		t.Fatalf("unexpected dead letters %+v", dead)
	}

	select {
	case extra := <-attempts:
		t.Fatalf("unexpected extra delivery with attempt %d", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryQueueConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Consume(ctx, func(context.Context, Job) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
