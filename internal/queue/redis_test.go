package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisQueue(t *testing.T, maxAttempts int) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(RedisQueueConfig{
		Addr:         mr.Addr(),
		Stream:       "test:transcode",
		Group:        "test-workers",
		Consumer:     "worker-1",
		BlockTimeout: 50 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisQueueEnqueueDepth(t *testing.T) {
	q := newTestRedisQueue(t, 3)
	ctx := context.Background()

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
	if err := q.Enqueue(ctx, ""); err == nil {
		t.Fatal("expected error for empty video id")
	}
}

func TestRedisQueueDeliversAndAcks(t *testing.T) {
	q := newTestRedisQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, "video-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	delivered := make(chan Job, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job Job) error {
			delivered <- job
			return nil
		})
	}()

	var job Job
	select {
	case job = <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("job not delivered")
	}
	if job.VideoID != "video-1" || job.Attempt != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.EnqueuedAt.IsZero() {
		t.Fatal("expected enqueue timestamp")
	}

	waitFor(t, 2*time.Second, func() bool {
		depth, err := q.Depth(context.Background())
		return err == nil && depth == 0
	}, "acknowledged job still in stream")
}

func TestRedisQueueRetriesThenDeadLetters(t *testing.T) {
	q := newTestRedisQueue(t, 2)
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

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("attempt = %d, want %d", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("attempt %d never delivered", want)
		}
	}

	waitFor(t, 3*time.Second, func() bool {
		dead, err := q.DeadLetterDepth(context.Background())
		return err == nil && dead == 1
	}, "job never dead-lettered")

	waitFor(t, 2*time.Second, func() bool {
		depth, err := q.Depth(context.Background())
		return err == nil && depth == 0
	}, "failed job left in work stream")
}

func TestRedisQueueConsumeStopsOnCancel(t *testing.T) {
	q := newTestRedisQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Consume(ctx, func(context.Context, Job) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
