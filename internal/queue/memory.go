package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MemoryQueueConfig configures the in-process queue used for development and
// tests.
type MemoryQueueConfig struct {
	Buffer      int
	MaxAttempts int
	Logger      *slog.Logger
}

// MemoryQueue is a channel-backed Queue. It is not durable; a process crash
// loses queued jobs, which the pipeline's startup recovery compensates for by
// re-enqueueing videos still marked pending or processing.
type MemoryQueue struct {
	jobs        chan Job
	maxAttempts int
	logger      *slog.Logger

	mu         sync.Mutex
	deadLetter []Job
	closed     bool

	now func() time.Time
}

// NewMemoryQueue builds an in-process queue.
func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		jobs:        make(chan Job, buffer),
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue submits a job, blocking while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return errors.New("video id is required")
	}
	job := Job{VideoID: videoID, Attempt: 1, EnqueuedAt: q.now()}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers jobs to handler until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-q.jobs:
			if err := handler(ctx, job); err != nil {
				q.retry(ctx, job, err)
			}
		}
	}
}

func (q *MemoryQueue) retry(ctx context.Context, job Job, cause error) {
	if job.Attempt >= q.maxAttempts {
		q.mu.Lock()
		q.deadLetter = append(q.deadLetter, job)
		q.mu.Unlock()
		q.logger.Error("job dead-lettered",
			"video_id", job.VideoID, "attempts", job.Attempt, "error", cause)
		return
	}
	job.Attempt++
	select {
	case q.jobs <- job:
		q.logger.Warn("job requeued",
			"video_id", job.VideoID, "attempt", job.Attempt, "error", cause)
	case <-ctx.Done():
	}
}

// Depth reports the number of buffered jobs.
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(q.jobs)), nil
}

// DeadLetters returns jobs that exhausted their attempt budget.
func (q *MemoryQueue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.deadLetter...)
}

// Close marks the queue closed. Outstanding jobs stay readable so draining
// consumers can finish.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue already closed")
	}
	q.closed = true
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
