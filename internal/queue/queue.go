// Package queue decouples video-record creation from transcoding execution.
//
// The queue carries only video identifiers; the job re-fetches fresh record
// state at execution time. Delivery is at-least-once: handlers must tolerate
// seeing the same identifier twice.
package queue

import (
	"context"
	"time"
)

// Job is one unit of transcoding work.
type Job struct {
	VideoID    string
	Attempt    int
	EnqueuedAt time.Time
}

// Handler processes one job. Returning nil acknowledges the job. Returning an
// error surfaces the failure to the queue's retry accounting: the job is
// redelivered until the attempt budget is exhausted, then dead-lettered.
type Handler func(ctx context.Context, job Job) error

// Queue is the durable work queue contract shared by the Redis and in-memory
// implementations.
type Queue interface {
	// Enqueue submits exactly one job for the given video id.
	Enqueue(ctx context.Context, videoID string) error
	// Consume blocks delivering jobs to handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
	// Depth reports the number of jobs currently queued.
	Depth(ctx context.Context) (int64, error)
	Close() error
}

// DefaultMaxAttempts bounds redelivery before a job is dead-lettered.
const DefaultMaxAttempts = 3
