package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"streamvault/internal/models"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

// DefaultWorkerCount is the number of concurrent queue consumers.
const DefaultWorkerCount = 2

// WorkerConfig wires the consumer pool.
type WorkerConfig struct {
	Queue     queue.Queue
	Processor *Processor
	Store     storage.Repository
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	// Workers is the consumer goroutine count, DefaultWorkerCount when zero.
	Workers int
}

// Worker consumes transcode jobs with a fixed goroutine pool. A per-video
// in-flight set keeps redeliveries of the same id from encoding concurrently
// with the job already running.
type Worker struct {
	queue     queue.Queue
	processor *Processor
	store     storage.Repository
	metrics   *metrics.Recorder
	logger    *slog.Logger
	workers   int

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker builds a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("pipeline: queue is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("pipeline: processor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	return &Worker{
		queue:     cfg.Queue,
		processor: cfg.Processor,
		store:     cfg.Store,
		metrics:   recorder,
		logger:    logger,
		workers:   workers,
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Start launches the consumer pool. It returns immediately; consumers run
// until Shutdown or the parent context ends.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			if err := w.queue.Consume(runCtx, w.handle); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("queue consumer stopped", "consumer", id, "error", err)
			}
		}(i)
	}
	w.logger.Info("transcode workers started", "workers", w.workers)
}

// Shutdown stops the consumers and waits for in-flight jobs, bounded by ctx.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	if !w.beginWork(job.VideoID) {
		// The id is already encoding on another consumer; the running job
		// owns the outcome, so the duplicate delivery is acknowledged.
		w.logger.Info("duplicate delivery for in-flight video", "video_id", job.VideoID)
		return nil
	}
	defer w.finishWork(job.VideoID)
	defer w.refreshDepth(ctx)

	if job.Attempt > 1 {
		w.logger.Warn("retrying transcode job", "video_id", job.VideoID, "attempt", job.Attempt)
	}
	return w.processor.Process(ctx, job.VideoID)
}

func (w *Worker) beginWork(videoID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[videoID]; busy {
		return false
	}
	w.inFlight[videoID] = struct{}{}
	return true
}

func (w *Worker) finishWork(videoID string) {
	w.mu.Lock()
	delete(w.inFlight, videoID)
	w.mu.Unlock()
}

func (w *Worker) refreshDepth(ctx context.Context) {
	depth, err := w.queue.Depth(ctx)
	if err != nil {
		return
	}
	w.metrics.SetQueueDepth(depth)
}

// RecoverPending re-enqueues work lost to a previous crash: videos stuck in
// processing are reset to pending first, then every pending video is
// submitted again. Runs before Start so recovered jobs are consumed normally.
func (w *Worker) RecoverPending(ctx context.Context) error {
	var recovered int

	for _, video := range w.store.ListVideos(models.StatusProcessing) {
		if _, err := w.store.RequeueVideo(video.ID); err != nil {
			w.logger.Error("could not reset stuck video", "video_id", video.ID, "error", err)
			continue
		}
		w.logger.Warn("reset video stuck in processing", "video_id", video.ID)
	}

	for _, video := range w.store.ListVideos(models.StatusPending) {
		if err := w.queue.Enqueue(ctx, video.ID); err != nil {
			return fmt.Errorf("requeue video %s: %w", video.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		w.logger.Info("requeued pending videos", "count", recovered)
	}
	w.refreshDepth(ctx)
	return nil
}
