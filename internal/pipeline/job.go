// Package pipeline executes transcoding jobs: it claims the video record,
// drives ffmpeg through the encoding ladder, publishes the artefacts, and
// settles the record in ready or error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"streamvault/internal/media"
	"streamvault/internal/models"
	"streamvault/internal/notify"
	"streamvault/internal/observability/logging"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/storage"
)

// ProcessorConfig wires the collaborators of a Processor.
type ProcessorConfig struct {
	Store      storage.Repository
	Layout     *media.Layout
	Transcoder media.Transcoder
	Notifier   notify.Notifier
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Processor runs one transcoding job at a time per call to Process.
type Processor struct {
	store      storage.Repository
	layout     *media.Layout
	transcoder media.Transcoder
	notifier   notify.Notifier
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewProcessor builds a Processor, defaulting the notifier, metrics recorder,
// and logger when not provided.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.Layout == nil {
		return nil, errors.New("pipeline: layout is required")
	}
	if cfg.Transcoder == nil {
		return nil, errors.New("pipeline: transcoder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Processor{
		store:      cfg.Store,
		layout:     cfg.Layout,
		transcoder: cfg.Transcoder,
		notifier:   notifier,
		metrics:    recorder,
		logger:     logger,
	}, nil
}

// Process executes the full pipeline for one video id.
//
// The record is claimed with a pending->processing transition; a claim that
// loses (already processing, or already settled) makes the job a no-op so
// double deliveries are harmless. Step failures settle the record in error
// and remove the artefact tree; the returned nil acknowledges the job because
// retrying a deterministic encode failure cannot succeed. Only infrastructure
// problems (missing record, cancelled context) surface an error to the
// queue's retry accounting.
func (p *Processor) Process(ctx context.Context, videoID string) error {
	ctx = logging.ContextWithVideoID(ctx, videoID)
	logger := logging.WithContext(ctx, p.logger)

	video, ok := p.store.GetVideo(videoID)
	if !ok {
		return fmt.Errorf("video %s not found", videoID)
	}

	p.metrics.JobStarted()

	claimed, err := p.store.TransitionVideo(videoID, models.StatusProcessing)
	if err != nil {
		p.metrics.JobFinished("skipped")
		if errors.Is(err, storage.ErrInvalidTransition) {
			logger.Info("skipping job, video already claimed or settled", "status", video.Status)
			return nil
		}
		return fmt.Errorf("claim video %s: %w", videoID, err)
	}
	video = claimed
	logger.Info("transcode started", "title", video.Title)

	source := p.layout.AbsPath(video.OriginalFile)
	if !media.ArtifactExists(source) {
		return p.fail(ctx, video, "source", fmt.Errorf("source file %s missing", video.OriginalFile))
	}

	if err := p.layout.EnsureTree(videoID); err != nil {
		return p.fail(ctx, video, "prepare", err)
	}

	for _, rendition := range media.Renditions() {
		step := "rendition_" + rendition.Dir()
		if err := p.transcoder.Rendition(ctx, source, rendition, p.layout.PlaylistPath(videoID, rendition)); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-encode: leave the record in processing so the
				// startup recovery pass requeues it instead of marking error.
				p.metrics.ObserveStep(step, "cancelled")
				p.metrics.JobFinished("cancelled")
				return fmt.Errorf("%s interrupted: %w", step, ctx.Err())
			}
			p.metrics.ObserveStep(step, "error")
			return p.fail(ctx, video, step, err)
		}
		p.metrics.ObserveStep(step, "ok")
	}

	thumbnail := p.layout.ThumbnailPath(videoID)
	if err := p.transcoder.Thumbnail(ctx, source, thumbnail); err != nil {
		if ctx.Err() != nil {
			p.metrics.ObserveStep("thumbnail", "cancelled")
			p.metrics.JobFinished("cancelled")
			return fmt.Errorf("thumbnail interrupted: %w", ctx.Err())
		}
		p.metrics.ObserveStep("thumbnail", "error")
		return p.fail(ctx, video, "thumbnail", err)
	}
	p.metrics.ObserveStep("thumbnail", "ok")

	// Moving the original out of intake is deliberately the last filesystem
	// step: an interrupted job leaves the upload where a rerun can find it.
	target := filepath.Join(p.layout.OriginalDir(videoID), filepath.Base(source))
	if err := p.layout.MoveFile(source, target); err != nil {
		p.metrics.ObserveStep("publish_original", "error")
		return p.fail(ctx, video, "publish_original", err)
	}
	p.metrics.ObserveStep("publish_original", "ok")

	originalRel, err := p.layout.RelPath(target)
	if err != nil {
		return p.fail(ctx, video, "publish_original", err)
	}
	thumbnailRel, err := p.layout.RelPath(thumbnail)
	if err != nil {
		return p.fail(ctx, video, "thumbnail", err)
	}

	if _, err := p.store.SetVideoArtifacts(videoID, originalRel, thumbnailRel); err != nil {
		return p.fail(ctx, video, "finalize", err)
	}

	video, err = p.store.TransitionVideo(videoID, models.StatusReady)
	if err != nil {
		return p.fail(ctx, video, "finalize", err)
	}

	p.metrics.JobFinished("ready")
	logger.Info("transcode completed", "title", video.Title)
	p.notifier.VideoReady(ctx, video)
	return nil
}

// fail settles the record in error, removes every artefact produced so far,
// and acknowledges the job.
func (p *Processor) fail(ctx context.Context, video models.Video, step string, cause error) error {
	logger := logging.WithContext(ctx, p.logger)
	logger.Error("transcode step failed", "step", step, "error", cause)

	if _, err := p.store.TransitionVideo(video.ID, models.StatusError); err != nil {
		logger.Error("could not mark video failed", "error", err)
	}
	if err := p.layout.RemoveTree(video.ID); err != nil {
		logger.Error("could not remove artefact tree", "error", err)
	}

	p.metrics.JobFinished("error")
	p.notifier.VideoFailed(ctx, video, step, cause)
	return nil
}
