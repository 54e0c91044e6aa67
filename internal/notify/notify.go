// Package notify delivers fire-and-forget processing notifications. Actual
// delivery (email, push) is an external collaborator; the log notifier is the
// built-in implementation.
package notify

import (
	"context"
	"log/slog"

	"streamvault/internal/models"
)

// Notifier receives pipeline outcome events. Implementations must not block
// the pipeline on delivery problems; failures are swallowed after logging.
type Notifier interface {
	VideoReady(ctx context.Context, video models.Video)
	VideoFailed(ctx context.Context, video models.Video, step string, cause error)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier builds a Notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) VideoReady(ctx context.Context, video models.Video) {
	n.logger.InfoContext(ctx, "video ready for streaming",
		"video_id", video.ID, "title", video.Title)
}

func (n *LogNotifier) VideoFailed(ctx context.Context, video models.Video, step string, cause error) {
	n.logger.ErrorContext(ctx, "video processing failed",
		"video_id", video.ID, "title", video.Title, "step", step, "error", cause)
}

var _ Notifier = (*LogNotifier)(nil)
