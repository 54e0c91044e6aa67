package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Transcoder produces HLS renditions and thumbnails from a source file. Each
// call is one external process invocation; a non-zero exit is returned as an
// error and must trigger the caller's cleanup policy.
type Transcoder interface {
	Rendition(ctx context.Context, source string, rendition Rendition, playlist string) error
	Thumbnail(ctx context.Context, source, target string) error
}

// FFmpegConfig tunes the external ffmpeg invocation.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable, "ffmpeg" by default.
	Binary string
	// Timeout bounds each invocation; zero applies DefaultFFmpegTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultFFmpegTimeout bounds a single ffmpeg invocation. Transcoding a large
// source at 1080p can legitimately run for many minutes.
const DefaultFFmpegTimeout = 30 * time.Minute

// FFmpeg shells out to the ffmpeg binary with argument-vector invocations, so
// filenames are never subject to shell interpretation.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFmpeg builds an ffmpeg-backed Transcoder.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFFmpegTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{binary: binary, timeout: timeout, logger: logger}
}

// Rendition encodes one HLS variant: a full (non-sliding) playlist with
// 10-second segments numbered from zero.
func (f *FFmpeg) Rendition(ctx context.Context, source string, rendition Rendition, playlist string) error {
	args := renditionArgs(source, rendition, playlist)
	return f.run(ctx, "rendition "+rendition.Dir(), args)
}

// Thumbnail extracts one representative still frame using ffmpeg's
// scene-detection thumbnail filter.
func (f *FFmpeg) Thumbnail(ctx context.Context, source, target string) error {
	args := thumbnailArgs(source, target)
	return f.run(ctx, "thumbnail", args)
}

func renditionArgs(source string, rendition Rendition, playlist string) []string {
	return []string{
		"-y",
		"-i", source,
		"-s", rendition.Size(),
		"-start_number", "0",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-f", "hls",
		playlist,
	}
}

func thumbnailArgs(source, target string) []string {
	return []string{
		"-y",
		"-i", source,
		"-vf", "thumbnail",
		"-frames:v", "1",
		"-q:v", "2",
		target,
	}
}

func (f *FFmpeg) run(ctx context.Context, step string, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, f.binary, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	if err == nil {
		f.logger.Debug("ffmpeg step completed", "step", step, "duration_ms", duration.Milliseconds())
		return nil
	}

	if ctxErr := runCtx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("ffmpeg %s timed out after %s", step, f.timeout)
	}
	return fmt.Errorf("ffmpeg %s failed: %w%s", step, err, stderrTail(stderr.Bytes()))
}

// stderrTail returns the last few lines of ffmpeg output for diagnosable,
// step-scoped error messages without dumping whole encode logs upstream.
func stderrTail(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return ": " + strings.Join(lines, " | ")
}
