// Package media owns the on-disk artefact layout for videos and the ffmpeg
// invocations that populate it.
//
// Every video lives under <root>/videos/video_<id>/ with the fixed shape
//
//	original/<original filename>
//	processed/480p/index.m3u8, segments
//	processed/720p/index.m3u8, segments
//	processed/1080p/index.m3u8, segments
//	thumbnails/thumbnail.jpg
//
// Fresh uploads land in the intake directory <root>/videos/originals/ and
// are moved into original/ as the final pipeline step.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Rendition describes one HLS output variant.
type Rendition struct {
	// Name is the resolution token used in URLs and directory names,
	// without the trailing "p".
	Name   string
	Width  int
	Height int
}

// Size returns the WxH argument passed to the encoder.
func (r Rendition) Size() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Dir returns the rendition directory name, e.g. "720p".
func (r Rendition) Dir() string {
	return r.Name + "p"
}

// Renditions lists the fixed encoding ladder, lowest resolution first.
func Renditions() []Rendition {
	return []Rendition{
		{Name: "480", Width: 854, Height: 480},
		{Name: "720", Width: 1280, Height: 720},
		{Name: "1080", Width: 1920, Height: 1080},
	}
}

// ResolveRendition maps a URL resolution token to its rendition.
func ResolveRendition(token string) (Rendition, bool) {
	for _, rendition := range Renditions() {
		if rendition.Name == token {
			return rendition, true
		}
	}
	return Rendition{}, false
}

const (
	videosDir     = "videos"
	intakeDir     = "originals"
	originalDir   = "original"
	processedDir  = "processed"
	thumbnailsDir = "thumbnails"

	// ThumbnailFile is the fixed thumbnail filename inside thumbnails/.
	ThumbnailFile = "thumbnail.jpg"
	// PlaylistFile is the fixed HLS manifest filename inside each rendition
	// directory.
	PlaylistFile = "index.m3u8"
)

// Layout resolves and manages per-video directory trees under a media root.
type Layout struct {
	root string
}

// NewLayout returns a Layout rooted at the given media directory.
func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

// Root returns the media root directory.
func (l *Layout) Root() string {
	return l.root
}

// IntakeDir is where uploads rest until the pipeline publishes them.
func (l *Layout) IntakeDir() string {
	return filepath.Join(l.root, videosDir, intakeDir)
}

// VideoRoot returns the per-video directory, e.g. <root>/videos/video_<id>.
func (l *Layout) VideoRoot(id string) string {
	return filepath.Join(l.root, videosDir, "video_"+id)
}

// OriginalDir returns the permanent home of the source file.
func (l *Layout) OriginalDir(id string) string {
	return filepath.Join(l.VideoRoot(id), originalDir)
}

// RenditionDir returns the output directory for one rendition.
func (l *Layout) RenditionDir(id string, r Rendition) string {
	return filepath.Join(l.VideoRoot(id), processedDir, r.Dir())
}

// PlaylistPath returns the HLS manifest path for one rendition.
func (l *Layout) PlaylistPath(id string, r Rendition) string {
	return filepath.Join(l.RenditionDir(id, r), PlaylistFile)
}

// SegmentPath returns the path of one segment file inside a rendition
// directory. The segment name must be a bare filename; anything that would
// escape the rendition directory is rejected.
func (l *Layout) SegmentPath(id string, r Rendition, segment string) (string, error) {
	if segment == "" || segment != filepath.Base(segment) || strings.HasPrefix(segment, ".") {
		return "", fmt.Errorf("invalid segment name %q", segment)
	}
	return filepath.Join(l.RenditionDir(id, r), segment), nil
}

// ThumbnailPath returns the generated thumbnail path.
func (l *Layout) ThumbnailPath(id string) string {
	return filepath.Join(l.VideoRoot(id), thumbnailsDir, ThumbnailFile)
}

// RelPath converts an absolute artefact path into the root-relative form
// stored on the video record, using forward slashes.
func (l *Layout) RelPath(path string) (string, error) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %q: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes media root", path)
	}
	return filepath.ToSlash(rel), nil
}

// AbsPath resolves a root-relative record path back to an absolute path.
func (l *Layout) AbsPath(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// EnsureTree creates the full directory skeleton for a video. Creation is
// recursive and idempotent.
func (l *Layout) EnsureTree(id string) error {
	dirs := []string{l.OriginalDir(id)}
	for _, rendition := range Renditions() {
		dirs = append(dirs, l.RenditionDir(id, rendition))
	}
	dirs = append(dirs, filepath.Join(l.VideoRoot(id), thumbnailsDir))
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureIntake creates the intake directory.
func (l *Layout) EnsureIntake() error {
	if err := os.MkdirAll(l.IntakeDir(), 0o755); err != nil {
		return fmt.Errorf("create intake directory: %w", err)
	}
	return nil
}

// RemoveTree deletes the whole per-video directory tree. Removing an absent
// tree is not an error.
func (l *Layout) RemoveTree(id string) error {
	if err := os.RemoveAll(l.VideoRoot(id)); err != nil {
		return fmt.Errorf("remove %s: %w", l.VideoRoot(id), err)
	}
	return nil
}

// MoveFile relocates src to dst with copy-verify-delete semantics so the move
// survives crossing filesystem boundaries and never drops the source before
// the copy is confirmed on disk.
func (l *Layout) MoveFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("move source %q is a directory", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	written, err := copyFile(src, dst)
	if err != nil {
		os.Remove(dst)
		return err
	}
	if written != info.Size() {
		os.Remove(dst)
		return fmt.Errorf("move verification failed: wrote %d of %d bytes", written, info.Size())
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open target: %w", err)
	}
	written, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return written, fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return written, fmt.Errorf("sync target: %w", err)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close target: %w", err)
	}
	return written, nil
}

// ArtifactExists reports whether the file at the absolute path exists.
func ArtifactExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SanitizeFilename reduces an uploaded filename to a safe base name.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(filepath.Clean(strings.TrimSpace(name)))
	if base == "" || base == "." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return "", errors.New("invalid filename")
	}
	return base, nil
}
