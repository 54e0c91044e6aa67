// Package storage persists video records behind the Repository interface.
// Two implementations exist: a JSON-file store suitable for development and
// tests, and a Postgres store for production deployments.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"streamvault/internal/models"
)

type dataset struct {
	Videos map[string]models.Video `json:"videos"`
}

func newDataset() dataset {
	return dataset{Videos: make(map[string]models.Video)}
}

// Storage is the JSON-file backed repository. All mutations are persisted
// synchronously before they become visible to readers.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// New loads or creates the JSON datastore at filePath.
func New(filePath string, opts ...Option) (*Storage, error) {
	s := &Storage{
		filePath: filePath,
		data:     newDataset(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read datastore: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode datastore: %w", err)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]models.Video)
	}
	s.data = data
	return nil
}

func (s *Storage) persistLocked() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".datastore-*")
	if err != nil {
		return fmt.Errorf("create datastore temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close datastore: %w", err)
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

// Ping reports whether the backing file location is writable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := filepath.Dir(s.filePath)
	if _, err := os.Stat(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("datastore directory: %w", err)
	}
	return nil
}

// CreateVideo registers a new upload with status pending.
func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	if !params.Category.Valid() {
		return models.Video{}, fmt.Errorf("%w: %q", ErrInvalidCategory, params.Category)
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	now := s.now()
	video := models.Video{
		ID:           id,
		Title:        params.Title,
		Description:  params.Description,
		Category:     params.Category,
		Status:       models.StatusPending,
		OriginalFile: params.OriginalFile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return video, nil
}

// GetVideo returns the video with the given id.
func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

// ListVideos returns videos with the given status ordered by creation time
// descending. An empty status matches everything.
func (s *Storage) ListVideos(status models.VideoStatus) []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		if status != "" && video.Status != status {
			continue
		}
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID > videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos
}

// UpdateVideo applies an administrative metadata update.
func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	previous := video
	if update.Title != nil {
		video.Title = *update.Title
	}
	if update.Description != nil {
		video.Description = *update.Description
	}
	video.UpdatedAt = s.now()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return video, nil
}

// TransitionVideo advances the status state machine, rejecting illegal moves.
func (s *Storage) TransitionVideo(id string, next models.VideoStatus) (models.Video, error) {
	if !next.Valid() {
		return models.Video{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	if !video.Status.CanTransitionTo(next) {
		return models.Video{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, video.Status, next)
	}
	previous := video
	video.Status = next
	video.UpdatedAt = s.now()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return video, nil
}

// RequeueVideo resets a processing video back to pending for recovery.
func (s *Storage) RequeueVideo(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	switch video.Status {
	case models.StatusPending:
		return video, nil
	case models.StatusProcessing:
	default:
		return models.Video{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, video.Status, models.StatusPending)
	}
	previous := video
	video.Status = models.StatusPending
	video.UpdatedAt = s.now()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return video, nil
}

// SetVideoArtifacts records the moved original path and the thumbnail.
func (s *Storage) SetVideoArtifacts(id, originalFile, thumbnail string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	previous := video
	video.OriginalFile = originalFile
	video.Thumbnail = thumbnail
	video.UpdatedAt = s.now()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return video, nil
}

// Close flushes any pending state. The JSON store persists synchronously, so
// there is nothing left to do.
func (s *Storage) Close(ctx context.Context) error {
	return ctx.Err()
}

var _ Repository = (*Storage)(nil)
