package storage

import (
	"context"
	"errors"

	"streamvault/internal/models"
)

var (
	// ErrNotFound indicates the referenced video does not exist.
	ErrNotFound = errors.New("video not found")
	// ErrInvalidTransition indicates a status change that the state machine
	// does not permit, including a compare-and-swap claim that lost the race.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidCategory indicates a category outside the closed enumeration.
	ErrInvalidCategory = errors.New("invalid category")
)

// CreateVideoParams captures the attributes set when registering an upload.
type CreateVideoParams struct {
	Title        string
	Description  string
	Category     models.Category
	OriginalFile string
}

// VideoUpdate describes the metadata fields mutable through the
// administrative surface. Nil fields are left untouched.
type VideoUpdate struct {
	Title       *string
	Description *string
}

// Repository exposes the datastore operations required by the API handlers
// and the transcoding pipeline.
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	// ListVideos returns videos with the given status ordered by creation
	// time, most recent first. An empty status returns every video.
	ListVideos(status models.VideoStatus) []models.Video
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)

	// TransitionVideo advances the state machine. It fails with
	// ErrInvalidTransition when the current status does not permit the move,
	// which doubles as the claim guard against double-delivered jobs.
	TransitionVideo(id string, next models.VideoStatus) (models.Video, error)
	// RequeueVideo resets a video stuck in processing back to pending so a
	// recovery pass can re-enqueue it. Videos already pending are returned
	// unchanged; any other status is rejected.
	RequeueVideo(id string) (models.Video, error)
	// SetVideoArtifacts records the permanent original path and the
	// generated thumbnail once the pipeline has produced them.
	SetVideoArtifacts(id, originalFile, thumbnail string) (models.Video, error)

	Close(ctx context.Context) error
}
