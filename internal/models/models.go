// Package models defines the persisted entities shared across the API,
// storage, and pipeline layers.
package models

import "time"

// VideoStatus tracks a video through the transcoding pipeline. The only legal
// transitions are pending -> processing and processing -> ready or error;
// ready and error are terminal for the automated pipeline.
type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusProcessing VideoStatus = "processing"
	StatusReady      VideoStatus = "ready"
	StatusError      VideoStatus = "error"
)

var statusTransitions = map[VideoStatus][]VideoStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {},
	StatusError:      {},
}

// Valid reports whether the status is a member of the closed enumeration.
func (s VideoStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is a legal pipeline
// transition.
func (s VideoStatus) CanTransitionTo(next VideoStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Category classifies a video for the catalogue. The set is closed.
type Category string

const (
	CategoryDrama       Category = "drama"
	CategoryRomance     Category = "romance"
	CategoryComedy      Category = "comedy"
	CategoryAction      Category = "action"
	CategoryThriller    Category = "thriller"
	CategoryCrime       Category = "crime"
	CategoryDocumentary Category = "documentary"
	CategoryFamily      Category = "family"
	CategoryFantasy     Category = "fantasy"
)

// Categories lists every valid category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryDrama,
		CategoryRomance,
		CategoryComedy,
		CategoryAction,
		CategoryThriller,
		CategoryCrime,
		CategoryDocumentary,
		CategoryFamily,
		CategoryFantasy,
	}
}

// Valid reports whether the category is a member of the closed enumeration.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Video is the central entity of the platform. OriginalFile and Thumbnail are
// paths relative to the media root; Thumbnail stays empty until processing
// succeeds.
type Video struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Category     Category    `json:"category"`
	Status       VideoStatus `json:"status"`
	OriginalFile string      `json:"originalFile"`
	Thumbnail    string      `json:"thumbnail,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}
