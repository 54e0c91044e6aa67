package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"streamvault/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store, err := New(filepath.Join(t.TempDir(), "data.json"), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func createTestVideo(t *testing.T, store *Storage, title string) models.Video {
	t.Helper()
	video, err := store.CreateVideo(CreateVideoParams{
		Title:        title,
		Description:  "a description",
		Category:     models.CategoryDrama,
		OriginalFile: "videos/originals/" + title + ".mp4",
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	return video
}

func TestCreateVideoDefaults(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "first")

	if video.ID == "" {
		t.Fatal("expected generated id")
	}
	if video.Status != models.StatusPending {
		t.Fatalf("expected pending status, got %s", video.Status)
	}
	if video.Thumbnail != "" {
		t.Fatalf("expected empty thumbnail, got %q", video.Thumbnail)
	}
	if video.CreatedAt.IsZero() || !video.CreatedAt.Equal(video.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", video.CreatedAt, video.UpdatedAt)
	}
}

func TestCreateVideoRejectsUnknownCategory(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.CreateVideo(CreateVideoParams{Title: "bad", Category: "western"})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestListVideosFiltersAndOrders(t *testing.T) {
	store := newTestStorage(t)
	first := createTestVideo(t, store, "first")
	second := createTestVideo(t, store, "second")
	third := createTestVideo(t, store, "third")

	for _, id := range []string{first.ID, third.ID} {
		if _, err := store.TransitionVideo(id, models.StatusProcessing); err != nil {
			t.Fatalf("TransitionVideo(processing): %v", err)
		}
		if _, err := store.TransitionVideo(id, models.StatusReady); err != nil {
			t.Fatalf("TransitionVideo(ready): %v", err)
		}
	}

	ready := store.ListVideos(models.StatusReady)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready videos, got %d", len(ready))
	}
	if ready[0].ID != third.ID || ready[1].ID != first.ID {
		t.Fatalf("expected newest-first order, got %s then %s", ready[0].Title, ready[1].Title)
	}
	for _, video := range ready {
		if video.ID == second.ID {
			t.Fatal("pending video leaked into ready listing")
		}
	}

	all := store.ListVideos("")
	if len(all) != 3 {
		t.Fatalf("expected 3 videos in unfiltered listing, got %d", len(all))
	}
}

func TestTransitionVideoEnforcesStateMachine(t *testing.T) {
	store := newTestStorage(t)

	tests := []struct {
		name string
		path []models.VideoStatus
		next models.VideoStatus
		ok   bool
	}{
		{name: "pending to processing", path: nil, next: models.StatusProcessing, ok: true},
		{name: "pending to ready skips processing", path: nil, next: models.StatusReady, ok: false},
		{name: "processing to ready", path: []models.VideoStatus{models.StatusProcessing}, next: models.StatusReady, ok: true},
		{name: "processing to error", path: []models.VideoStatus{models.StatusProcessing}, next: models.StatusError, ok: true},
		{name: "ready is terminal", path: []models.VideoStatus{models.StatusProcessing, models.StatusReady}, next: models.StatusProcessing, ok: false},
		{name: "error is terminal", path: []models.VideoStatus{models.StatusProcessing, models.StatusError}, next: models.StatusProcessing, ok: false},
		{name: "unknown status", path: nil, next: "archived", ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			video := createTestVideo(t, store, tc.name)
			for _, status := range tc.path {
				if _, err := store.TransitionVideo(video.ID, status); err != nil {
					t.Fatalf("setup transition to %s: %v", status, err)
				}
			}
			_, err := store.TransitionVideo(video.ID, tc.next)
			if tc.ok && err != nil {
				t.Fatalf("expected transition to %s, got %v", tc.next, err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionVideoClaimsOnlyOnce(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "claimed")

	if _, err := store.TransitionVideo(video.ID, models.StatusProcessing); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := store.TransitionVideo(video.ID, models.StatusProcessing)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second claim should fail with ErrInvalidTransition, got %v", err)
	}
}

func TestRequeueVideo(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "stuck")

	requeued, err := store.RequeueVideo(video.ID)
	if err != nil || requeued.Status != models.StatusPending {
		t.Fatalf("requeue of pending video: status=%s err=%v", requeued.Status, err)
	}

	if _, err := store.TransitionVideo(video.ID, models.StatusProcessing); err != nil {
		t.Fatalf("TransitionVideo: %v", err)
	}
	requeued, err = store.RequeueVideo(video.ID)
	if err != nil {
		t.Fatalf("RequeueVideo: %v", err)
	}
	if requeued.Status != models.StatusPending {
		t.Fatalf("expected pending after requeue, got %s", requeued.Status)
	}

	if _, err := store.TransitionVideo(video.ID, models.StatusProcessing); err != nil {
		t.Fatalf("TransitionVideo: %v", err)
	}
	if _, err := store.TransitionVideo(video.ID, models.StatusReady); err != nil {
		t.Fatalf("TransitionVideo: %v", err)
	}
	if _, err := store.RequeueVideo(video.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("requeue of ready video should fail, got %v", err)
	}
}

func TestUpdateVideoMetadata(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "before")

	title := "after"
	updated, err := store.UpdateVideo(video.ID, VideoUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	if updated.Title != "after" {
		t.Fatalf("expected updated title, got %q", updated.Title)
	}
	if updated.Description != video.Description {
		t.Fatalf("description should be untouched, got %q", updated.Description)
	}
	if !updated.UpdatedAt.After(video.UpdatedAt) {
		t.Fatal("expected UpdatedAt to advance")
	}

	if _, err := store.UpdateVideo("missing", VideoUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetVideoArtifacts(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "artifacts")

	updated, err := store.SetVideoArtifacts(video.ID, "videos/video_1/original/a.mp4", "videos/video_1/thumbnails/thumbnail.jpg")
	if err != nil {
		t.Fatalf("SetVideoArtifacts: %v", err)
	}
	if updated.OriginalFile != "videos/video_1/original/a.mp4" {
		t.Fatalf("unexpected original file %q", updated.OriginalFile)
	}
	if updated.Thumbnail != "videos/video_1/thumbnails/thumbnail.jpg" {
		t.Fatalf("unexpected thumbnail %q", updated.Thumbnail)
	}
}

func TestStorageReloadsPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	video := createTestVideo(t, store, "durable")
	if _, err := store.TransitionVideo(video.ID, models.StatusProcessing); err != nil {
		t.Fatalf("TransitionVideo: %v", err)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.GetVideo(video.ID)
	if !ok {
		t.Fatal("video missing after reload")
	}
	if got.Status != models.StatusProcessing {
		t.Fatalf("expected processing after reload, got %s", got.Status)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "rollback")

	store.persistOverride = func(dataset) error { return errors.New("disk full") }
	if _, err := store.TransitionVideo(video.ID, models.StatusProcessing); err == nil {
		t.Fatal("expected persist error")
	}
	store.persistOverride = nil

	got, _ := store.GetVideo(video.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("expected rollback to pending, got %s", got.Status)
	}
}
