package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streamvault/internal/media"
	"streamvault/internal/models"
	"streamvault/internal/storage"
)

// videoResponse is the public catalogue representation.
type videoResponse struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Category     string `json:"category"`
}

// adminVideoResponse extends the public shape with pipeline state for the
// administrative endpoints.
type adminVideoResponse struct {
	videoResponse
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

func newVideoResponse(video models.Video) videoResponse {
	resp := videoResponse{
		ID:          video.ID,
		CreatedAt:   video.CreatedAt.Format(time.RFC3339Nano),
		Title:       video.Title,
		Description: video.Description,
		Category:    string(video.Category),
	}
	if video.Thumbnail != "" {
		resp.ThumbnailURL = "/media/" + video.Thumbnail
	}
	return resp
}

func newAdminVideoResponse(video models.Video) adminVideoResponse {
	return adminVideoResponse{
		videoResponse: newVideoResponse(video),
		Status:        string(video.Status),
		UpdatedAt:     video.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// Videos dispatches every /video/ route: the collection, the per-video
// administrative endpoint, and the streaming artefact routes.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/video/")
	if rest == "" {
		h.videoCollection(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		h.videoByID(w, r, parts[0])
	case 3:
		h.streamArtifact(w, r, parts[0], parts[1], parts[2])
	default:
		writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

func (h *Handler) videoCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		videos := h.Store.ListVideos(models.StatusReady)
		responses := make([]videoResponse, 0, len(videos))
		for _, video := range videos {
			responses = append(responses, newVideoResponse(video))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		h.createVideo(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	if err := h.Guard.Authorize(r); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	category := models.Category(strings.TrimSpace(r.FormValue("category")))
	if !category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", storage.ErrInvalidCategory, category))
		return
	}
	description := strings.TrimSpace(r.FormValue("description"))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	filename, err := media.SanitizeFilename(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.Layout.EnsureIntake(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	target := filepath.Join(h.Layout.IntakeDir(), uploadPrefix()+"_"+filename)
	if err := saveUpload(file, target); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	rel, err := h.Layout.RelPath(target)
	if err != nil {
		os.Remove(target)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		Title:        title,
		Description:  description,
		Category:     category,
		OriginalFile: rel,
	})
	if err != nil {
		os.Remove(target)
		if errors.Is(err, storage.ErrInvalidCategory) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := h.Queue.Enqueue(r.Context(), video.ID); err != nil {
		// The record stays pending; startup recovery re-submits it, but the
		// client should know scheduling did not happen now.
		h.logger().Error("enqueue transcode job failed", "video_id", video.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("schedule transcode: %w", err))
		return
	}

	h.logger().Info("video upload accepted", "video_id", video.ID, "title", video.Title)
	writeJSON(w, http.StatusCreated, newAdminVideoResponse(video))
}

func uploadPrefix() string {
	var buffer [8]byte
	if _, err := rand.Read(buffer[:]); err == nil {
		return hex.EncodeToString(buffer[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func saveUpload(src io.Reader, target string) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (h *Handler) videoByID(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		w.Header().Set("Allow", http.MethodPatch)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if err := h.Guard.Authorize(r); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req updateVideoRequest
	// Unknown fields are rejected so status, category, and file paths can
	// never be mutated through this surface.
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == nil && req.Description == nil {
		writeError(w, http.StatusBadRequest, errors.New("no fields to update"))
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, errors.New("title must not be empty"))
		return
	}

	video, err := h.Store.UpdateVideo(id, storage.VideoUpdate{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdminVideoResponse(video))
}
