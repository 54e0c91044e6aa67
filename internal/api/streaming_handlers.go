package api

import (
	"errors"
	"net/http"
	"strings"

	"streamvault/internal/media"
	"streamvault/internal/models"
)

const (
	playlistContentType  = "application/vnd.apple.mpegurl"
	segmentContentType   = "video/MP2T"
	thumbnailContentType = "image/jpeg"
)

var errNotFound = errors.New("not found")

// streamArtifact serves HLS playlists and segments. The record's status is
// checked before any filesystem access: videos outside ready respond 404
// regardless of what artefacts happen to exist on disk.
func (h *Handler) streamArtifact(w http.ResponseWriter, r *http.Request, id, resolution, artifact string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	video, ok := h.Store.GetVideo(id)
	if !ok || video.Status != models.StatusReady {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	rendition, ok := media.ResolveRendition(resolution)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	var path, contentType string
	if artifact == media.PlaylistFile {
		path = h.Layout.PlaylistPath(id, rendition)
		contentType = playlistContentType
	} else {
		segment, err := h.Layout.SegmentPath(id, rendition, artifact)
		if err != nil {
			writeError(w, http.StatusNotFound, errNotFound)
			return
		}
		path = segment
		contentType = segmentContentType
	}

	if !media.ArtifactExists(path) {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

// Media serves generated thumbnails referenced by catalogue listings. Only
// the thumbnail of a ready video is exposed; everything else under the media
// root stays private.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/media/")
	parts := strings.Split(rel, "/")
	if len(parts) != 4 || parts[0] != "videos" || parts[2] != "thumbnails" || parts[3] != media.ThumbnailFile {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	id := strings.TrimPrefix(parts[1], "video_")
	if id == "" || id == parts[1] {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	video, ok := h.Store.GetVideo(id)
	if !ok || video.Status != models.StatusReady {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	path := h.Layout.ThumbnailPath(id)
	if !media.ArtifactExists(path) {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	w.Header().Set("Content-Type", thumbnailContentType)
	http.ServeFile(w, r, path)
}
