// Package api implements the HTTP surface: the public catalogue and
// streaming endpoints, and the token-gated administrative endpoints for
// uploads and metadata edits.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"streamvault/internal/auth"
	"streamvault/internal/media"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

// DefaultMaxUploadBytes bounds multipart upload size (4 GiB).
const DefaultMaxUploadBytes = int64(4) << 30

// Handler owns the route handlers and their collaborators.
type Handler struct {
	Store  storage.Repository
	Layout *media.Layout
	Queue  queue.Queue
	Guard  *auth.Guard
	Logger *slog.Logger
	// MaxUploadBytes caps the multipart request body,
	// DefaultMaxUploadBytes when zero.
	MaxUploadBytes int64
}

// NewHandler builds a Handler with a default logger when none is given.
func NewHandler(store storage.Repository, layout *media.Layout, q queue.Queue, guard *auth.Guard) *Handler {
	return &Handler{
		Store:  store,
		Layout: layout,
		Queue:  q,
		Guard:  guard,
		Logger: slog.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

type healthResponse struct {
	Status     string `json:"status"`
	Datastore  string `json:"datastore"`
	Queue      string `json:"queue"`
	QueueDepth int64  `json:"queue_depth"`
}

// Health reports datastore and queue reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Datastore: "ok", Queue: "ok"}
	status := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Datastore = err.Error()
		status = http.StatusServiceUnavailable
	}
	depth, err := h.Queue.Depth(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Queue = err.Error()
		status = http.StatusServiceUnavailable
	}
	resp.QueueDepth = depth
	writeJSON(w, status, resp)
}
