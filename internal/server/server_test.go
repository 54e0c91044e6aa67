package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"streamvault/internal/api"
	"streamvault/internal/auth"
	"streamvault/internal/media"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	root := t.TempDir()
	store, err := storage.New(filepath.Join(root, "datastore.json"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	guard, err := auth.NewGuard("server-test-token")
	if err != nil {
		t.Fatalf("auth.NewGuard: %v", err)
	}
	q := queue.NewMemoryQueue(queue.MemoryQueueConfig{Logger: discardLogger()})
	handler := api.NewHandler(store, media.NewLayout(root), q, guard)
	handler.Logger = discardLogger()

	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, Config{})

	tests := []struct {
		path       string
		wantStatus int
	}{
		{path: "/healthz", wantStatus: http.StatusOK},
		{path: "/metrics", wantStatus: http.StatusOK},
		{path: "/video/", wantStatus: http.StatusOK},
		{path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.wantStatus {
			t.Fatalf("%s status = %d, want %d", tc.path, rr.Code, tc.wantStatus)
		}
	}
}

func TestServerMetricsExposition(t *testing.T) {
	srv := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video/", nil))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rr.Body.String(), "streamvault_http_requests_total") {
		t.Fatalf("metrics exposition missing request counter:\n%s", rr.Body.String())
	}
}

func TestServerSetsSecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video/", nil))

	for _, header := range []string{
		"Content-Security-Policy",
		"X-Frame-Options",
		"X-Content-Type-Options",
		"Referrer-Policy",
	} {
		if rr.Header().Get(header) == "" {
			t.Fatalf("missing %s header", header)
		}
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 2},
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video/", nil))
		statuses = append(statuses, rr.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("requests within burst rejected: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", statuses[2])
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		request func() *http.Request
		want    string
	}{
		{
			name: "forwarded for",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
				return r
			},
			want: "203.0.113.9",
		},
		{
			name: "real ip",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("X-Real-IP", "198.51.100.4")
				return r
			},
			want: "198.51.100.4",
		},
		{
			name: "remote addr",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.RemoteAddr = "192.0.2.1:54321"
				return r
			},
			want: "192.0.2.1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractClientIP(tc.request()); got != tc.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
