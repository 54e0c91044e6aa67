package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"streamvault/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := requestIDMiddlewareWithGenerator(discardLogger(), func() string { return "generated-id" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = logging.RequestIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video/", nil))

	if seen != "generated-id" {
		t.Fatalf("context request id = %q", seen)
	}
	if rr.Header().Get("X-Request-Id") != "generated-id" {
		t.Fatalf("response header = %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDMiddlewareHonorsIncomingHeader(t *testing.T) {
	handler := requestIDMiddleware(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/video/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != "upstream-id" {
		t.Fatalf("response header = %q, want upstream-id", rr.Header().Get("X-Request-Id"))
	}
}
