package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCORSHandler(t *testing.T, origins []string) http.Handler {
	t.Helper()
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: origins})
	if err != nil {
		t.Fatalf("newCORSPolicy: %v", err)
	}
	return corsMiddleware(policy, discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := newCORSHandler(t, []string{"https://player.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/video/abc/720/index.m3u8", nil)
	req.Header.Set("Origin", "https://player.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://player.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}
	if rr.Header().Get("Vary") != "Origin" {
		t.Fatal("missing Vary: Origin")
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	handler := newCORSHandler(t, []string{"https://player.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/video/", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestCORSAllowsSameOrigin(t *testing.T) {
	handler := newCORSHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "http://stream.example.com/video/", nil)
	req.Host = "stream.example.com"
	req.Header.Set("Origin", "http://stream.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("same-origin request blocked: %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newCORSHandler(t, []string{"https://player.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/video/abc/720/index.m3u8", nil)
	req.Header.Set("Origin", "https://player.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("missing allow-methods on preflight")
	}
}

func TestNewCORSPolicyRejectsBareHost(t *testing.T) {
	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"player.example.com"}}); err == nil {
		t.Fatal("origin without scheme must be rejected")
	}
}
