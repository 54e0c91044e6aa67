package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	bucket := newTokenBucket(100, 2)
	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("burst capacity should allow two requests")
	}
	if bucket.Allow() {
		t.Fatal("empty bucket should deny")
	}
	time.Sleep(30 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("bucket should refill at 100 tokens/s")
	}
}

func TestAllowUploadPerClient(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Hour})

	if allowed, _ := rl.AllowUpload("10.0.0.1"); !allowed {
		t.Fatal("first upload should pass")
	}
	if allowed, retry := rl.AllowUpload("10.0.0.1"); allowed || retry <= 0 {
		t.Fatal("second upload from same client should be limited")
	}
	if allowed, _ := rl.AllowUpload("10.0.0.2"); !allowed {
		t.Fatal("different client should not be limited")
	}
}

func TestRateLimitMiddlewareLimitsUploads(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Hour})
	handler := rateLimitMiddleware(rl, discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/video/", nil)
		req.RemoteAddr = "192.0.2.7:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if got := post(); got != http.StatusCreated {
		t.Fatalf("first upload = %d", got)
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Fatalf("second upload = %d, want 429", got)
	}

	// Reads stay unaffected by the upload limit.
	req := httptest.NewRequest(http.MethodGet, "/video/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("read request = %d", rr.Code)
	}
}
