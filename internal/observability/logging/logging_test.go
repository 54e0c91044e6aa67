package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewSelectsHandlerAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf})

	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Fatalf("info record should be filtered at warn level: %s", output)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "kept" || record["key"] != "value" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text handler output, got %s", buf.String())
	}
}

func TestContextIdentifiers(t *testing.T) {
	ctx := context.Background()
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("empty context should not carry a request id")
	}

	ctx = ContextWithRequestID(ctx, " req-1 ")
	ctx = ContextWithVideoID(ctx, "vid-1")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("request id = %q, ok=%v", id, ok)
	}
	if id, ok := VideoIDFromContext(ctx); !ok || id != "vid-1" {
		t.Fatalf("video id = %q, ok=%v", id, ok)
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	ctx := ContextWithVideoID(ContextWithRequestID(context.Background(), "req-9"), "vid-9")

	WithContext(ctx, logger).Info("annotated")

	output := buf.String()
	if !strings.Contains(output, `"request_id":"req-9"`) || !strings.Contains(output, `"video_id":"vid-9"`) {
		t.Fatalf("missing context fields: %s", output)
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/video/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record); err != nil {
		t.Fatalf("expected JSON log record: %v", err)
	}
	if record["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status = %v", record["status"])
	}
	if record["path"] != "/video/" {
		t.Fatalf("path = %v", record["path"])
	}
	if _, present := record["remote_addr"]; present {
		t.Fatal("remote_addr should be suppressed")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "pipeline")
	logger.Info("tagged")
	if !strings.Contains(buf.String(), `"component":"pipeline"`) {
		t.Fatalf("missing component field: %s", buf.String())
	}
	if WithComponent(nil, "x") != nil {
		t.Fatal("nil logger should stay nil")
	}
}
