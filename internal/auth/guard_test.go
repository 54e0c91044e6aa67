package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGuardAuthorize(t *testing.T) {
	guard, err := NewGuard("correct-horse")
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{name: "valid", header: "Bearer correct-horse", wantErr: nil},
		{name: "case-insensitive scheme", header: "bearer correct-horse", wantErr: nil},
		{name: "missing header", header: "", wantErr: ErrTokenRequired},
		{name: "wrong token", header: "Bearer battery-staple", wantErr: ErrInvalidToken},
		{name: "wrong scheme", header: "Basic correct-horse", wantErr: ErrInvalidToken},
		{name: "empty token", header: "Bearer   ", wantErr: ErrTokenRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/video/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			err := guard.Authorize(req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Authorize = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewGuardRejectsEmptyToken(t *testing.T) {
	if _, err := NewGuard("  "); err == nil {
		t.Fatal("empty token must be rejected")
	}
}

func TestNewGuardFromHash(t *testing.T) {
	hash, err := HashToken("secret")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash form: %s", hash)
	}

	guard, err := NewGuardFromHash(hash)
	if err != nil {
		t.Fatalf("NewGuardFromHash: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/video/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if err := guard.Authorize(req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if _, err := NewGuardFromHash("plaintext-not-a-hash"); err == nil {
		t.Fatal("malformed hash must be rejected")
	}
}

func TestHashTokenSalts(t *testing.T) {
	first, err := HashToken("secret")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	second, err := HashToken("secret")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if first == second {
		t.Fatal("hashes must use fresh salts")
	}
}

func TestMiddleware(t *testing.T) {
	guard, err := NewGuard("secret")
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	var reached bool
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/video/", nil))
	if rr.Code != http.StatusUnauthorized || reached {
		t.Fatalf("unauthenticated request reached handler, status %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge")
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/video/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || !reached {
		t.Fatalf("authenticated request blocked, status %d", rr.Code)
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(token) != 48 {
		t.Fatalf("token length = %d, want 48 hex chars", len(token))
	}
}
