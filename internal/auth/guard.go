// Package auth guards the administrative surface (uploads and metadata
// edits) with a single operator-configured bearer token. The catalogue and
// streaming endpoints stay public.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenSaltLength = 16
	tokenKeyLength  = 32
	tokenIterations = 120000
)

var (
	// ErrTokenRequired indicates no credential was presented.
	ErrTokenRequired = errors.New("admin token required")
	// ErrInvalidToken indicates the presented credential did not match.
	ErrInvalidToken = errors.New("invalid admin token")
)

// Guard validates bearer tokens against a derived hash so the plaintext token
// never has to live in process memory longer than startup.
type Guard struct {
	hash string
}

// NewGuard builds a Guard from a plaintext token, deriving and retaining only
// its hash.
func NewGuard(token string) (*Guard, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("admin token must not be empty")
	}
	hash, err := HashToken(token)
	if err != nil {
		return nil, err
	}
	return &Guard{hash: hash}, nil
}

// NewGuardFromHash builds a Guard from an already-derived hash string, the
// form operators store in configuration.
func NewGuardFromHash(hash string) (*Guard, error) {
	hash = strings.TrimSpace(hash)
	if err := verifyToken(hash, "probe"); err != nil && !errors.Is(err, ErrInvalidToken) {
		return nil, fmt.Errorf("admin token hash: %w", err)
	}
	return &Guard{hash: hash}, nil
}

// Authorize checks the Authorization header of an administrative request.
func (g *Guard) Authorize(r *http.Request) error {
	token, err := bearerToken(r)
	if err != nil {
		return err
	}
	return verifyToken(g.hash, token)
}

// Middleware rejects unauthenticated requests with 401 before they reach the
// wrapped handler.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrTokenRequired
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrTokenRequired
	}
	return token, nil
}

// HashToken derives a salted PBKDF2 hash in the self-describing form
// pbkdf2$sha256$<iterations>$<salt>$<key>.
func HashToken(token string) (string, error) {
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenIterations, tokenKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenIterations, encodedSalt, encodedKey), nil
}

func verifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// GenerateToken returns a random token suitable for the admin credential.
func GenerateToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
