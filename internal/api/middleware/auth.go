package middleware

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
)

var ErrBadPassword = errors.New("wrong password")

// Auth gates the panel API behind an optional password. Login compares
// against a bcrypt hash and mints a session token held in memory; sessions do
// not survive a restart. With no hash configured the panel is open, the
// normal mode for a locally bound dev server.
type Auth struct {
	passwordHash string

	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewAuth creates the auth middleware. An empty passwordHash disables auth.
func NewAuth(passwordHash string) *Auth {
	return &Auth{
		passwordHash: passwordHash,
		sessions:     make(map[string]struct{}),
	}
}

// Enabled reports whether a password is configured.
func (a *Auth) Enabled() bool {
	return a.passwordHash != ""
}

// Login checks the password and returns a fresh session token.
func (a *Auth) Login(password string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth is not enabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) != nil {
		return "", ErrBadPassword
	}
	token := uuid.NewString()
	a.mu.Lock()
	a.sessions[token] = struct{}{}
	a.mu.Unlock()
	return token, nil
}

// Authenticate validates the Bearer token against live sessions. A no-op when
// auth is disabled.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		a.mu.RLock()
		_, ok := a.sessions[token]
		a.mu.RUnlock()
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Unknown session token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
