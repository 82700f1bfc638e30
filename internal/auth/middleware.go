// Package auth guards the HTTP surface with a shared bearer key and
// per-client rate limits.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/blueberrycongee/recall/internal/httputil"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Middleware provides HTTP middleware for API key authentication.
type Middleware struct {
	apiKey    string
	logger    *slog.Logger
	skipPaths map[string]bool
}

// MiddlewareConfig contains configuration for the auth middleware.
type MiddlewareConfig struct {
	// APIKey is the shared secret. Empty disables authentication.
	APIKey    string
	Logger    *slog.Logger
	SkipPaths []string // Paths to skip authentication (e.g., /health, /metrics)
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Middleware{
		apiKey:    cfg.APIKey,
		logger:    logger,
		skipPaths: skipPaths,
	}
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m.apiKey != "" }

// Authenticate returns an HTTP middleware that validates the bearer key.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := ParseAuthHeader(r.Header.Get("Authorization"))
		if err != nil {
			httputil.WriteError(w, llmerrors.NewUnauthorizedError("missing or invalid authorization header"))
			return
		}
		if !VerifyKey(token, m.apiKey) {
			m.logger.Warn("rejected api key", "key", MaskKey(token), "path", r.URL.Path)
			httputil.WriteError(w, llmerrors.NewUnauthorizedError("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
