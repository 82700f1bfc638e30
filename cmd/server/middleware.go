package main

import (
	"log/slog"
	"net/http"

	"github.com/blueberrycongee/recall/internal/api"
	"github.com/blueberrycongee/recall/internal/auth"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/metrics"
	"github.com/blueberrycongee/recall/internal/observability"
)

// buildMiddlewareStack wraps handlers so that, from the outside in, a
// request gets an ID, panics are recovered, metrics are recorded, the key
// is checked and finally the client's rate limit is applied.
func buildMiddlewareStack(cfg *config.Config, limiter *auth.ClientRateLimiter, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	authMiddleware := auth.NewMiddleware(auth.MiddlewareConfig{
		APIKey:    cfg.Auth.APIKey,
		Logger:    logger,
		SkipPaths: cfg.Auth.SkipPaths,
	})
	if authMiddleware.Enabled() {
		logger.Info("API key authentication middleware enabled")
	}
	recoverer := api.Recover(logger)

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := next
		if limiter != nil {
			handler = limiter.Middleware(handler)
		}
		handler = authMiddleware.Authenticate(handler)
		handler = metrics.Middleware(handler)
		handler = recoverer(handler)
		handler = observability.RequestIDMiddleware(handler)
		return handler
	}, nil
}
