package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/recall/internal/auth"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/observability"
)

func testStack(t *testing.T, cfg *config.Config, limiter *auth.ClientRateLimiter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stack, err := buildMiddlewareStack(cfg, limiter, logger)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Request-ID", observability.RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	return stack(mux)
}

func TestMiddlewareStack_Auth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.APIKey = "k1"
	h := testStack(t, cfg, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader), "rejections still carry a request id")

	req := httptest.NewRequest(http.MethodPost, "/search", nil)
	req.Header.Set("Authorization", "Bearer k1")
	req.Header.Set(observability.RequestIDHeader, "client-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-123", rec.Header().Get("X-Seen-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareStack_RateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	limiter := auth.NewClientRateLimiter(auth.RateLimiterConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Close()
	h := testStack(t, cfg, limiter)

	codes := make([]int, 0, 2)
	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMiddlewareStack_RecoversPanics(t *testing.T) {
	h := testStack(t, config.DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"internal_error"`)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestBuildMiddlewareStack_NilConfig(t *testing.T) {
	_, err := buildMiddlewareStack(nil, nil, slog.Default())
	assert.ErrorIs(t, err, errNilConfig)
}
