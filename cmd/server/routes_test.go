package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/recall/internal/api"
	"github.com/blueberrycongee/recall/internal/config"
)

func routePattern(mux *http.ServeMux, method, path string) string {
	req := httptest.NewRequest(method, path, nil)
	_, pattern := mux.Handler(req)
	return pattern
}

func TestBuildMux_RegistersEndpoints(t *testing.T) {
	cfg := config.DefaultConfig()
	mux, err := buildMux(cfg, api.NewHandler(nil, nil, nil, func() *config.Config { return cfg }, nil))
	require.NoError(t, err)

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/search", "POST /search"},
		{http.MethodPost, "/graph_search", "POST /graph_search"},
		{http.MethodPost, "/list", "POST /list"},
		{http.MethodPut, "/update/a1", "PUT /update/{id}"},
		{http.MethodDelete, "/delete/a1", "DELETE /delete/{id}"},
		{http.MethodPost, "/chat", "POST /chat"},
		{http.MethodGet, "/health", "GET /health"},
		{http.MethodGet, "/metrics", "GET /metrics"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routePattern(mux, tt.method, tt.path))
	}
}

func TestBuildMux_MetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	mux, err := buildMux(cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, routePattern(mux, http.MethodGet, "/metrics"))
}

func TestBuildMux_NilConfig(t *testing.T) {
	_, err := buildMux(nil, nil)
	assert.ErrorIs(t, err, errNilConfig)
}
