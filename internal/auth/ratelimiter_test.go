package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimiter_Burst(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2})
	defer rl.Close()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"), "one token refills per second at 60 rpm")
}

func TestClientRateLimiter_Disabled(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{Enabled: false, RequestsPerMinute: 1, Burst: 1})
	defer rl.Close()
	for range 10 {
		require.True(t, rl.Allow("a"))
	}
	assert.Zero(t, rl.Len())
}

func TestClientRateLimiter_SetRate(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	defer rl.Close()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.SetRate(false, 60, 1)
	assert.True(t, rl.Allow("a"))
}

func TestClientRateLimiter_Middleware(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1, SkipPaths: []string{"/health"}})
	defer rl.Close()
	h := rl.Middleware(okHandler())

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("/search").Code)
	rec := do("/search")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"rate_limited"`)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, do("/health").Code)
}

func TestClientRateLimiter_ClientKey(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{TrustedProxies: []string{"10.0.0.0/8", "not-an-ip"}})
	defer rl.Close()

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "198.51.100.1:1234", "203.0.113.9", "198.51.100.1"},
		{"trusted proxy", "10.1.2.3:1234", "203.0.113.9", "203.0.113.9"},
		{"chain of proxies", "10.1.2.3:1234", "203.0.113.9, 10.9.9.9", "203.0.113.9"},
		{"spoofed left-most hop", "10.1.2.3:1234", "1.1.1.1, 203.0.113.9", "203.0.113.9"},
		{"trusted proxy without header", "10.1.2.3:1234", "", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, rl.ClientKey(req))
		})
	}
}

func TestClientRateLimiter_Cleanup(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1, CleanupTTL: time.Minute})
	defer rl.Close()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	require.Equal(t, 1, rl.Len())
	now = now.Add(2 * time.Minute)
	rl.cleanup()
	assert.Zero(t, rl.Len())
}
