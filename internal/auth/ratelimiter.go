package auth

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/recall/internal/httputil"
	"github.com/blueberrycongee/recall/internal/metrics"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// ClientRateLimiter keeps one token bucket per client address.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rate       rate.Limit
	burst      int
	enabled    bool

	skipPaths      map[string]bool
	trustedProxies []netip.Prefix
	cleanupTTL     time.Duration
	now            func() time.Time
	stop           chan struct{}
	stopOnce       sync.Once
	logger         *slog.Logger
}

// RateLimiterConfig contains configuration for the client rate limiter.
type RateLimiterConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	SkipPaths         []string
	TrustedProxies    []string      // IPs or CIDRs whose X-Forwarded-For is trusted
	CleanupTTL        time.Duration // TTL for idle client buckets
	Logger            *slog.Logger
}

// NewClientRateLimiter creates a limiter and starts its cleanup loop.
// Call Close to stop it.
func NewClientRateLimiter(cfg RateLimiterConfig) *ClientRateLimiter {
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rl := &ClientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		skipPaths:  make(map[string]bool, len(cfg.SkipPaths)),
		cleanupTTL: cfg.CleanupTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
		logger:     cfg.Logger,
	}
	for _, p := range cfg.SkipPaths {
		rl.skipPaths[p] = true
	}
	for _, v := range cfg.TrustedProxies {
		prefix, err := parsePrefix(v)
		if err != nil {
			cfg.Logger.Warn("invalid trusted proxy ignored", "value", v)
			continue
		}
		rl.trustedProxies = append(rl.trustedProxies, prefix)
	}
	rl.SetRate(cfg.Enabled, cfg.RequestsPerMinute, cfg.Burst)

	go rl.cleanupLoop()
	return rl
}

// SetRate changes the limits for existing and future clients.
func (rl *ClientRateLimiter) SetRate(enabled bool, rpm, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.enabled = enabled && rpm > 0
	rl.rate = rate.Limit(float64(rpm) / 60.0)
	rl.burst = max(burst, 1)
	for _, l := range rl.limiters {
		l.SetLimit(rl.rate)
		l.SetBurst(rl.burst)
	}
}

// Allow reports whether client may make a request now.
func (rl *ClientRateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	if !rl.enabled {
		rl.mu.Unlock()
		return true
	}
	now := rl.now()
	l, ok := rl.limiters[client]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[client] = l
	}
	rl.lastAccess[client] = now
	rl.mu.Unlock()

	return l.AllowN(now, 1)
}

// Middleware rejects requests over the limit with a rate_limited envelope.
func (rl *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.skipPaths[r.URL.Path] || rl.Allow(rl.ClientKey(r)) {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimited.Inc()
		httputil.WriteError(w, llmerrors.NewRateLimitError("rate limit exceeded"))
	})
}

// ClientKey identifies the caller: the remote address, or the right-most
// untrusted X-Forwarded-For hop when the request came through a trusted proxy.
func (rl *ClientRateLimiter) ClientKey(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	remote, err := netip.ParseAddr(host)
	if err != nil || !rl.trusted(remote) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !rl.trusted(addr) {
			return addr.String()
		}
	}
	return host
}

func (rl *ClientRateLimiter) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range rl.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefix(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Close stops the cleanup loop.
func (rl *ClientRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *ClientRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, last := range rl.lastAccess {
		if now.Sub(last) > rl.cleanupTTL {
			delete(rl.limiters, client)
			delete(rl.lastAccess, client)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *ClientRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
