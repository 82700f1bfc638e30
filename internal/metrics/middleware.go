package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// RecordSearch records the size of a search result.
func RecordSearch(kind, target string, n int) {
	SearchResults.WithLabelValues(kind, target).Observe(float64(n))
}

// RecordModelCall records one hosted model call.
func RecordModelCall(backend, model, outcome string, latency time.Duration) {
	model = sanitizeModelLabel(model)
	ModelCalls.WithLabelValues(backend, model, outcome).Inc()
	ModelLatency.WithLabelValues(backend, model).Observe(latency.Seconds())
}

// RecordSummarization records one summariser backend call.
func RecordSummarization(backend, outcome string) {
	SummarizationCalls.WithLabelValues(backend, outcome).Inc()
}

// RecordTrim records a context assembler trim of layer.
func RecordTrim(layer string) {
	ContextTrimmed.WithLabelValues(layer).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		HTTPRequests.WithLabelValues(route, strconv.Itoa(recorder.statusCode)).Inc()
		HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded by dropping path parameters.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/update/"):
		return "/update/{id}"
	case strings.HasPrefix(r.URL.Path, "/delete/"):
		return "/delete/{id}"
	}
	switch r.URL.Path {
	case "/search", "/graph_search", "/list", "/chat", "/health", "/metrics":
		return r.URL.Path
	}
	return "other"
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(minInt(len(model), maxModelLabelLen))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
