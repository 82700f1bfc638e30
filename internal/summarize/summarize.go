// Package summarize condenses arbitrarily long text with a generative model.
//
// Text up to ChunkSize runes is summarised in one call. Longer text is cut
// into consecutive ChunkSize-rune chunks, each chunk is summarised, the
// partial summaries are joined with newlines and summarised once more. If the
// joined partials still exceed ChunkSize they are re-chunked the same way, at
// most MaxDepth times, before the final pass.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/recall/internal/metrics"
	"github.com/blueberrycongee/recall/internal/observability"
	"github.com/blueberrycongee/recall/internal/resilience"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Backend generates text for a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Summarizer is what callers depend on.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Options tune the chunking algorithm.
type Options struct {
	ChunkSize      int
	MaxDepth       int
	MaxOutputChars int
	Timeout        time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:      4000,
		MaxDepth:       3,
		MaxOutputChars: 1000,
		Timeout:        120 * time.Second,
	}
}

const promptTemplate = `Summarize the following text in the same language it is written in.
Keep names, dates and concrete facts. Write between 100 and 1000 characters.
Reply with the summary only.

Text:
%s`

// Service implements Summarizer over a Backend.
type Service struct {
	backend Backend
	opts    Options
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// New creates a summarization service. Zero option fields take defaults.
func New(backend Backend, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxOutputChars <= 0 {
		opts.MaxOutputChars = def.MaxOutputChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("summarize:"+backend.Name(), resilience.DefaultCircuitBreakerConfig()),
		logger:  logger.With("component", "summarize", "backend", backend.Name()),
	}
}

// Summarize returns a summary of text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "summarize",
		attribute.Int("input_chars", len([]rune(text))),
		attribute.String("backend", s.backend.Name()),
	)
	defer span.End()

	out, err := s.summarize(ctx, text, 0)
	observability.RecordError(span, err)
	return out, err
}

func (s *Service) summarize(ctx context.Context, text string, depth int) (string, error) {
	runes := []rune(text)
	if len(runes) <= s.opts.ChunkSize || depth >= s.opts.MaxDepth {
		return s.call(ctx, text)
	}

	chunks := Split(runes, s.opts.ChunkSize)
	partials := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		p, err := s.call(ctx, chunk)
		if err != nil {
			return "", err
		}
		partials = append(partials, p)
	}
	s.logger.Debug("summarised chunks", "chunks", len(chunks), "depth", depth)

	return s.summarize(ctx, strings.Join(partials, "\n"), depth+1)
}

// call performs one bounded backend call and clamps the output.
func (s *Service) call(ctx context.Context, text string) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	var out string
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.backend.Generate(ctx, fmt.Sprintf(promptTemplate, text))
		return err
	})
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		metrics.RecordSummarization(s.backend.Name(), outcome)
		s.logger.Warn("summarization call failed", "error", err)
		return "", classify(err)
	}
	metrics.RecordSummarization(s.backend.Name(), metrics.OutcomeSuccess)
	return clamp(strings.TrimSpace(out), s.opts.MaxOutputChars), nil
}

// Split cuts runes into consecutive chunks of at most size runes.
func Split(runes []rune, size int) []string {
	if size <= 0 {
		return []string{string(runes)}
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func clamp(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// classify maps a backend failure onto the error taxonomy. A backend that
// cannot be reached at all is reported as unavailable.
func classify(err error) *llmerrors.Error {
	if e, ok := llmerrors.As(err); ok {
		return e
	}
	if unreachable(err) {
		return llmerrors.NewSummarizationUnavailableError("summarization backend is unreachable").Wrap(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewSummarizationError("summarization timed out").Wrap(err)
	}
	return llmerrors.NewSummarizationError("summarization failed: " + err.Error()).Wrap(err)
}

func unreachable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
