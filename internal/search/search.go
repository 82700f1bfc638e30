// Package search answers vector searches over the memory store and expands
// them along the relationship graph.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/metrics"
	"github.com/blueberrycongee/recall/internal/observability"
	"github.com/blueberrycongee/recall/internal/summarize"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Request is a single vector search.
type Request struct {
	Text     string
	Target   string
	Limit    int
	Compress bool
}

// GraphRequest adds one hop of relationship expansion to a search.
type GraphRequest struct {
	Request
	RelatedLimit int
}

// Result carries the ranked atoms and, when requested, their summary.
type Result struct {
	Results        []memory.Atom
	Compressed     bool
	CompressedText string
}

// Service runs searches. The summarizer may be nil when compression is not
// available; compressed requests then fail with summarization_unavailable.
type Service struct {
	embedder   memory.Embedder
	store      memory.Store
	summarizer summarize.Summarizer
	logger     *slog.Logger
}

// NewService creates a search service.
func NewService(embedder memory.Embedder, store memory.Store, summarizer summarize.Summarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:   embedder,
		store:      store,
		summarizer: summarizer,
		logger:     logger.With("component", "search"),
	}
}

// Search embeds the query and returns the nearest atoms in ascending distance.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "search",
		attribute.String("target", req.Target),
		attribute.Int("limit", req.Limit),
	)
	defer span.End()

	res, err := s.search(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if req.Compress {
		if err := s.compress(ctx, res); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	}
	metrics.RecordSearch("search", req.Target, len(res.Results))
	return res, nil
}

func (s *Service) search(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, llmerrors.NewInvalidQueryError("query text must not be empty")
	}
	target, ok := memory.ParseTarget(req.Target)
	if !ok {
		return nil, llmerrors.NewInvalidQueryError("target must be \"summary\" or \"content\"")
	}
	if req.Limit <= 0 {
		return &Result{Results: []memory.Atom{}}, nil
	}

	vec, err := s.embedder.Embed(ctx, req.Text, memory.RoleQuery)
	if err != nil {
		return nil, llmerrors.Ensure(err, llmerrors.NewEmbeddingError, "failed to embed query")
	}
	hits, err := s.store.Nearest(ctx, target, vec, req.Limit)
	if err != nil {
		return nil, llmerrors.Ensure(err, llmerrors.NewSearchError, "search failed")
	}
	for i := range hits {
		hits[i].Normalize()
	}
	return &Result{Results: hits}, nil
}

// GraphSearch runs Search without compression, then appends up to
// RelatedLimit relationship targets after each seed, heaviest edge first.
// The merged list keeps the first occurrence of every id.
func (s *Service) GraphSearch(ctx context.Context, req GraphRequest) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "graph_search",
		attribute.String("target", req.Target),
		attribute.Int("limit", req.Limit),
		attribute.Int("related_limit", req.RelatedLimit),
	)
	defer span.End()

	seeds, err := s.search(ctx, req.Request)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	seen := make(map[string]bool, len(seeds.Results))
	merged := make([]memory.Atom, 0, len(seeds.Results)*(1+max(req.RelatedLimit, 0)))
	add := func(a memory.Atom) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		merged = append(merged, a)
	}

	for _, seed := range seeds.Results {
		add(seed)
		related, err := s.related(ctx, seed, req.RelatedLimit)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		for _, r := range related {
			add(r)
		}
	}

	res := &Result{Results: merged}
	if req.Compress {
		if err := s.compress(ctx, res); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	}
	metrics.RecordSearch("graph_search", req.Target, len(merged))
	return res, nil
}

// related fetches the heaviest relationship targets of seed. Targets that no
// longer exist are skipped without counting against limit.
func (s *Service) related(ctx context.Context, seed memory.Atom, limit int) ([]memory.Atom, error) {
	if limit <= 0 || len(seed.Relationships) == 0 {
		return nil, nil
	}
	edges := append([]memory.Relationship(nil), seed.Relationships...)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })

	out := make([]memory.Atom, 0, limit)
	for _, e := range edges {
		if len(out) == limit {
			break
		}
		a, err := s.store.Get(ctx, e.TargetID)
		if err != nil {
			return nil, llmerrors.Ensure(err, llmerrors.NewSearchError, "failed to load related record")
		}
		if a == nil {
			s.logger.Debug("skipping dangling relationship", "from", seed.ID, "to", e.TargetID)
			continue
		}
		a.Distance = nil
		a.Normalize()
		out = append(out, *a)
	}
	return out, nil
}

func (s *Service) compress(ctx context.Context, res *Result) error {
	if len(res.Results) == 0 {
		return nil
	}
	if s.summarizer == nil {
		return llmerrors.NewSummarizationUnavailableError("summarization is not configured")
	}
	parts := make([]string, len(res.Results))
	for i, a := range res.Results {
		parts[i] = a.Content
	}
	text, err := s.summarizer.Summarize(ctx, strings.Join(parts, "\n\n"))
	if err != nil {
		return llmerrors.Ensure(err, llmerrors.NewSummarizationError, "failed to compress results")
	}
	res.Compressed = true
	res.CompressedText = text
	return nil
}
