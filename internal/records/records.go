// Package records lists, updates, deletes and creates memory atoms.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/memory/memstore"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 1000
)

// ListRequest pages through stored atoms, optionally bounded by timestamp.
type ListRequest struct {
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// ListResponse is one page. Vectors are never included.
type ListResponse struct {
	Records []memory.Atom `json:"records"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
}

// UpdateRequest replaces the editable fields of an atom.
type UpdateRequest struct {
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	Speakers  []string `json:"speakers"`
}

// Service implements record management over a store.
type Service struct {
	store    memory.Store
	embedder memory.Embedder
	logger   *slog.Logger
}

// NewService creates a record service.
func NewService(store memory.Store, embedder memory.Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, embedder: embedder, logger: logger.With("component", "records")}
}

// List returns a page of atoms ordered by id.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if req.Offset < 0 {
		return nil, llmerrors.NewValidationError("offset must not be negative")
	}
	if req.Limit < 0 {
		return nil, llmerrors.NewValidationError("limit must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	if req.StartDate != "" && req.EndDate != "" && req.StartDate > req.EndDate {
		return nil, llmerrors.NewValidationError("start_date must not be after end_date")
	}

	res, err := s.store.Scan(ctx, memory.ScanFilter{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Limit:     limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, llmerrors.Ensure(err, llmerrors.NewStoreError, "failed to list records")
	}
	for i := range res.Records {
		res.Records[i].Normalize()
	}
	if res.Records == nil {
		res.Records = []memory.Atom{}
	}
	return &ListResponse{Records: res.Records, Total: res.Total, Offset: req.Offset, Limit: limit}, nil
}

// Update replaces summary, content, timestamp and speakers of an existing
// atom. Only vectors whose source text changed are recomputed; source,
// relationships and entities are kept.
//
// Stores without an atomic Replace are updated by delete then insert, so a
// concurrent reader may briefly miss the id.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) error {
	if strings.TrimSpace(id) == "" {
		return llmerrors.NewValidationError("id must not be empty")
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return llmerrors.Ensure(err, llmerrors.NewUpdateError, "failed to load record")
	}
	if current == nil {
		return llmerrors.NewNotFoundError(fmt.Sprintf("record %s not found", id))
	}

	next := current.Clone()
	next.Distance = nil
	next.Summary = req.Summary
	next.Content = req.Content
	next.Timestamp = req.Timestamp
	next.Speakers = slices.Clone(req.Speakers)
	next.Normalize()

	if req.Summary != current.Summary || len(current.VectorSummary) == 0 {
		v, err := s.embedder.Embed(ctx, req.Summary, memory.RoleDocument)
		if err != nil {
			return llmerrors.Ensure(err, llmerrors.NewEmbeddingError, "failed to embed summary")
		}
		next.VectorSummary = v
	}
	if req.Content != current.Content || len(current.VectorContent) == 0 {
		v, err := s.embedder.Embed(ctx, req.Content, memory.RoleDocument)
		if err != nil {
			return llmerrors.Ensure(err, llmerrors.NewEmbeddingError, "failed to embed content")
		}
		next.VectorContent = v
	}

	if r, ok := s.store.(memory.Replacer); ok {
		if err := r.Replace(ctx, next); err != nil {
			return llmerrors.Ensure(err, llmerrors.NewUpdateError, "failed to replace record")
		}
		return nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return llmerrors.Ensure(err, llmerrors.NewUpdateError, "failed to remove previous record")
	}
	if err := s.store.Insert(ctx, next); err != nil {
		s.logger.Error("record lost between delete and insert", "id", id, "error", err)
		return llmerrors.Ensure(err, llmerrors.NewUpdateError, "failed to write updated record")
	}
	return nil
}

// Delete removes an atom. Deleting an absent id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return llmerrors.NewValidationError("id must not be empty")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return llmerrors.Ensure(err, llmerrors.NewDeleteError, "failed to delete record")
	}
	return nil
}

// Create embeds both fields of atom and inserts it.
func (s *Service) Create(ctx context.Context, atom memory.Atom) error {
	if strings.TrimSpace(atom.ID) == "" {
		return llmerrors.NewValidationError("id must not be empty")
	}
	a := atom.Clone()
	a.Distance = nil
	a.Normalize()

	var err error
	if a.VectorSummary, err = s.embedder.Embed(ctx, a.Summary, memory.RoleDocument); err != nil {
		return llmerrors.Ensure(err, llmerrors.NewEmbeddingError, "failed to embed summary")
	}
	if a.VectorContent, err = s.embedder.Embed(ctx, a.Content, memory.RoleDocument); err != nil {
		return llmerrors.Ensure(err, llmerrors.NewEmbeddingError, "failed to embed content")
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return llmerrors.Ensure(err, llmerrors.NewStoreError, "failed to insert record")
	}
	return nil
}

// ImportStats summarises a seed import.
type ImportStats struct {
	Created int
	Skipped int
}

// Import creates every atom whose id is not stored yet.
func (s *Service) Import(ctx context.Context, atoms []memory.Atom) (ImportStats, error) {
	var stats ImportStats
	for _, a := range atoms {
		existing, err := s.store.Get(ctx, a.ID)
		if err != nil {
			return stats, llmerrors.Ensure(err, llmerrors.NewStoreError, "failed to check record")
		}
		if existing != nil {
			stats.Skipped++
			continue
		}
		if err := s.Create(ctx, a); err != nil {
			return stats, fmt.Errorf("import %s: %w", a.ID, err)
		}
		stats.Created++
	}
	return stats, nil
}

// ImportFile reads JSON lines from path and imports them.
func (s *Service) ImportFile(ctx context.Context, path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, llmerrors.NewConfigError(fmt.Sprintf("cannot open seed file %s", path)).Wrap(err)
	}
	defer f.Close()

	atoms, err := memstore.DecodeJSONL(f)
	if err != nil {
		return ImportStats{}, llmerrors.NewConfigError("invalid seed file: " + err.Error()).Wrap(err)
	}
	stats, err := s.Import(ctx, atoms)
	if err != nil {
		return stats, err
	}
	s.logger.Info("seed import finished", "path", path, "created", stats.Created, "skipped", stats.Skipped)
	return stats, nil
}
