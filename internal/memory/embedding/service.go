// Package embedding turns text into L2-normalised vectors for storage and
// search. A Service wraps one Backend chosen at startup and applies the
// role prefix, input normalisation and truncation uniformly.
package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Backend produces a raw embedding for already prepared text.
type Backend interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Options tunes text preparation.
type Options struct {
	QueryPrefix    string
	DocumentPrefix string
	// MaxInputChars truncates the encoder input, in runes. Zero disables truncation.
	MaxInputChars int
	// Dimensions, when set, is enforced on every backend result.
	Dimensions int
	Timeout    time.Duration
}

// Service implements memory.Embedder.
type Service struct {
	backend Backend
	opts    Options
}

// New wraps backend.
func New(backend Backend, opts Options) *Service {
	return &Service{backend: backend, opts: opts}
}

// Backend returns the name of the underlying backend.
func (s *Service) Backend() string { return s.backend.Name() }

// Dimensions returns the configured vector size.
func (s *Service) Dimensions() int { return s.opts.Dimensions }

// Prepare returns the exact string handed to the backend for text and role.
func (s *Service) Prepare(text string, role memory.Role) string {
	text = norm.NFKC.String(text)
	if s.opts.MaxInputChars > 0 {
		if r := []rune(text); len(r) > s.opts.MaxInputChars {
			text = string(r[:s.opts.MaxInputChars])
		}
	}
	if role == memory.RoleQuery {
		return s.opts.QueryPrefix + text
	}
	return s.opts.DocumentPrefix + text
}

// Embed returns the normalised embedding of text for role.
func (s *Service) Embed(ctx context.Context, text string, role memory.Role) ([]float32, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	vec, err := s.backend.Encode(ctx, s.Prepare(text, role))
	if err != nil {
		return nil, llmerrors.Ensure(err, llmerrors.NewEmbeddingError,
			fmt.Sprintf("%s embedding failed", s.backend.Name()))
	}
	if len(vec) == 0 {
		return nil, llmerrors.NewEmbeddingError(fmt.Sprintf("%s returned an empty embedding", s.backend.Name()))
	}
	if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
		return nil, llmerrors.NewEmbeddingError(fmt.Sprintf("%s returned %d dimensions, want %d",
			s.backend.Name(), len(vec), s.opts.Dimensions))
	}
	return memory.Normalize(append([]float32(nil), vec...)), nil
}

var _ memory.Embedder = (*Service)(nil)
