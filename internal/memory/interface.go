package memory

import (
	"context"
)

// Store persists atoms and answers nearest-neighbour queries.
type Store interface {
	// Nearest returns up to k atoms ordered by ascending Euclidean distance
	// between vector and the target embedding, with Distance set.
	// k <= 0 yields an empty result.
	Nearest(ctx context.Context, target Target, vector []float32, k int) ([]Atom, error)
	// Get returns (nil, nil) when the id is absent.
	Get(ctx context.Context, id string) (*Atom, error)
	Insert(ctx context.Context, atom *Atom) error
	// Delete succeeds when the id is absent.
	Delete(ctx context.Context, id string) error
	Scan(ctx context.Context, filter ScanFilter) (ScanResult, error)
	Close() error
}

// Replacer is implemented by stores that can swap a record atomically.
type Replacer interface {
	Replace(ctx context.Context, atom *Atom) error
}

// Role tells the embedder how the text will be used.
type Role int

const (
	RoleDocument Role = iota
	RoleQuery
)

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "document"
}

// Embedder turns text into an L2-normalised vector.
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	Dimensions() int
}
