package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashBackend is a deterministic feature-hashing embedder. Word tokens and
// character trigrams are hashed into signed buckets, so texts sharing
// vocabulary land near each other. It needs no model and suits development.
type HashBackend struct {
	dims int
}

// NewHashBackend returns a hashing backend producing dims-sized vectors.
func NewHashBackend(dims int) *HashBackend {
	if dims <= 0 {
		dims = 384
	}
	return &HashBackend{dims: dims}
}

func (h *HashBackend) Name() string { return "hash" }

func (h *HashBackend) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	lower := strings.ToLower(text)

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1)
	}

	runes := []rune(lower)
	for i := 0; i+3 <= len(runes); i++ {
		h.add(vec, "t:"+string(runes[i:i+3]), 0.5)
	}
	if len(words) == 0 && len(runes) < 3 {
		h.add(vec, "s:"+lower, 1)
	}
	return vec, nil
}

func (h *HashBackend) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
