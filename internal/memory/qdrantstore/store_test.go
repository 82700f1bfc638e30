package qdrantstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// fakeQdrant implements the handful of REST endpoints the store uses.
type fakeQdrant struct {
	mu      sync.Mutex
	created bool
	schema  map[string]any
	points  map[string]point
	apiKey  string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{points: map[string]point{}}
	mux := http.NewServeMux()
	base := "/collections/atoms"

	mux.HandleFunc("GET "+base+"/exists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKey = r.Header.Get("api-key")
		writeJSON(w, map[string]any{"result": map[string]any{"exists": f.created}})
	})
	mux.HandleFunc("PUT "+base, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created = true
		_ = json.NewDecoder(r.Body).Decode(&f.schema)
		writeJSON(w, map[string]any{"result": true})
	})
	mux.HandleFunc("GET "+base+"/points/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.points[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": p})
	})
	mux.HandleFunc("PUT "+base+"/points", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range req.Points {
			f.points[p.ID] = p
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	})
	mux.HandleFunc("POST "+base+"/points/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []string `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, id := range req.Points {
			delete(f.points, id)
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	})
	mux.HandleFunc("POST "+base+"/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Vector struct {
				Name   string    `json:"name"`
				Vector []float32 `json:"vector"`
			} `json:"vector"`
			Limit int `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		hits := make([]point, 0, len(f.points))
		for _, p := range f.sorted() {
			p.Score = memory.Distance(p.Vector[req.Vector.Name], req.Vector.Vector)
			hits = append(hits, p)
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
		if len(hits) > req.Limit {
			hits = hits[:req.Limit]
		}
		writeJSON(w, map[string]any{"result": hits})
	})
	mux.HandleFunc("POST "+base+"/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit  int  `json:"limit"`
			Offset *int `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		all := f.sorted()
		start := 0
		if req.Offset != nil {
			start = *req.Offset
		}
		end := min(start+req.Limit, len(all))
		var next any
		if end < len(all) {
			next = end
		}
		writeJSON(w, map[string]any{"result": map[string]any{"points": all[start:end], "next_page_offset": next}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) sorted() []point {
	out := make([]point, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newStore(t *testing.T, srv *httptest.Server) *Store {
	t.Helper()
	s, err := New(Config{Address: srv.URL, APIKey: "k", Collection: "atoms", Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(context.Background()))
	return s
}

func atom(id, ts string, summary, content []float32) *memory.Atom {
	return &memory.Atom{
		ID:            id,
		Summary:       "summary of " + id,
		Content:       "content of " + id,
		Timestamp:     ts,
		Speakers:      []string{"alice"},
		Relationships: []memory.Relationship{{TargetID: "other", Type: "follows", Weight: 0.5}},
		VectorSummary: summary,
		VectorContent: content,
	}
}

func TestEnsureCollection_CreatesNamedVectors(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	newStore(t, srv)

	assert.True(t, fake.created)
	assert.Equal(t, "k", fake.apiKey)
	vectors := fake.schema["vectors"].(map[string]any)
	assert.Contains(t, vectors, "summary")
	assert.Contains(t, vectors, "content")
	assert.Equal(t, "Euclid", vectors["content"].(map[string]any)["distance"])
}

func TestStore_InsertGetRoundTrip(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s := newStore(t, srv)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, atom("a1", "2024-01-01", []float32{1, 0}, []float32{0, 1})))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "content of a1", got.Content)
	assert.Equal(t, []float32{1, 0}, got.VectorSummary)
	assert.Equal(t, []float32{0, 1}, got.VectorContent)
	assert.Equal(t, "follows", got.Relationships[0].Type)

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_InsertDuplicateFails(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s := newStore(t, srv)
	ctx := context.Background()

	a := atom("a1", "", []float32{1, 0}, []float32{1, 0})
	require.NoError(t, s.Insert(ctx, a))
	err := s.Insert(ctx, a)
	e, ok := llmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, llmerrors.KindStore, e.Kind)
}

func TestStore_NearestOrdersByDistance(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s := newStore(t, srv)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, atom("far", "", []float32{1, 0}, []float32{-1, 0})))
	require.NoError(t, s.Insert(ctx, atom("near", "", []float32{-1, 0}, []float32{1, 0})))

	hits, err := s.Nearest(ctx, memory.TargetContent, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	require.NotNil(t, hits[0].Distance)
	assert.InDelta(t, 0, *hits[0].Distance, 1e-6)
	assert.InDelta(t, 2, *hits[1].Distance, 1e-6)

	hits, err = s.Nearest(ctx, memory.TargetSummary, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "far", hits[0].ID)

	hits, err = s.Nearest(ctx, memory.TargetSummary, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_ReplaceAndDelete(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s := newStore(t, srv)
	ctx := context.Background()

	a := atom("a1", "", []float32{1, 0}, []float32{1, 0})
	require.NoError(t, s.Insert(ctx, a))

	a.Content = "rewritten"
	require.NoError(t, s.Replace(ctx, a))
	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Content)

	require.NoError(t, s.Delete(ctx, "a1"))
	require.NoError(t, s.Delete(ctx, "a1"))
	got, err = s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ScanPagesThroughScroll(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s := newStore(t, srv)
	ctx := context.Background()

	// More than one scroll page.
	for i := 0; i < scrollPageSize+10; i++ {
		id := string(rune('a'+i%26)) + string(rune('a'+i/26))
		ts := "2024-01-10"
		if i%2 == 0 {
			ts = "2024-03-10"
		}
		require.NoError(t, s.Insert(ctx, atom(id, ts, []float32{1, 0}, []float32{1, 0})))
	}

	res, err := s.Scan(ctx, memory.ScanFilter{StartDate: "2024-02-01", Limit: 5, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, (scrollPageSize+10)/2, res.Total)
	require.Len(t, res.Records, 5)
	assert.True(t, sort.SliceIsSorted(res.Records, func(i, j int) bool { return res.Records[i].ID < res.Records[j].ID }))
	for _, r := range res.Records {
		assert.Equal(t, "2024-03-10", r.Timestamp)
	}
}

func TestStore_ServerErrorIsStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(Config{Address: srv.URL, Collection: "atoms"})
	require.NoError(t, err)

	_, err = s.Nearest(context.Background(), memory.TargetContent, []float32{1}, 3)
	e, ok := llmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, llmerrors.KindStore, e.Kind)
	assert.True(t, e.Retryable)
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, PointID("a1"), PointID("a1"))
	assert.NotEqual(t, PointID("a1"), PointID("a2"))
	assert.Len(t, PointID("a1"), 36)
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Address: "localhost:6333/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333", s.apiBase)
}
