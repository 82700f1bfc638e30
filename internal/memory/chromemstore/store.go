// Package chromemstore stores memory atoms in an embedded chromem-go database.
// Each atom is written to two collections, one per embedding, under the same id.
package chromemstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	chromem "github.com/philippgille/chromem-go"

	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

const (
	summaryCollection = "summary"
	contentCollection = "content"
)

// Options configures the chromem store.
type Options struct {
	// Path enables on-disk persistence when set.
	Path     string
	Compress bool
	// Dimensions is used to build the probe vector for full scans.
	Dimensions int
}

// Store implements memory.Store on chromem-go.
type Store struct {
	db      *chromem.DB
	summary *chromem.Collection
	content *chromem.Collection
	dims    int

	// writes serialises the two-collection write so both stay in step.
	writes sync.Mutex
}

// New opens (or creates) the database and its two collections.
func New(opts Options) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if opts.Path != "" {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, llmerrors.NewStoreError("open chromem database").Wrap(err)
		}
	} else {
		db = chromem.NewDB()
	}

	s := &Store{db: db, dims: opts.Dimensions}
	// Embeddings are always supplied by the caller, so the embedding func is never invoked.
	if s.summary, err = db.GetOrCreateCollection(summaryCollection, nil, nil); err != nil {
		return nil, llmerrors.NewStoreError("create summary collection").Wrap(err)
	}
	if s.content, err = db.GetOrCreateCollection(contentCollection, nil, nil); err != nil {
		return nil, llmerrors.NewStoreError("create content collection").Wrap(err)
	}
	return s, nil
}

func (s *Store) collection(t memory.Target) *chromem.Collection {
	if t == memory.TargetSummary {
		return s.summary
	}
	return s.content
}

func (s *Store) Nearest(ctx context.Context, target memory.Target, vector []float32, k int) ([]memory.Atom, error) {
	col := s.collection(target)
	if k <= 0 || col.Count() == 0 {
		return []memory.Atom{}, nil
	}
	// chromem-go requires nResults <= collection size.
	if n := col.Count(); k > n {
		k = n
	}
	results, err := col.QueryEmbedding(ctx, append([]float32(nil), vector...), k, nil, nil)
	if err != nil {
		return nil, llmerrors.NewStoreError("chromem query failed").Wrap(err)
	}

	out := make([]memory.Atom, 0, len(results))
	for _, r := range results {
		a, err := s.load(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		// For unit vectors |a-b|^2 = 2 - 2cos.
		d := math.Sqrt(math.Max(0, 2-2*float64(r.Similarity)))
		a.Distance = &d
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Distance < *out[j].Distance })
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Atom, error) {
	return s.load(ctx, id)
}

// load reassembles an atom from both collections. Missing ids yield (nil, nil).
// chromem-go's GetByID fails only for an empty or unknown id, so any error
// for a non-empty id means the document is absent.
func (s *Store) load(ctx context.Context, id string) (*memory.Atom, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := s.content.GetByID(ctx, id)
	if err != nil {
		return nil, nil
	}
	a, err := decodeDocument(doc)
	if err != nil {
		return nil, err
	}
	a.VectorContent = doc.Embedding
	if a.VectorSummary, err = s.summaryVector(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

// summaryVector fetches the summary embedding stored alongside a content
// document. Its absence means the two collections disagree.
func (s *Store) summaryVector(ctx context.Context, id string) ([]float32, error) {
	doc, err := s.summary.GetByID(ctx, id)
	if err != nil {
		return nil, llmerrors.NewStoreError(fmt.Sprintf("record %q has no summary embedding", id)).Wrap(err)
	}
	return doc.Embedding, nil
}

func (s *Store) Insert(ctx context.Context, atom *memory.Atom) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	if _, err := s.content.GetByID(ctx, atom.ID); err == nil {
		return llmerrors.NewStoreError(fmt.Sprintf("duplicate id %q", atom.ID))
	}
	if len(atom.VectorSummary) == 0 || len(atom.VectorContent) == 0 {
		return llmerrors.NewStoreError(fmt.Sprintf("record %q has no embeddings", atom.ID))
	}
	if s.dims == 0 {
		s.dims = len(atom.VectorContent)
	}
	a := atom.Clone()
	a.Normalize()
	a.Distance = nil
	body, err := json.Marshal(a)
	if err != nil {
		return llmerrors.NewStoreError("encode record").Wrap(err)
	}
	meta := map[string]string{"timestamp": a.Timestamp}

	if err := s.summary.AddDocument(ctx, chromem.Document{
		ID: a.ID, Content: string(body), Metadata: meta, Embedding: a.VectorSummary,
	}); err != nil {
		return llmerrors.NewStoreError("add summary document").Wrap(err)
	}
	if err := s.content.AddDocument(ctx, chromem.Document{
		ID: a.ID, Content: string(body), Metadata: meta, Embedding: a.VectorContent,
	}); err != nil {
		_ = s.summary.Delete(ctx, nil, nil, a.ID)
		return llmerrors.NewStoreError("add content document").Wrap(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	if err := s.summary.Delete(ctx, nil, nil, id); err != nil {
		return llmerrors.NewStoreError("delete summary document").Wrap(err)
	}
	if err := s.content.Delete(ctx, nil, nil, id); err != nil {
		return llmerrors.NewStoreError("delete content document").Wrap(err)
	}
	return nil
}

// Scan lists every document by querying with a probe vector for the full
// collection size. chromem-go has no cursor API.
func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) (memory.ScanResult, error) {
	res := memory.ScanResult{Records: []memory.Atom{}}
	n := s.content.Count()
	if n == 0 {
		return res, nil
	}
	probe := make([]float32, s.dimensions())
	probe[0] = 1

	docs, err := s.content.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return res, llmerrors.NewStoreError("chromem scan failed").Wrap(err)
	}
	matched := make([]memory.Atom, 0, len(docs))
	for _, d := range docs {
		if !filter.Match(d.Metadata["timestamp"]) {
			continue
		}
		a, err := decodeDocument(chromem.Document{ID: d.ID, Content: d.Content})
		if err != nil {
			return res, err
		}
		a.VectorContent = d.Embedding
		if a.VectorSummary, err = s.summaryVector(ctx, d.ID); err != nil {
			return res, err
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	res.Total = len(matched)
	if filter.Offset >= len(matched) {
		return res, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	res.Records = matched[filter.Offset:end]
	return res, nil
}

func (s *Store) dimensions() int {
	s.writes.Lock()
	defer s.writes.Unlock()
	if s.dims > 0 {
		return s.dims
	}
	return 1
}

func (s *Store) Close() error { return nil }

func decodeDocument(doc chromem.Document) (*memory.Atom, error) {
	var a memory.Atom
	if err := json.Unmarshal([]byte(doc.Content), &a); err != nil {
		return nil, llmerrors.NewStoreError("corrupt record").Wrap(err)
	}
	a.ID = doc.ID
	a.Distance = nil
	a.Normalize()
	return &a, nil
}

var _ memory.Store = (*Store)(nil)
