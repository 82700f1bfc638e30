// Package qdrantstore keeps memory atoms in a Qdrant collection through its
// REST API. Each point carries two named vectors, "summary" and "content",
// and the atom itself as payload.
package qdrantstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// pointNamespace derives stable point UUIDs from atom ids, since Qdrant
// only accepts UUIDs or unsigned integers as point ids.
var pointNamespace = uuid.MustParse("6f1c1a52-8a0e-4b8e-9b55-3c2f0e0d7a41")

const scrollPageSize = 256

// Config holds configuration for the Qdrant store.
type Config struct {
	Address    string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Store implements memory.Store and memory.Replacer on Qdrant.
type Store struct {
	client     *http.Client
	apiBase    string
	apiKey     string
	collection string
	dimensions int
}

// New creates a store. It does not contact the server; call EnsureCollection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, llmerrors.NewConfigError("qdrant address is required")
	}
	address := strings.TrimRight(cfg.Address, "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	if cfg.Collection == "" {
		cfg.Collection = "memory_atoms"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Store{
		client:     client,
		apiBase:    address,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
	}, nil
}

// PointID returns the Qdrant point id for an atom id.
func PointID(atomID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(atomID)).String()
}

// EnsureCollection creates the collection with both named vectors if absent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodGet, "/exists", nil, &exists); err != nil {
		return classify(err, "check collection exists")
	}
	if exists.Result.Exists {
		return nil
	}
	if s.dimensions <= 0 {
		return llmerrors.NewConfigError("store dimensions must be positive to create the collection")
	}
	params := map[string]any{"size": s.dimensions, "distance": "Euclid"}
	body := map[string]any{
		"vectors": map[string]any{
			string(memory.TargetSummary): params,
			string(memory.TargetContent): params,
		},
	}
	if _, err := s.do(ctx, http.MethodPut, "", body, nil); err != nil {
		return classify(err, "create collection")
	}
	return nil
}

type point struct {
	ID      string               `json:"id"`
	Score   float64              `json:"score"`
	Payload json.RawMessage      `json:"payload"`
	Vector  map[string][]float32 `json:"vector"`
}

func (p point) atom() (*memory.Atom, error) {
	var a memory.Atom
	if err := json.Unmarshal(p.Payload, &a); err != nil {
		return nil, llmerrors.NewStoreError("corrupt record").Wrap(err)
	}
	a.VectorSummary = p.Vector[string(memory.TargetSummary)]
	a.VectorContent = p.Vector[string(memory.TargetContent)]
	a.Normalize()
	return &a, nil
}

// Nearest uses Qdrant's Euclid metric, whose score is the distance itself.
func (s *Store) Nearest(ctx context.Context, target memory.Target, vector []float32, k int) ([]memory.Atom, error) {
	if k <= 0 {
		return []memory.Atom{}, nil
	}
	body := map[string]any{
		"vector":       map[string]any{"name": string(target), "vector": vector},
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []point `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, "/points/search", body, &resp); err != nil {
		return nil, classify(err, "nearest-neighbour query failed")
	}

	out := make([]memory.Atom, 0, len(resp.Result))
	for _, p := range resp.Result {
		a, err := p.atom()
		if err != nil {
			return nil, err
		}
		d := p.Score
		a.Distance = &d
		out = append(out, *a)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Atom, error) {
	var resp struct {
		Result point `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, "/points/"+PointID(id), nil, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get record failed")
	}
	return resp.Result.atom()
}

func (s *Store) Insert(ctx context.Context, atom *memory.Atom) error {
	existing, err := s.Get(ctx, atom.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return llmerrors.NewStoreError(fmt.Sprintf("record %q already exists", atom.ID))
	}
	return s.upsert(ctx, atom)
}

// Replace overwrites the point in a single upsert.
func (s *Store) Replace(ctx context.Context, atom *memory.Atom) error {
	return s.upsert(ctx, atom)
}

func (s *Store) upsert(ctx context.Context, atom *memory.Atom) error {
	if len(atom.VectorSummary) == 0 || len(atom.VectorContent) == 0 {
		return llmerrors.NewStoreError(fmt.Sprintf("record %q is missing an embedding", atom.ID))
	}
	stored := atom.Clone()
	stored.Distance = nil
	stored.Normalize()
	payload, err := json.Marshal(stored)
	if err != nil {
		return llmerrors.NewStoreError("encode record").Wrap(err)
	}
	body := map[string]any{
		"points": []any{map[string]any{
			"id":      PointID(atom.ID),
			"payload": json.RawMessage(payload),
			"vector": map[string][]float32{
				string(memory.TargetSummary): atom.VectorSummary,
				string(memory.TargetContent): atom.VectorContent,
			},
		}},
	}
	if _, err := s.do(ctx, http.MethodPut, "/points?wait=true", body, nil); err != nil {
		return classify(err, "insert failed")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	body := map[string]any{"points": []string{PointID(id)}}
	if _, err := s.do(ctx, http.MethodPost, "/points/delete?wait=true", body, nil); err != nil {
		return classify(err, "delete failed")
	}
	return nil
}

// Scan pages through the whole collection, filters timestamps lexically and
// orders by id. Qdrant range filters are numeric, so filtering is client side.
func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) (memory.ScanResult, error) {
	var matched []memory.Atom
	var offset any
	for {
		body := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := s.do(ctx, http.MethodPost, "/points/scroll", body, &resp); err != nil {
			return memory.ScanResult{}, classify(err, "scan failed")
		}
		for _, p := range resp.Result.Points {
			a, err := p.atom()
			if err != nil {
				return memory.ScanResult{}, err
			}
			if filter.Match(a.Timestamp) {
				matched = append(matched, *a)
			}
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return memory.ScanResult{Records: matched[start:end], Total: total}, nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: status=%d, body=%s", e.status, e.body)
}

// do sends a request under /collections/<name> and decodes the response
// into out when it is non-nil. The status code is returned even on error.
func (s *Store) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("%s/collections/%s%s", s.apiBase, s.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &statusError{status: resp.StatusCode, body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func classify(err error, message string) error {
	if _, ok := llmerrors.As(err); ok {
		return err
	}
	return llmerrors.NewStoreError(message).Wrap(err)
}
