// Package memstore is a thread-safe in-process memory atom table.
// It performs brute-force distance search and suits development and tests.
package memstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/recall/internal/memory"
)

// Store keeps atoms in a map guarded by an RWMutex.
type Store struct {
	mu    sync.RWMutex
	atoms map[string]*memory.Atom
	// order records insertion order so equal distances rank deterministically.
	order []string
}

// New returns an empty store.
func New() *Store {
	return &Store{atoms: make(map[string]*memory.Atom)}
}

func (s *Store) Nearest(ctx context.Context, target memory.Target, vector []float32, k int) ([]memory.Atom, error) {
	if k <= 0 {
		return []memory.Atom{}, nil
	}
	s.mu.RLock()
	candidates := make([]memory.Atom, 0, len(s.order))
	for _, id := range s.order {
		candidates = append(candidates, *s.atoms[id].Clone())
	}
	s.mu.RUnlock()

	return memory.RankByDistance(candidates, target, vector, k), nil
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Atom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.atoms[id]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

// Insert stores a copy of atom. An existing id is rejected.
func (s *Store) Insert(ctx context.Context, atom *memory.Atom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.atoms[atom.ID]; ok {
		return fmt.Errorf("memstore: duplicate id %q", atom.ID)
	}
	s.put(atom)
	return nil
}

// Replace swaps the record under a single lock, so readers never observe
// the id missing.
func (s *Store) Replace(ctx context.Context, atom *memory.Atom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.atoms[atom.ID]; ok {
		s.atoms[atom.ID] = stored(atom)
		return nil
	}
	s.put(atom)
	return nil
}

func (s *Store) put(atom *memory.Atom) {
	s.atoms[atom.ID] = stored(atom)
	s.order = append(s.order, atom.ID)
}

func stored(atom *memory.Atom) *memory.Atom {
	cp := atom.Clone()
	cp.Distance = nil
	cp.Normalize()
	return cp
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.atoms[id]; !ok {
		return nil
	}
	delete(s.atoms, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) (memory.ScanResult, error) {
	s.mu.RLock()
	matched := make([]memory.Atom, 0, len(s.atoms))
	for _, a := range s.atoms {
		if filter.Match(a.Timestamp) {
			matched = append(matched, *a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	res := memory.ScanResult{Total: len(matched), Records: []memory.Atom{}}
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

// Len returns the number of stored atoms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.atoms)
}

func (s *Store) Close() error { return nil }

// DecodeJSONL reads one atom per line. Blank lines are skipped.
func DecodeJSONL(r io.Reader) ([]memory.Atom, error) {
	var atoms []memory.Atom
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var a memory.Atom
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		atoms = append(atoms, a)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return atoms, nil
}

var (
	_ memory.Store    = (*Store)(nil)
	_ memory.Replacer = (*Store)(nil)
)
