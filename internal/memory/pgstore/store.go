// Package pgstore stores memory atoms in PostgreSQL using the pgvector
// extension for nearest-neighbour search.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/blueberrycongee/recall/internal/memory"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// DBPool defines the subset of pgxpool.Pool the store uses.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Options configures the Postgres store.
type Options struct {
	DSN         string
	Table       string // Default "memory_atoms"
	Dimensions  int
	AutoMigrate bool
}

// Store implements memory.Store on a pgvector table.
type Store struct {
	pool  DBPool
	table string
	dims  int
}

// New connects to Postgres and verifies the table exists, creating it when
// AutoMigrate is set. A missing table is reported as a missing_table error.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, llmerrors.NewStoreError("unable to create connection pool").Wrap(err)
	}
	s := NewWithPool(pool, opts.Table, opts.Dimensions)
	if opts.AutoMigrate {
		if err := s.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if err := s.CheckTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool creates a store over an existing pool. Useful for testing with mocks.
func NewWithPool(pool DBPool, table string, dims int) *Store {
	if table == "" {
		table = "memory_atoms"
	}
	return &Store{pool: pool, table: table, dims: dims}
}

// InitSchema creates the vector extension and the atom table if needed.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.dims <= 0 {
		return llmerrors.NewConfigError("store dimensions must be positive to create the table")
	}
	query := fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT,
			speakers JSONB NOT NULL DEFAULT '[]',
			source_name TEXT,
			relationships JSONB NOT NULL DEFAULT '[]',
			entities JSONB NOT NULL DEFAULT '[]',
			vector_summary vector(%[2]d),
			vector_content vector(%[2]d)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s (timestamp);`, s.table, s.dims)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return llmerrors.NewStoreError("failed to create schema").Wrap(err)
	}
	return nil
}

// CheckTable fails with missing_table when the atom table does not exist.
func (s *Store) CheckTable(ctx context.Context) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", s.table).Scan(&exists); err != nil {
		return classify(err, "failed to check table")
	}
	if !exists {
		return llmerrors.NewMissingTableError(fmt.Sprintf("table %q does not exist", s.table))
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const columns = "id, summary, content, COALESCE(timestamp, ''), speakers, COALESCE(source_name, ''), relationships, entities, vector_summary::text, vector_content::text"

func (s *Store) Nearest(ctx context.Context, target memory.Target, vector []float32, k int) ([]memory.Atom, error) {
	if k <= 0 {
		return []memory.Atom{}, nil
	}
	column := "vector_content"
	if target == memory.TargetSummary {
		column = "vector_summary"
	}
	query := fmt.Sprintf("SELECT %s, %s <-> $1::vector AS distance FROM %s ORDER BY distance, seq LIMIT $2",
		columns, column, s.table)

	rows, err := s.pool.Query(ctx, query, encodeVector(vector), k)
	if err != nil {
		return nil, classify(err, "nearest neighbour query failed")
	}
	defer rows.Close()

	out := make([]memory.Atom, 0, k)
	for rows.Next() {
		var dist float64
		a, err := scanAtom(rows, &dist)
		if err != nil {
			return nil, err
		}
		a.Distance = &dist
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "nearest neighbour query failed")
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Atom, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.table)
	a, err := scanAtom(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) Insert(ctx context.Context, atom *memory.Atom) error {
	return s.insert(ctx, s.pool, atom)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *Store) insert(ctx context.Context, db execer, atom *memory.Atom) error {
	a := atom.Clone()
	a.Normalize()
	speakers, _ := json.Marshal(a.Speakers)
	rels, _ := json.Marshal(a.Relationships)
	ents, _ := json.Marshal(a.Entities)

	query := fmt.Sprintf(`INSERT INTO %s (id, summary, content, timestamp, speakers, source_name, relationships, entities, vector_summary, vector_content) VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9::vector, $10::vector)`, s.table)
	_, err := db.Exec(ctx, query,
		a.ID, a.Summary, a.Content, a.Timestamp, speakers, a.SourceName, rels, ents,
		encodeVector(a.VectorSummary), encodeVector(a.VectorContent))
	if err != nil {
		return classify(err, "failed to insert record")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.delete(ctx, s.pool, id)
}

func (s *Store) delete(ctx context.Context, db execer, id string) error {
	if _, err := db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), id); err != nil {
		return classify(err, "failed to delete record")
	}
	return nil
}

// Replace deletes and re-inserts the record inside one transaction.
func (s *Store) Replace(ctx context.Context, atom *memory.Atom) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = s.delete(ctx, tx, atom.ID); err != nil {
		return err
	}
	if err = s.insert(ctx, tx, atom); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err, "failed to commit transaction")
	}
	return nil
}

const dateFilter = "($1 = '' OR timestamp >= $1) AND ($2 = '' OR timestamp <= $2)"

func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) (memory.ScanResult, error) {
	res := memory.ScanResult{Records: []memory.Atom{}}

	countQuery := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", s.table, dateFilter)
	if err := s.pool.QueryRow(ctx, countQuery, filter.StartDate, filter.EndDate).Scan(&res.Total); err != nil {
		return res, classify(err, "failed to count records")
	}

	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT $3 OFFSET $4", columns, s.table, dateFilter)
	rows, err := s.pool.Query(ctx, query, filter.StartDate, filter.EndDate, limit, filter.Offset)
	if err != nil {
		return res, classify(err, "failed to list records")
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAtom(rows)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, *a)
	}
	if err := rows.Err(); err != nil {
		return res, classify(err, "failed to list records")
	}
	return res, nil
}

func scanAtom(row pgx.Row, extra ...any) (*memory.Atom, error) {
	var (
		a                    memory.Atom
		speakers, rels, ents []byte
		vs, vc               *string
	)
	dest := append([]any{&a.ID, &a.Summary, &a.Content, &a.Timestamp, &speakers, &a.SourceName, &rels, &ents, &vs, &vc}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, classify(err, "failed to read record")
	}
	if err := decodeJSON(speakers, &a.Speakers); err != nil {
		return nil, err
	}
	if err := decodeJSON(rels, &a.Relationships); err != nil {
		return nil, err
	}
	if err := decodeJSON(ents, &a.Entities); err != nil {
		return nil, err
	}
	var err error
	if a.VectorSummary, err = decodeVector(vs); err != nil {
		return nil, err
	}
	if a.VectorContent, err = decodeVector(vc); err != nil {
		return nil, err
	}
	a.Normalize()
	return &a, nil
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return llmerrors.NewStoreError("corrupt record").Wrap(err)
	}
	return nil
}

// encodeVector renders v in pgvector's text format, e.g. [0.1,0.2].
func encodeVector(v []float32) *string {
	if v == nil {
		return nil
	}
	text := pgvector.NewVector(v).String()
	return &text
}

func decodeVector(s *string) ([]float32, error) {
	if s == nil {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(*s); err != nil {
		return nil, llmerrors.NewStoreError("corrupt vector").Wrap(err)
	}
	return v.Slice(), nil
}

// classify maps driver errors onto the store taxonomy.
func classify(err error, message string) error {
	if _, ok := llmerrors.As(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return llmerrors.NewMissingTableError(pgErr.Message).Wrap(err)
	}
	return llmerrors.NewStoreError(message).Wrap(err)
}

var (
	_ memory.Store    = (*Store)(nil)
	_ memory.Replacer = (*Store)(nil)
)
