// Package postgres provides a Postgres-backed datastore that mirrors the
// in-memory semantics, snapshotting table state as JSONB after every
// successful mutation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"pipelinecore/internal/infra/persistence/memory"
	"pipelinecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Datastore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/pipelinecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory engine for
// all table operations.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the state table exists, and hydrates the in-memory
// engine from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		tbl TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	if len(snapshot) > 0 {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT tbl, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var tbl string
		var payload []byte
		if err := rows.Scan(&tbl, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var tableRows []domain.Row
		if err := json.Unmarshal(payload, &tableRows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tbl, err)
		}
		snapshot[tbl] = tableRows
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		payload, err := json.Marshal(snapshot[name])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(tbl,payload) VALUES($1,$2) ON CONFLICT(tbl) DO UPDATE SET payload=EXCLUDED.payload`, name, payload); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Save creates a row and snapshots state on success.
func (s *Store) Save(ctx context.Context, req domain.SaveRequest) (domain.Row, error) {
	row, err := s.Store.Save(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// Update merges fields and snapshots state on success.
func (s *Store) Update(ctx context.Context, req domain.UpdateRequest) (domain.Row, error) {
	row, err := s.Store.Update(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// Remove deletes a row and snapshots state on success.
func (s *Store) Remove(ctx context.Context, req domain.RemoveRequest) error {
	if err := s.Store.Remove(ctx, req); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Query executes the postgres-dialect raw query against the physical schema,
// substituting named replacements as positional $n arguments.
func (s *Store) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	var raw string
	found := false
	for _, q := range req.Queries {
		if q.Dialect == domain.DialectPostgres {
			raw = q.SQL
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no postgres query provided: %w", domain.ErrUnsupported)
	}
	query, args := expandNamed(raw, req.Replacements)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRows(rows)
}

// expandNamed rewrites :name placeholders as positional $n arguments in the
// order they appear, trying longer names first so overlapping prefixes
// cannot mis-substitute.
func expandNamed(query string, replacements map[string]any) (string, []any) {
	if len(replacements) == 0 {
		return query, nil
	}
	names := make([]string, 0, len(replacements))
	for name := range replacements {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	var sb strings.Builder
	var args []any
	for i := 0; i < len(query); {
		if query[i] != ':' {
			sb.WriteByte(query[i])
			i++
			continue
		}
		matched := false
		for _, name := range names {
			if strings.HasPrefix(query[i+1:], name) {
				args = append(args, replacements[name])
				sb.WriteString("$" + strconv.Itoa(len(args)))
				i += 1 + len(name)
				matched = true
				break
			}
		}
		if !matched {
			sb.WriteByte(query[i])
			i++
		}
	}
	return sb.String(), args
}

func collectRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []domain.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
