// Package sqlite provides a SQLite-backed datastore. Table state is held in
// the in-memory engine and snapshotted to a single state table as JSON after
// every successful mutation; raw dialect queries execute against the
// physical schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pipelinecore/internal/infra/persistence/memory"
	"pipelinecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Datastore = (*Store)(nil)

// Store persists the in-memory table state to SQLite as one JSON payload per
// table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens or creates the SQLite file, ensures the state table exists
// and hydrates the in-memory engine from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "pipelinecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		tbl TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT tbl, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var tbl string
		var payload []byte
		if err := rows.Scan(&tbl, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		var tableRows []domain.Row
		if err := json.Unmarshal(payload, &tableRows); err != nil {
			return fmt.Errorf("decode %s: %w", tbl, err)
		}
		snapshot[tbl] = tableRows
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(snapshot) > 0 {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
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
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(tbl,payload) VALUES(?,?) ON CONFLICT(tbl) DO UPDATE SET payload=excluded.payload`, name, payload); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", name, err)
			return retErr
		}
	}
	return tx.Commit()
}

// Save creates a row and snapshots state on success.
func (s *Store) Save(ctx context.Context, req domain.SaveRequest) (domain.Row, error) {
	row, err := s.Store.Save(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
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
	if err := s.persist(); err != nil {
		return nil, err
	}
	return row, nil
}

// Remove deletes a row and snapshots state on success.
func (s *Store) Remove(ctx context.Context, req domain.RemoveRequest) error {
	if err := s.Store.Remove(ctx, req); err != nil {
		return err
	}
	return s.persist()
}

// Query executes the sqlite-dialect raw query against the physical schema,
// substituting named replacements.
func (s *Store) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	var raw string
	found := false
	for _, q := range req.Queries {
		if q.Dialect == domain.DialectSQLite {
			raw = q.SQL
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no sqlite query provided: %w", domain.ErrUnsupported)
	}
	query, args := expandNamed(raw, req.Replacements)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRows(rows)
}

// expandNamed rewrites :name placeholders as positional ? arguments in the
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
				sb.WriteByte('?')
				args = append(args, replacements[name])
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
