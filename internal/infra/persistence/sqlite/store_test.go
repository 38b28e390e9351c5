package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"pipelinecore/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Save(ctx, domain.SaveRequest{
		Table: domain.TableJobs,
		ID:    "j1",
		Data:  domain.Row{"name": "main", "state": "ENABLED"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Update(ctx, domain.UpdateRequest{
		Table: domain.TableJobs,
		ID:    "j1",
		Data:  domain.Row{"state": "DISABLED"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	row, err := reopened.Get(ctx, domain.GetRequest{Table: domain.TableJobs, ID: "j1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row == nil {
		t.Fatal("row lost across reopen")
	}
	if row["state"] != "DISABLED" {
		t.Fatalf("state = %v, update was not snapshotted", row["state"])
	}
}

func TestRemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Save(ctx, domain.SaveRequest{Table: domain.TableJobs, ID: "j1", Data: domain.Row{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Remove(ctx, domain.RemoveRequest{Table: domain.TableJobs, ID: "j1"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	row, err := reopened.Get(ctx, domain.GetRequest{Table: domain.TableJobs, ID: "j1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row != nil {
		t.Fatal("removed row resurrected across reopen")
	}
}

func TestQueryDialectDispatch(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Save(ctx, domain.SaveRequest{Table: domain.TableJobs, ID: "j1", Data: domain.Row{}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := s.Query(ctx, domain.QueryRequest{
		Table: domain.TableJobs,
		Queries: []domain.DialectQuery{
			{Dialect: domain.DialectPostgres, SQL: "SELECT 1"},
			{Dialect: domain.DialectSQLite, SQL: "SELECT tbl FROM state WHERE tbl = :tbl"},
		},
		Replacements: map[string]any{"tbl": "jobs"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0]["tbl"] != "jobs" {
		t.Fatalf("rows = %v", rows)
	}

	// No sqlite-dialect query offered.
	_, err = s.Query(ctx, domain.QueryRequest{
		Queries: []domain.DialectQuery{{Dialect: domain.DialectPostgres, SQL: "SELECT 1"}},
	})
	if err == nil {
		t.Fatal("expected error when no sqlite query is provided")
	}
}

func TestExpandNamed(t *testing.T) {
	query, args := expandNamed(
		"SELECT * FROM state WHERE tbl = :tbl OR payload = :tblPayload OR tbl = :tbl",
		map[string]any{"tbl": "jobs", "tblPayload": "x"},
	)
	if query != "SELECT * FROM state WHERE tbl = ? OR payload = ? OR tbl = ?" {
		t.Fatalf("query = %q", query)
	}
	if len(args) != 3 || args[0] != "jobs" || args[1] != "x" || args[2] != "jobs" {
		t.Fatalf("args = %v", args)
	}

	query, args = expandNamed("SELECT 1", nil)
	if query != "SELECT 1" || args != nil {
		t.Fatalf("passthrough broken: %q %v", query, args)
	}
}
