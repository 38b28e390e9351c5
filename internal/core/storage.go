package core

import (
	"fmt"
	"os"

	"pipelinecore/internal/infra/persistence/memory"
	"pipelinecore/internal/infra/persistence/postgres"
	"pipelinecore/internal/infra/persistence/sqlite"
	"pipelinecore/pkg/domain"
)

// StorageDriver identifies a concrete datastore implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects a datastore backend. Empty fields fall back to
// environment variables:
//
//	PIPELINECORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	PIPELINECORE_SQLITE_PATH: path to sqlite file (default ./pipelinecore.db)
//	PIPELINECORE_POSTGRES_DSN: postgres DSN when driver=postgres
type StorageOptions struct {
	Driver string
	Path   string
	DSN    string
}

// OpenDatastore selects and opens a datastore backend.
func OpenDatastore(opts StorageOptions) (domain.Datastore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = os.Getenv("PIPELINECORE_STORAGE_DRIVER")
	}
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		path := opts.Path
		if path == "" {
			path = os.Getenv("PIPELINECORE_SQLITE_PATH")
		}
		return sqlite.NewStore(path)
	case StoragePostgres:
		dsn := opts.DSN
		if dsn == "" {
			dsn = os.Getenv("PIPELINECORE_POSTGRES_DSN")
		}
		return postgres.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
