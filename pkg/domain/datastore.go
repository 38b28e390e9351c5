package domain

import (
	"context"
	"time"
)

// Row is a raw datastore record: a mapping from declared field name to value.
type Row map[string]any

// SortOrder selects scan result ordering.
type SortOrder string

const (
	SortAscending  SortOrder = "ascending"
	SortDescending SortOrder = "descending"
)

// Dialect identifies a raw-query storage dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// GetRequest looks up a single record by identity or by a partial field match.
// When ID is empty, Params drives the lookup.
type GetRequest struct {
	Table  Table
	ID     string
	Params Row
}

// SaveRequest creates a record. An empty ID asks the datastore to assign one.
type SaveRequest struct {
	Table Table
	ID    string
	Data  Row
}

// UpdateRequest merges Data into the record identified by ID.
type UpdateRequest struct {
	Table Table
	ID    string
	Data  Row
}

// RemoveRequest deletes the record identified by ID.
type RemoveRequest struct {
	Table Table
	ID    string
}

// Paginate bounds a scan to one page of results.
type Paginate struct {
	Page  int
	Count int
}

// Search matches a keyword as a case-insensitive substring against any of
// the named fields.
type Search struct {
	Fields  []string
	Keyword string
}

// ScanRequest enumerates records in a table. Params values are matched by
// equality; a slice value matches any of its elements.
type ScanRequest struct {
	Table     Table
	Params    Row
	Paginate  *Paginate
	Sort      SortOrder
	SortBy    string
	Search    *Search
	Exclude   []string
	GroupBy   []string
	StartTime time.Time
	EndTime   time.Time
	TimeKey   string
	GetCount  bool
}

// ScanResult carries one page of rows. Count is the number of matching rows
// before pagination and is populated only when GetCount was requested.
type ScanResult struct {
	Rows  []Row
	Count int
}

// DialectQuery pairs a raw query with the storage dialect it targets.
type DialectQuery struct {
	Dialect Dialect
	SQL     string
}

// QueryRequest passes dialect-dispatched raw queries straight to the
// datastore. Replacements are substituted for named parameters.
type QueryRequest struct {
	Table        Table
	Queries      []DialectQuery
	Replacements map[string]any
}

// Datastore executes table-scoped persistence operations. Implementations
// report "no matching record" from Get as (nil, nil), never as an error.
type Datastore interface {
	Get(ctx context.Context, req GetRequest) (Row, error)
	Save(ctx context.Context, req SaveRequest) (Row, error)
	Update(ctx context.Context, req UpdateRequest) (Row, error)
	Remove(ctx context.Context, req RemoveRequest) error
	Scan(ctx context.Context, req ScanRequest) (ScanResult, error)
	Query(ctx context.Context, req QueryRequest) ([]Row, error)
}
