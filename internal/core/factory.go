// Package core implements the schema-driven persistence framework: per-entity
// factories orchestrating datastore CRUD, deterministic identity derivation,
// sealed sensitive fields, memoized cross-entity relations, and the trigger
// dependency graph.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"pipelinecore/pkg/domain"
)

// Pagination defaults applied whenever a paginate option is partially
// specified.
const (
	DefaultPage  = 1
	DefaultCount = 50
)

// factory carries the schema-level state shared by every entity factory: the
// backing table, the declared natural-key fields, and the datastore handle.
// An empty key set means identities are storage-assigned.
type factory struct {
	name  string
	table domain.Table
	keys  []string
	ds    domain.Datastore
}

// deriveID hashes the natural-key fields into a deterministic identity so two
// independent callers creating the same entity converge on one row.
func (f *factory) deriveID(data domain.Row) (string, error) {
	return f.deriveIDKeys(data, f.keys)
}

// deriveIDKeys derives an identity over an explicit key set, for factories
// whose natural key depends on the record shape (tokens are keyed by
// whichever owner they belong to).
func (f *factory) deriveIDKeys(data domain.Row, keys []string) (string, error) {
	h := sha256.New()
	io.WriteString(h, string(f.table))
	for _, k := range keys {
		v, ok := data[k]
		if !ok || v == "" {
			return "", &domain.ValidationError{Table: f.table, Field: k, Msg: "natural key field is required"}
		}
		fmt.Fprintf(h, "\x00%s=%v", k, v)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalizeID canonicalizes an identity value. Numeric identities, including
// string-encoded ones, normalize to their base-10 form; everything else
// passes through as a string.
func normalizeID(id any) string {
	switch v := id.(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

// normalizePaginate fills unset pagination fields with the defaults.
func normalizePaginate(p *domain.Paginate) *domain.Paginate {
	out := domain.Paginate{Page: DefaultPage, Count: DefaultCount}
	if p != nil {
		if p.Page > 0 {
			out.Page = p.Page
		}
		if p.Count > 0 {
			out.Count = p.Count
		}
	}
	return &out
}

// ListOptions tunes a factory list operation. All fields are optional.
type ListOptions struct {
	Params    domain.Row
	Paginate  *domain.Paginate
	Sort      domain.SortOrder
	SortBy    string
	Search    *domain.Search
	Exclude   []string
	GroupBy   []string
	StartTime time.Time
	EndTime   time.Time
	TimeKey   string
	GetCount  bool
}

func (f *factory) scanRequest(opts ListOptions) domain.ScanRequest {
	sort := opts.Sort
	if sort == "" {
		sort = domain.SortDescending
	}
	return domain.ScanRequest{
		Table:     f.table,
		Params:    opts.Params,
		Paginate:  normalizePaginate(opts.Paginate),
		Sort:      sort,
		SortBy:    opts.SortBy,
		Search:    opts.Search,
		Exclude:   opts.Exclude,
		GroupBy:   opts.GroupBy,
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
		TimeKey:   opts.TimeKey,
		GetCount:  opts.GetCount,
	}
}

// get returns the raw row for an identity or partial-field lookup. A missing
// record is (nil, nil), not an error.
func (f *factory) get(ctx context.Context, id string, params domain.Row) (domain.Row, error) {
	row, err := f.ds.Get(ctx, domain.GetRequest{Table: f.table, ID: id, Params: params})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get", Table: f.table, Err: err}
	}
	return row, nil
}

func (f *factory) save(ctx context.Context, id string, data domain.Row) (domain.Row, error) {
	row, err := f.ds.Save(ctx, domain.SaveRequest{Table: f.table, ID: id, Data: data})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "save", Table: f.table, Err: err}
	}
	return row, nil
}

func (f *factory) update(ctx context.Context, id string, data domain.Row) (domain.Row, error) {
	row, err := f.ds.Update(ctx, domain.UpdateRequest{Table: f.table, ID: id, Data: data})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "update", Table: f.table, Err: err}
	}
	return row, nil
}

func (f *factory) remove(ctx context.Context, id string) error {
	if err := f.ds.Remove(ctx, domain.RemoveRequest{Table: f.table, ID: id}); err != nil {
		return &domain.PersistenceError{Op: "remove", Table: f.table, Err: err}
	}
	return nil
}

// ListRaw scans without wrapping rows into records. Used for projections such
// as distinct-value listings (GroupBy) and count queries.
func (f *factory) ListRaw(ctx context.Context, opts ListOptions) (domain.ScanResult, error) {
	res, err := f.ds.Scan(ctx, f.scanRequest(opts))
	if err != nil {
		return domain.ScanResult{}, &domain.PersistenceError{Op: "scan", Table: f.table, Err: err}
	}
	return res, nil
}

// Query passes dialect-dispatched raw queries straight to the datastore.
func (f *factory) Query(ctx context.Context, queries []domain.DialectQuery, replacements map[string]any) ([]domain.Row, error) {
	if replacements == nil {
		replacements = map[string]any{}
	}
	rows, err := f.ds.Query(ctx, domain.QueryRequest{Table: f.table, Queries: queries, Replacements: replacements})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query", Table: f.table, Err: err}
	}
	return rows, nil
}

// listRecords runs a scan and wraps each row through the factory-specific
// constructor. The returned count is meaningful only when opts.GetCount was
// set.
func listRecords[T any](ctx context.Context, f *factory, opts ListOptions, wrap func(domain.Row) T) ([]T, int, error) {
	res, err := f.ListRaw(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	out := make([]T, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, wrap(row))
	}
	return out, res.Count, nil
}

// listAllRaw collects every matching row across pages. Pages are fetched
// strictly sequentially: each request depends on whether the previous page
// was full. Internal enumerations (relation resolution, cascading removal)
// go through here so a collection larger than one page is never silently
// truncated; removal callers collect the full set before deleting anything
// so pagination never shifts under them.
func (f *factory) listAllRaw(ctx context.Context, opts ListOptions) ([]domain.Row, error) {
	var out []domain.Row
	for page := 1; ; page++ {
		opts.Paginate = &domain.Paginate{Page: page, Count: DefaultCount}
		res, err := f.ListRaw(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Rows...)
		if len(res.Rows) < DefaultCount {
			return out, nil
		}
	}
}

// listAllRecords is listRecords over every page.
func listAllRecords[T any](ctx context.Context, f *factory, opts ListOptions, wrap func(domain.Row) T) ([]T, error) {
	rows, err := f.listAllRaw(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		out = append(out, wrap(row))
	}
	return out, nil
}

// Row value coercers. Snapshot-backed datastores round-trip rows through
// JSON, so values may come back as their decoded shapes.

func rowString(row domain.Row, field string) string {
	if v, ok := row[field].(string); ok {
		return v
	}
	return ""
}

func rowBool(row domain.Row, field string) bool {
	if v, ok := row[field].(bool); ok {
		return v
	}
	return false
}

func rowInt(row domain.Row, field string) int {
	switch v := row[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func rowTime(row domain.Row, field string) time.Time {
	switch v := row[field].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func rowMap(row domain.Row, field string) map[string]any {
	if v, ok := row[field].(map[string]any); ok {
		return v
	}
	return nil
}

func rowBoolMap(row domain.Row, field string) map[string]bool {
	switch v := row[field].(type) {
	case map[string]bool:
		return v
	case map[string]any:
		out := make(map[string]bool, len(v))
		for k, raw := range v {
			b, _ := raw.(bool)
			out[k] = b
		}
		return out
	}
	return nil
}

func rowStrings(row domain.Row, field string) []string {
	switch v := row[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
