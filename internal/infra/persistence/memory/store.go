// Package memory provides the in-memory datastore engine implementing the
// full table-scoped scan contract. The sqlite and postgres stores embed it
// and add snapshot persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipelinecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Datastore = (*Store)(nil)

// Store holds tables as ordered row maps guarded by a single lock.
type Store struct {
	mu     sync.RWMutex
	tables map[domain.Table]*table
	newID  func() string
}

type table struct {
	rows  map[string]domain.Row
	order []string
}

// NewStore constructs an empty in-memory datastore.
func NewStore() *Store {
	return &Store{
		tables: make(map[domain.Table]*table),
		newID:  uuid.NewString,
	}
}

// SetIDFunc overrides storage-assigned identity generation, for tests.
func (s *Store) SetIDFunc(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newID = fn
}

func (s *Store) table(name domain.Table) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[string]domain.Row)}
		s.tables[name] = t
	}
	return t
}

// Get returns the row matching the identity or the partial-field params.
// No match is (nil, nil). A lookup with neither an identity nor params is
// underspecified and matches nothing rather than an arbitrary row.
func (s *Store) Get(ctx context.Context, req domain.GetRequest) (domain.Row, error) {
	if req.ID == "" && len(req.Params) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[req.Table]
	if !ok {
		return nil, nil
	}
	if req.ID != "" {
		row, ok := t.rows[req.ID]
		if !ok {
			return nil, nil
		}
		return cloneRow(row), nil
	}
	for _, id := range t.order {
		if matchesParams(t.rows[id], req.Params) {
			return cloneRow(t.rows[id]), nil
		}
	}
	return nil, nil
}

// Save creates a row. An empty request ID gets a storage-assigned identity.
func (s *Store) Save(ctx context.Context, req domain.SaveRequest) (domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(req.Table)
	id := req.ID
	if id == "" {
		id = s.newID()
	}
	if _, exists := t.rows[id]; exists {
		return nil, fmt.Errorf("record %s already exists in %s", id, req.Table)
	}
	row := cloneRow(req.Data)
	row["id"] = id
	t.rows[id] = row
	t.order = append(t.order, id)
	return cloneRow(row), nil
}

// Update merges fields into an existing row. The identity field is immutable.
func (s *Store) Update(ctx context.Context, req domain.UpdateRequest) (domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[req.Table]
	if !ok {
		return nil, fmt.Errorf("record %s not found in %s", req.ID, req.Table)
	}
	row, ok := t.rows[req.ID]
	if !ok {
		return nil, fmt.Errorf("record %s not found in %s", req.ID, req.Table)
	}
	for k, v := range req.Data {
		if k == "id" {
			continue
		}
		row[k] = cloneValue(v)
	}
	return cloneRow(row), nil
}

// Remove deletes a row. Removing an absent row is a no-op.
func (s *Store) Remove(ctx context.Context, req domain.RemoveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[req.Table]
	if !ok {
		return nil
	}
	if _, ok := t.rows[req.ID]; !ok {
		return nil
	}
	delete(t.rows, req.ID)
	for i, id := range t.order {
		if id == req.ID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Scan enumerates a table applying filters, search, time range, grouping,
// sorting and pagination, in that order.
func (s *Store) Scan(ctx context.Context, req domain.ScanRequest) (domain.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[req.Table]
	if !ok {
		return domain.ScanResult{Rows: []domain.Row{}}, nil
	}

	matched := make([]domain.Row, 0, len(t.order))
	for _, id := range t.order {
		row := t.rows[id]
		if !matchesParams(row, req.Params) {
			continue
		}
		if !matchesSearch(row, req.Search) {
			continue
		}
		if !matchesTimeRange(row, req) {
			continue
		}
		matched = append(matched, cloneRow(row))
	}

	if len(req.GroupBy) > 0 {
		matched = groupRows(matched, req.GroupBy)
	}

	sortRows(matched, req.SortBy, req.Sort)
	count := len(matched)

	if req.Paginate != nil && req.Paginate.Count > 0 {
		start := (req.Paginate.Page - 1) * req.Paginate.Count
		if start < 0 {
			start = 0
		}
		if start > len(matched) {
			start = len(matched)
		}
		end := start + req.Paginate.Count
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}

	for i, row := range matched {
		matched[i] = excludeFields(row, req.Exclude)
	}

	res := domain.ScanResult{Rows: matched}
	if req.GetCount {
		res.Count = count
	}
	return res, nil
}

// Query is unsupported by the in-memory driver: there is no SQL surface to
// dispatch raw queries against.
func (s *Store) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	return nil, domain.ErrUnsupported
}

// Snapshot is a serializable copy of the full store state, rows in
// insertion order per table.
type Snapshot map[string][]domain.Row

// ExportState copies the current state for snapshot persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.tables))
	for name, t := range s.tables {
		rows := make([]domain.Row, 0, len(t.order))
		for _, id := range t.order {
			rows = append(rows, cloneRow(t.rows[id]))
		}
		out[string(name)] = rows
	}
	return out
}

// ImportState replaces the store state from a snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[domain.Table]*table, len(snapshot))
	for name, rows := range snapshot {
		t := &table{rows: make(map[string]domain.Row, len(rows))}
		for _, row := range rows {
			id, _ := row["id"].(string)
			if id == "" {
				continue
			}
			t.rows[id] = cloneRow(row)
			t.order = append(t.order, id)
		}
		s.tables[domain.Table(name)] = t
	}
}

// --- matching helpers ---

// canon renders a value in a stable comparable form. Numbers collapse to
// their base-10 text so JSON round-trips (int -> float64) keep matching.
func canon(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func matchesParams(row domain.Row, params domain.Row) bool {
	for field, want := range params {
		got := canon(row[field])
		switch w := want.(type) {
		case []string:
			if !containsCanon(got, len(w), func(i int) any { return w[i] }) {
				return false
			}
		case []any:
			if !containsCanon(got, len(w), func(i int) any { return w[i] }) {
				return false
			}
		default:
			if got != canon(want) {
				return false
			}
		}
	}
	return true
}

func containsCanon(got string, n int, at func(int) any) bool {
	for i := 0; i < n; i++ {
		if canon(at(i)) == got {
			return true
		}
	}
	return false
}

func matchesSearch(row domain.Row, search *domain.Search) bool {
	if search == nil || search.Keyword == "" {
		return true
	}
	keyword := strings.ToLower(search.Keyword)
	for _, field := range search.Fields {
		if strings.Contains(strings.ToLower(canon(row[field])), keyword) {
			return true
		}
	}
	return false
}

func rowTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func matchesTimeRange(row domain.Row, req domain.ScanRequest) bool {
	if req.StartTime.IsZero() && req.EndTime.IsZero() {
		return true
	}
	key := req.TimeKey
	if key == "" {
		key = "createTime"
	}
	t, ok := rowTime(row[key])
	if !ok {
		return false
	}
	if !req.StartTime.IsZero() && t.Before(req.StartTime) {
		return false
	}
	if !req.EndTime.IsZero() && t.After(req.EndTime) {
		return false
	}
	return true
}

// groupRows projects rows onto the grouped fields, one row per distinct
// combination, preserving first-seen order.
func groupRows(rows []domain.Row, fields []string) []domain.Row {
	seen := make(map[string]bool)
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		key := make([]string, len(fields))
		projected := make(domain.Row, len(fields))
		for i, f := range fields {
			key[i] = canon(row[f])
			projected[f] = row[f]
		}
		k := strings.Join(key, "\x00")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, projected)
	}
	return out
}

func sortRows(rows []domain.Row, sortBy string, order domain.SortOrder) {
	if sortBy == "" {
		sortBy = "id"
	}
	sort.SliceStable(rows, func(i, j int) bool {
		less := compareValues(rows[i][sortBy], rows[j][sortBy])
		if order == domain.SortDescending {
			return !less && compareValues(rows[j][sortBy], rows[i][sortBy])
		}
		return less
	})
}

// compareValues orders numerically when both sides parse as numbers, else
// by canonical string.
func compareValues(a, b any) bool {
	ca, cb := canon(a), canon(b)
	fa, errA := strconv.ParseFloat(ca, 64)
	fb, errB := strconv.ParseFloat(cb, 64)
	if errA == nil && errB == nil {
		return fa < fb
	}
	return ca < cb
}

func excludeFields(row domain.Row, exclude []string) domain.Row {
	if len(exclude) == 0 {
		return row
	}
	for _, f := range exclude {
		delete(row, f)
	}
	return row
}

// --- cloning ---

func cloneRow(row domain.Row) domain.Row {
	out := make(domain.Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case domain.Row:
		return cloneRow(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case map[string]bool:
		out := make(map[string]bool, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
