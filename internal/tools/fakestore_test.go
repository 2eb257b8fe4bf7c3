package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jojopeligroso/MyCastle/internal/store"
)

// fakeStore is an in-memory store.Store for handler tests. Filters support
// the full operator vocabulary over scalar values; ordering understands the
// "column [DESC]" form the handlers use.
type fakeStore struct {
	tables map[string][]store.Row
	unique map[string]string
	now    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables: map[string][]store.Row{},
		unique: map[string]string{
			"certificate":   "certificate_number",
			"discount_code": "code",
			"visa_status":   "student_id",
		},
		now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) seed(table string, rows ...store.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		inserted, err := f.Insert(context.Background(), table, row)
		if err != nil {
			panic(err)
		}
		ids = append(ids, inserted["id"].(string))
	}
	return ids
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Insert(_ context.Context, table string, row store.Row) (store.Row, error) {
	clone := cloneRow(row)
	if _, ok := clone["id"]; !ok {
		clone["id"] = uuid.NewString()
	}
	if _, ok := clone["created_at"]; !ok {
		clone["created_at"] = f.now
	}

	if col, ok := f.unique[table]; ok {
		want := fmt.Sprint(clone[col])
		for _, existing := range f.tables[table] {
			if fmt.Sprint(existing[col]) == want {
				return nil, store.ErrConflict
			}
		}
	}

	f.tables[table] = append(f.tables[table], clone)
	return cloneRow(clone), nil
}

func (f *fakeStore) InsertMany(ctx context.Context, table string, rows []store.Row) (int, error) {
	for _, row := range rows {
		if _, err := f.Insert(ctx, table, row); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (f *fakeStore) Update(_ context.Context, table string, set store.Row, filters ...store.Filter) ([]store.Row, error) {
	var updated []store.Row
	for _, row := range f.tables[table] {
		if matchesAll(row, filters) {
			for k, v := range set {
				row[k] = v
			}
			updated = append(updated, cloneRow(row))
		}
	}
	return updated, nil
}

func (f *fakeStore) Select(_ context.Context, table string, q store.Query) ([]store.Row, error) {
	var out []store.Row
	for _, row := range f.tables[table] {
		if matchesAll(row, q.Filters) {
			out = append(out, cloneRow(row))
		}
	}
	applyOrder(out, q.OrderBy)
	if q.Offset > 0 {
		if int(q.Offset) >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && int(q.Limit) < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) SelectOne(ctx context.Context, table string, q store.Query) (store.Row, error) {
	rows, err := f.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (f *fakeStore) Count(ctx context.Context, table string, filters ...store.Filter) (int, error) {
	rows, err := f.Select(ctx, table, store.Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (f *fakeStore) Delete(_ context.Context, table string, filters ...store.Filter) (int64, error) {
	kept := f.tables[table][:0]
	var deleted int64
	for _, row := range f.tables[table] {
		if matchesAll(row, filters) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	f.tables[table] = kept
	return deleted, nil
}

func matchesAll(row store.Row, filters []store.Filter) bool {
	for _, filter := range filters {
		if !matches(row, filter) {
			return false
		}
	}
	return true
}

func matches(row store.Row, filter store.Filter) bool {
	value, present := row[filter.Column]

	switch filter.Op {
	case store.OpEq:
		return present && equalValues(value, filter.Value)
	case store.OpNeq:
		return !present || !equalValues(value, filter.Value)
	case store.OpIn:
		if !present {
			return false
		}
		var items []any
		switch typed := filter.Value.(type) {
		case []any:
			items = typed
		case []string:
			for _, s := range typed {
				items = append(items, s)
			}
		}
		for _, item := range items {
			if equalValues(value, item) {
				return true
			}
		}
		return false
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		if !present {
			return false
		}
		cmp, ok := compareValues(value, filter.Value)
		if !ok {
			return false
		}
		switch filter.Op {
		case store.OpGt:
			return cmp > 0
		case store.OpGte:
			return cmp >= 0
		case store.OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case store.OpLike:
		pattern, _ := filter.Value.(string)
		text, _ := value.(string)
		return strings.Contains(text, strings.Trim(pattern, "%"))
	case store.OpIsNull:
		return !present || value == nil
	case store.OpNotNull:
		return present && value != nil
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders two values: numerically when both parse as numbers,
// chronologically when either is a time, lexically otherwise.
func compareValues(a, b any) (int, bool) {
	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		f, err := strconv.ParseFloat(typed, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed, true
	case string:
		if t, err := time.Parse(time.RFC3339, typed); err == nil {
			return t, true
		}
		if t, err := time.Parse(dateLayout, typed); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func applyOrder(rows []store.Row, orderBy []string) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, clause := range orderBy {
			column, dir, _ := strings.Cut(clause, " ")
			desc := strings.EqualFold(strings.TrimSpace(dir), "DESC")
			cmp, _ := compareValues(rows[i][column], rows[j][column])
			if cmp == 0 {
				continue
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func cloneRow(row store.Row) store.Row {
	clone := make(store.Row, len(row))
	for k, v := range row {
		clone[k] = v
	}
	return clone
}
