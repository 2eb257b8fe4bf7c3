// Package store provides PostgreSQL persistence behind a generic table
// gateway: dynamic row maps with a structured filter vocabulary.
package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates no row matched the query.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a unique constraint violation.
var ErrConflict = errors.New("conflict")

// Row is one table row keyed by column name.
type Row = map[string]any

// Store is the persistence contract the domain servers depend on.
type Store interface {
	// Ping checks DB connectivity for readiness probes.
	Ping(ctx context.Context) error

	Insert(ctx context.Context, table string, row Row) (Row, error)
	InsertMany(ctx context.Context, table string, rows []Row) (int, error)
	Update(ctx context.Context, table string, set Row, filters ...Filter) ([]Row, error)
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	SelectOne(ctx context.Context, table string, q Query) (Row, error)
	Count(ctx context.Context, table string, filters ...Filter) (int, error)
	Delete(ctx context.Context, table string, filters ...Filter) (int64, error)
}

// Query shapes a Select.
type Query struct {
	Columns []string
	Filters []Filter
	OrderBy []string
	Limit   uint64
	Offset  uint64
}

// Filter operators.
const (
	OpEq      = "eq"
	OpNeq     = "neq"
	OpGt      = "gt"
	OpGte     = "gte"
	OpLt      = "lt"
	OpLte     = "lte"
	OpIn      = "in"
	OpLike    = "like"
	OpIsNull  = "is_null"
	OpNotNull = "not_null"
)

// Filter is one WHERE predicate.
type Filter struct {
	Column string
	Op     string
	Value  any
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Neq matches rows where column differs from value.
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }

// Gt matches rows where column is greater than value.
func Gt(column string, value any) Filter { return Filter{Column: column, Op: OpGt, Value: value} }

// Gte matches rows where column is at least value.
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }

// Lt matches rows where column is less than value.
func Lt(column string, value any) Filter { return Filter{Column: column, Op: OpLt, Value: value} }

// Lte matches rows where column is at most value.
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }

// In matches rows where column is one of values.
func In(column string, values any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// Like matches rows where column matches the SQL pattern.
func Like(column string, pattern string) Filter {
	return Filter{Column: column, Op: OpLike, Value: pattern}
}

// IsNull matches rows where column is NULL.
func IsNull(column string) Filter { return Filter{Column: column, Op: OpIsNull} }

// NotNull matches rows where column is not NULL.
func NotNull(column string) Filter { return Filter{Column: column, Op: OpNotNull} }
