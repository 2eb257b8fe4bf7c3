package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pqUniqueViolation = "23505"

// Gateway implements Store against PostgreSQL using squirrel with
// dollar-sign placeholders.
type Gateway struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewGateway creates a table gateway over the given database connection.
func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping verifies that the database connection is alive.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Insert adds one row and returns it as stored.
func (g *Gateway) Insert(ctx context.Context, table string, row Row) (Row, error) {
	columns, values, err := splitRow(row)
	if err != nil {
		return nil, fmt.Errorf("preparing insert into %s: %w", table, err)
	}

	sqlStr, args, err := g.sb.
		Insert(table).
		Columns(columns...).
		Values(values...).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}

	rows, err := g.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		if isPQUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	defer rows.Close()

	stored, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning inserted row: %w", err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", table)
	}
	return stored[0], nil
}

// InsertMany adds rows in a single transaction and returns the count.
func (g *Gateway) InsertMany(ctx context.Context, table string, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, row := range rows {
		columns, values, err := splitRow(row)
		if err != nil {
			return 0, fmt.Errorf("preparing insert into %s: %w", table, err)
		}
		sqlStr, args, err := g.sb.Insert(table).Columns(columns...).Values(values...).ToSql()
		if err != nil {
			return 0, fmt.Errorf("building insert query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			if isPQUniqueViolation(err) {
				return 0, ErrConflict
			}
			return 0, fmt.Errorf("inserting into %s: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing inserts: %w", err)
	}
	return inserted, nil
}

// Update modifies matching rows and returns them as stored.
func (g *Gateway) Update(ctx context.Context, table string, set Row, filters ...Filter) ([]Row, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("update of %s has no columns to set", table)
	}

	query := g.sb.Update(table)
	for _, column := range sortedColumns(set) {
		value, err := toDBValue(set[column])
		if err != nil {
			return nil, fmt.Errorf("preparing update of %s: %w", table, err)
		}
		query = query.Set(column, value)
	}

	query, err := applyUpdateFilters(query, filters)
	if err != nil {
		return nil, err
	}

	sqlStr, args, err := query.Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update query: %w", err)
	}

	rows, err := g.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		if isPQUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("updating %s: %w", table, err)
	}
	defer rows.Close()

	updated, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning updated rows: %w", err)
	}
	return updated, nil
}

// Select retrieves matching rows.
func (g *Gateway) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	columns := q.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}

	query := g.sb.Select(columns...).From(table)
	for _, filter := range q.Filters {
		pred, err := filter.sqlizer()
		if err != nil {
			return nil, fmt.Errorf("building query for %s: %w", table, err)
		}
		query = query.Where(pred)
	}
	if len(q.OrderBy) > 0 {
		query = query.OrderBy(q.OrderBy...)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	rows, err := g.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning rows from %s: %w", table, err)
	}
	return result, nil
}

// SelectOne retrieves exactly one matching row or ErrNotFound.
func (g *Gateway) SelectOne(ctx context.Context, table string, q Query) (Row, error) {
	q.Limit = 1
	rows, err := g.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// Count returns the number of matching rows.
func (g *Gateway) Count(ctx context.Context, table string, filters ...Filter) (int, error) {
	query := g.sb.Select("COUNT(*)").From(table)
	for _, filter := range filters {
		pred, err := filter.sqlizer()
		if err != nil {
			return 0, fmt.Errorf("building count query for %s: %w", table, err)
		}
		query = query.Where(pred)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var total int
	if err := g.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return total, nil
}

// Delete removes matching rows and returns the count. Filters are required
// so a bug cannot empty a table.
func (g *Gateway) Delete(ctx context.Context, table string, filters ...Filter) (int64, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete from %s requires at least one filter", table)
	}

	query := g.sb.Delete(table)
	for _, filter := range filters {
		pred, err := filter.sqlizer()
		if err != nil {
			return 0, fmt.Errorf("building delete query for %s: %w", table, err)
		}
		query = query.Where(pred)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete query: %w", err)
	}

	result, err := g.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}

func (f Filter) sqlizer() (sq.Sqlizer, error) {
	switch f.Op {
	case OpEq, OpIn:
		return sq.Eq{f.Column: f.Value}, nil
	case OpNeq:
		return sq.NotEq{f.Column: f.Value}, nil
	case OpGt:
		return sq.Gt{f.Column: f.Value}, nil
	case OpGte:
		return sq.GtOrEq{f.Column: f.Value}, nil
	case OpLt:
		return sq.Lt{f.Column: f.Value}, nil
	case OpLte:
		return sq.LtOrEq{f.Column: f.Value}, nil
	case OpLike:
		return sq.Like{f.Column: f.Value}, nil
	case OpIsNull:
		return sq.Eq{f.Column: nil}, nil
	case OpNotNull:
		return sq.NotEq{f.Column: nil}, nil
	default:
		return nil, fmt.Errorf("unknown filter op %q", f.Op)
	}
}

func applyUpdateFilters(query sq.UpdateBuilder, filters []Filter) (sq.UpdateBuilder, error) {
	for _, filter := range filters {
		pred, err := filter.sqlizer()
		if err != nil {
			return query, fmt.Errorf("building update filter: %w", err)
		}
		query = query.Where(pred)
	}
	return query, nil
}

func sortedColumns(row Row) []string {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func splitRow(row Row) ([]string, []any, error) {
	if len(row) == 0 {
		return nil, nil, fmt.Errorf("row has no columns")
	}
	columns := sortedColumns(row)
	values := make([]any, 0, len(columns))
	for _, column := range columns {
		value, err := toDBValue(row[column])
		if err != nil {
			return nil, nil, err
		}
		values = append(values, value)
	}
	return columns, values, nil
}

// toDBValue converts structured values to jsonb bytes; scalars pass through.
func toDBValue(value any) (any, error) {
	switch value.(type) {
	case nil, string, []byte, bool, int, int32, int64, float32, float64, time.Time, *time.Time:
		return value, nil
	case []string:
		return pq.Array(value), nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding value as jsonb: %w", err)
		}
		return encoded, nil
	}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		result = []Row{}
	}
	return result, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return value
	}
}

// isPQUniqueViolation checks whether the error is a PostgreSQL unique
// constraint violation (error code 23505).
func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
