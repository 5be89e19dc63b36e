package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGSource runs compiled queries against a postgres table.
type PGSource[T any] struct {
	DB      Queryer
	Table   string
	Columns []string
	Scan    pgx.RowToFunc[T]
	// Hydrate loads associations for a fetched page, e.g. permission ids.
	Hydrate func(ctx context.Context, docs []T) error
}

// Count returns the number of rows matching where.
func (s PGSource[T]) Count(ctx context.Context, where []Cond) (int, error) {
	clause, args, err := WhereSQL(where, 1)
	if err != nil {
		return 0, err
	}
	var total int
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", s.Table, clause)
	if err := s.DB.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("query: count %s: %w", s.Table, err)
	}
	return total, nil
}

// Find returns one page of rows.
func (s PGSource[T]) Find(ctx context.Context, q Query) ([]T, error) {
	clause, args, err := WhereSQL(q.Where, 1)
	if err != nil {
		return nil, err
	}
	argPos := len(args) + 1
	sql := fmt.Sprintf("SELECT %s FROM %s %s %s LIMIT $%d OFFSET $%d",
		strings.Join(s.Columns, ", "), s.Table, clause, OrderSQL(q.Order), argPos, argPos+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: find %s: %w", s.Table, err)
	}
	docs, err := pgx.CollectRows(rows, s.Scan)
	if err != nil {
		return nil, fmt.Errorf("query: scan %s: %w", s.Table, err)
	}
	if s.Hydrate != nil && len(docs) > 0 {
		if err := s.Hydrate(ctx, docs); err != nil {
			return nil, err
		}
	}
	return docs, nil
}
