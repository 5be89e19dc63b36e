// Package querytest provides an in-memory query.Source that evaluates
// compiled conditions the way the SQL renderer would.
package querytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/query"
)

// Source serves Docs, reading column values through Row.
type Source[T any] struct {
	Docs []T
	Row  func(T) map[string]any

	// Queries records every executed query for assertions.
	Queries []query.Query
}

// Count implements query.Source.
func (s *Source[T]) Count(_ context.Context, where []query.Cond) (int, error) {
	n := 0
	for _, doc := range s.Docs {
		ok, err := Match(s.Row(doc), where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Find implements query.Source.
func (s *Source[T]) Find(_ context.Context, q query.Query) ([]T, error) {
	s.Queries = append(s.Queries, q)
	var out []T
	for _, doc := range s.Docs {
		ok, err := Match(s.Row(doc), q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := s.Row(out[i]), s.Row(out[j])
		for _, o := range q.Order {
			c := compare(normalize(a[o.Column]), normalize(b[o.Column]))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if q.Offset >= len(out) {
		return []T{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Match reports whether row satisfies every condition.
func Match(row map[string]any, conds []query.Cond) (bool, error) {
	for _, c := range conds {
		v, ok := row[c.Column]
		if !ok {
			return false, fmt.Errorf("querytest: unknown column %q", c.Column)
		}
		got := normalize(v)
		switch c.Op {
		case query.OpEq:
			if got == nil || compare(got, normalize(c.Value)) != 0 {
				return false, nil
			}
		case query.OpIn:
			ids, _ := c.Value.([]string)
			found := false
			for _, id := range ids {
				if got != nil && compare(got, id) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case query.OpContains:
			s, _ := got.(string)
			text, _ := c.Value.(string)
			if !strings.Contains(strings.ToLower(s), strings.ToLower(text)) {
				return false, nil
			}
		case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
			if got == nil {
				return false, nil
			}
			cmp := compare(got, normalize(c.Value))
			if (c.Op == query.OpGt && cmp <= 0) || (c.Op == query.OpGte && cmp < 0) ||
				(c.Op == query.OpLt && cmp >= 0) || (c.Op == query.OpLte && cmp > 0) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("querytest: unsupported operator %q", c.Op)
		}
	}
	return true, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case uuid.NullUUID:
		if !x.Valid {
			return nil
		}
		return x.UUID.String()
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case time.Time:
		return x.UTC()
	}
	return v
}

func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case float64:
		y, _ := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}
