package query

import (
	"fmt"
	"strings"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// WhereSQL renders conditions as a WHERE clause with $n placeholders starting
// at argPos. It returns an empty clause for no conditions.
func WhereSQL(conds []Cond, argPos int) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, c := range conds {
		switch c.Op {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
			parts = append(parts, fmt.Sprintf("%s %s $%d", c.Column, c.Op, argPos))
			args = append(args, c.Value)
		case OpIn:
			parts = append(parts, fmt.Sprintf("%s = ANY($%d::uuid[])", c.Column, argPos))
			args = append(args, c.Value)
		case OpContains:
			text, _ := c.Value.(string)
			parts = append(parts, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, c.Column, argPos))
			args = append(args, "%"+likeEscaper.Replace(text)+"%")
		default:
			return "", nil, fmt.Errorf("query: unsupported operator %q", c.Op)
		}
		argPos++
	}
	return "WHERE " + strings.Join(parts, " AND "), args, nil
}

// OrderSQL renders an ORDER BY clause.
func OrderSQL(orders []Order) string {
	if len(orders) == 0 {
		return ""
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, o.Column+" "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}
