package query

import (
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Sort is a caller-supplied ordering descriptor.
type Sort struct {
	Field     string `json:"field" validate:"required"`
	Direction string `json:"direction"`
}

// Order is a compiled ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// CompileSort resolves sort descriptors against sortable fields. The id
// column is appended as a final tiebreak so paging is stable.
func CompileSort(schema *Schema, sorts []Sort) ([]Order, error) {
	orders := make([]Order, 0, len(sorts)+1)
	seen := make(map[string]struct{}, len(sorts))
	for i, s := range sorts {
		field, ok := schema.Field(s.Field)
		if !ok || !field.Sortable {
			return nil, shared.BadRequest("sort[%d]: field %q is not sortable on %s; expected one of %s",
				i, s.Field, schema.Resource, strings.Join(schema.Sortable(), ", "))
		}
		desc, err := parseDirection(s.Direction)
		if err != nil {
			return nil, shared.BadRequest("sort[%d]: %v", i, err)
		}
		if _, dup := seen[field.Column]; dup {
			continue
		}
		seen[field.Column] = struct{}{}
		orders = append(orders, Order{Column: field.Column, Desc: desc})
	}
	if _, ok := seen[schema.IDColumn]; !ok {
		orders = append(orders, Order{Column: schema.IDColumn})
	}
	return orders, nil
}

func parseDirection(dir string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc", "ascending":
		return false, nil
	case "desc", "descending":
		return true, nil
	}
	return false, shared.BadRequest("direction %q must be ascending or descending", dir)
}
