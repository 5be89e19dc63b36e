package query

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// FilterKind tags the operand shape of a Filter.
type FilterKind string

const (
	FilterID        FilterKind = "id"
	FilterText      FilterKind = "text"
	FilterCondition FilterKind = "condition"
	FilterNumber    FilterKind = "number"
	FilterDate      FilterKind = "date"
)

var filterKinds = map[FilterKind]Kind{
	FilterID:        KindID,
	FilterText:      KindText,
	FilterCondition: KindBool,
	FilterNumber:    KindNumber,
	FilterDate:      KindDate,
}

// Filter is a tagged filter descriptor. Value holds the operand whose shape
// depends on Kind:
//
//	id        "uuid" or ["uuid", ...]
//	text      "substring"
//	condition true | false
//	number    {"equalTo": n} or any of greaterThan/greaterOrEqualThan with lowerThan/lowerOrEqualThan
//	date      {"from": RFC3339, "to": RFC3339}
type Filter struct {
	Kind  FilterKind      `json:"kind" validate:"required"`
	Field string          `json:"field" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

// NumberOperands are the comparison bounds of a number filter.
type NumberOperands struct {
	EqualTo            *float64 `json:"equalTo,omitempty"`
	GreaterThan        *float64 `json:"greaterThan,omitempty"`
	GreaterOrEqualThan *float64 `json:"greaterOrEqualThan,omitempty"`
	LowerThan          *float64 `json:"lowerThan,omitempty"`
	LowerOrEqualThan   *float64 `json:"lowerOrEqualThan,omitempty"`
}

// DateRange bounds a date filter. Either side may be omitted.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Op is a comparison operator in a compiled condition.
type Op string

const (
	OpEq       Op = "="
	OpIn       Op = "IN"
	OpContains Op = "CONTAINS"
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpLt       Op = "<"
	OpLte      Op = "<="
)

// Cond is one compiled predicate over a column. A query's conditions are
// combined with AND.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Compile validates every filter against the schema and compiles them. Any
// invalid descriptor fails the whole list, so nothing is partially applied.
func Compile(schema *Schema, filters []Filter) ([]Cond, error) {
	conds := make([]Cond, 0, len(filters))
	for i, f := range filters {
		compiled, err := compileFilter(schema, f)
		if err != nil {
			return nil, shared.BadRequest("filters[%d]: %v", i, err)
		}
		conds = append(conds, compiled...)
	}
	return conds, nil
}

func compileFilter(schema *Schema, f Filter) ([]Cond, error) {
	kind, ok := filterKinds[f.Kind]
	if !ok {
		return nil, shared.BadRequest("unsupported filter kind %q", f.Kind)
	}
	field, ok := schema.Field(f.Field)
	if !ok || !field.Filterable {
		return nil, shared.BadRequest("field %q is not filterable on %s; expected one of %s",
			f.Field, schema.Resource, strings.Join(schema.Filterable(), ", "))
	}
	if field.Kind != kind {
		return nil, shared.BadRequest("field %q takes a %s filter, got %s", f.Field, field.Kind, f.Kind)
	}
	if len(bytes.TrimSpace(f.Value)) == 0 || bytes.Equal(bytes.TrimSpace(f.Value), []byte("null")) {
		return nil, shared.BadRequest("filter on %q requires a value", f.Field)
	}

	switch kind {
	case KindID:
		return compileIDs(field, f.Value)
	case KindText:
		var text string
		if err := strictUnmarshal(f.Value, &text); err != nil {
			return nil, shared.BadRequest("text filter on %q expects a string", f.Field)
		}
		// Case-insensitive contains, deliberately looser than equality.
		return []Cond{{Column: field.Column, Op: OpContains, Value: text}}, nil
	case KindBool:
		var b bool
		if err := strictUnmarshal(f.Value, &b); err != nil {
			return nil, shared.BadRequest("condition filter on %q expects a boolean", f.Field)
		}
		return []Cond{{Column: field.Column, Op: OpEq, Value: b}}, nil
	case KindNumber:
		var ops NumberOperands
		if err := strictUnmarshal(f.Value, &ops); err != nil {
			return nil, shared.BadRequest("number filter on %q: %v", f.Field, err)
		}
		return compileNumber(field, ops)
	case KindDate:
		var rng DateRange
		if err := strictUnmarshal(f.Value, &rng); err != nil {
			return nil, shared.BadRequest("date filter on %q: %v", f.Field, err)
		}
		return compileDate(field, rng)
	}
	return nil, shared.BadRequest("unsupported filter kind %q", f.Kind)
}

func compileIDs(field Field, raw json.RawMessage) ([]Cond, error) {
	var ids []string
	var single string
	if err := strictUnmarshal(raw, &single); err == nil {
		ids = []string{single}
	} else if err := strictUnmarshal(raw, &ids); err != nil {
		return nil, shared.BadRequest("id filter on %q expects an id or a list of ids", field.Name)
	}
	if len(ids) == 0 {
		return nil, shared.BadRequest("id filter on %q requires at least one id", field.Name)
	}
	normalized := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, shared.BadRequest("%q is not a valid id", raw)
		}
		normalized = append(normalized, id.String())
	}
	if len(normalized) == 1 {
		return []Cond{{Column: field.Column, Op: OpEq, Value: normalized[0]}}, nil
	}
	return []Cond{{Column: field.Column, Op: OpIn, Value: normalized}}, nil
}

func compileNumber(field Field, ops NumberOperands) ([]Cond, error) {
	if field.Integer {
		for _, v := range []*float64{ops.EqualTo, ops.GreaterThan, ops.GreaterOrEqualThan, ops.LowerThan, ops.LowerOrEqualThan} {
			if v != nil && (*v != math.Trunc(*v) || math.Abs(*v) > 1<<53) {
				return nil, shared.BadRequest("number filter on %q expects whole numbers, got %v", field.Name, *v)
			}
		}
	}
	if ops.EqualTo != nil {
		if ops.GreaterThan != nil || ops.GreaterOrEqualThan != nil || ops.LowerThan != nil || ops.LowerOrEqualThan != nil {
			return nil, shared.BadRequest("number filter on %q: equalTo cannot be combined with other operators", field.Name)
		}
		return []Cond{{Column: field.Column, Op: OpEq, Value: *ops.EqualTo}}, nil
	}
	if ops.GreaterThan != nil && ops.GreaterOrEqualThan != nil {
		return nil, shared.BadRequest("number filter on %q: greaterThan and greaterOrEqualThan are mutually exclusive", field.Name)
	}
	if ops.LowerThan != nil && ops.LowerOrEqualThan != nil {
		return nil, shared.BadRequest("number filter on %q: lowerThan and lowerOrEqualThan are mutually exclusive", field.Name)
	}
	var conds []Cond
	switch {
	case ops.GreaterThan != nil:
		conds = append(conds, Cond{Column: field.Column, Op: OpGt, Value: *ops.GreaterThan})
	case ops.GreaterOrEqualThan != nil:
		conds = append(conds, Cond{Column: field.Column, Op: OpGte, Value: *ops.GreaterOrEqualThan})
	}
	switch {
	case ops.LowerThan != nil:
		conds = append(conds, Cond{Column: field.Column, Op: OpLt, Value: *ops.LowerThan})
	case ops.LowerOrEqualThan != nil:
		conds = append(conds, Cond{Column: field.Column, Op: OpLte, Value: *ops.LowerOrEqualThan})
	}
	if len(conds) == 0 {
		return nil, shared.BadRequest("number filter on %q requires an operator", field.Name)
	}
	return conds, nil
}

// compileDate builds [from, to): from is inclusive, to exclusive, and a
// missing bound leaves that side open.
func compileDate(field Field, rng DateRange) ([]Cond, error) {
	if rng.From == nil && rng.To == nil {
		return nil, shared.BadRequest("date filter on %q requires from or to", field.Name)
	}
	if rng.From != nil && rng.To != nil && !rng.From.Before(*rng.To) {
		return nil, shared.BadRequest("date filter on %q: from must be strictly before to", field.Name)
	}
	var conds []Cond
	if rng.From != nil {
		conds = append(conds, Cond{Column: field.Column, Op: OpGte, Value: rng.From.UTC()})
	}
	if rng.To != nil {
		conds = append(conds, Cond{Column: field.Column, Op: OpLt, Value: rng.To.UTC()})
	}
	return conds, nil
}

func strictUnmarshal(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
