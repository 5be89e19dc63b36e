// Package query compiles caller-supplied filter, sort and page arguments into
// parameterised SQL against a per-resource field registry, and runs the
// resulting page against a Source.
package query

import (
	"fmt"
	"sort"
)

// Kind is the semantic type of an indexed field.
type Kind int

const (
	KindID Kind = iota + 1
	KindText
	KindBool
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindText:
		return "text"
	case KindBool:
		return "condition"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Field describes one indexed attribute of a resource.
type Field struct {
	Name       string
	Column     string
	Kind       Kind
	Filterable bool
	Sortable   bool
	// Integer restricts number operands to whole values.
	Integer bool
}

// Schema is the field registry of one resource type. It is built once at
// start-up and shared read-only between requests.
type Schema struct {
	Resource    string
	OwnerColumn string
	IDColumn    string
	fields      map[string]Field
}

// NewSchema registers fields for a resource. It panics on duplicate or
// incomplete definitions since schemas are static program data.
func NewSchema(resource string, fields ...Field) *Schema {
	s := &Schema{
		Resource:    resource,
		OwnerColumn: "created_by",
		IDColumn:    "id",
		fields:      make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" || f.Column == "" || f.Kind == 0 {
			panic(fmt.Sprintf("query: incomplete field %+v on %s", f, resource))
		}
		if _, dup := s.fields[f.Name]; dup {
			panic(fmt.Sprintf("query: duplicate field %q on %s", f.Name, resource))
		}
		s.fields[f.Name] = f
	}
	return s
}

// Field looks up a registered field by its public name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Filterable lists the public names accepted in filters, sorted.
func (s *Schema) Filterable() []string {
	return s.names(func(f Field) bool { return f.Filterable })
}

// Sortable lists the public names accepted in sorts, sorted.
func (s *Schema) Sortable() []string {
	return s.names(func(f Field) bool { return f.Sortable })
}

func (s *Schema) names(keep func(Field) bool) []string {
	out := make([]string, 0, len(s.fields))
	for name, f := range s.fields {
		if keep(f) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AuditFields returns the ownership fields shared by every managed resource.
func AuditFields() []Field {
	return []Field{
		{Name: "id", Column: "id", Kind: KindID, Filterable: true, Sortable: true},
		{Name: "createdBy", Column: "created_by", Kind: KindID, Filterable: true},
		{Name: "lastUpdatedBy", Column: "last_updated_by", Kind: KindID, Filterable: true},
		{Name: "createdAt", Column: "created_at", Kind: KindDate, Filterable: true, Sortable: true},
		{Name: "updatedAt", Column: "updated_at", Kind: KindDate, Filterable: true, Sortable: true},
	}
}
