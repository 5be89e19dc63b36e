package query

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var validate = validator.New()

// Request carries the raw list arguments of a collection operation.
type Request struct {
	Page    int      `json:"page" validate:"gte=0"`
	PerPage *int     `json:"perPage"`
	Filters []Filter `json:"filters" validate:"dive"`
	Sort    []Sort   `json:"sort" validate:"dive"`
}

// Scope restricts a query to records owned by a principal.
type Scope struct {
	Restricted bool
	OwnerID    uuid.UUID
}

// Unscoped applies no ownership restriction.
var Unscoped = Scope{}

// OwnerScope restricts results to the caller's own records unless the caller
// holds readAll.
func OwnerScope(access shared.Access, readAll string) Scope {
	if access.Has(readAll) {
		return Unscoped
	}
	return Scope{Restricted: true, OwnerID: access.PrincipalID}
}

// Query is a compiled, executable page request.
type Query struct {
	Where  []Cond
	Order  []Order
	Limit  int
	Offset int
}

// Source executes compiled queries for one resource.
type Source[T any] interface {
	Count(ctx context.Context, where []Cond) (int, error)
	Find(ctx context.Context, q Query) ([]T, error)
}

// Page is one page of documents plus pagination metadata.
type Page[T any] struct {
	Docs []T `json:"docs"`
	shared.Pagination
}

// Build validates and compiles req against schema. Ownership scoping is
// appended after the caller's filters, so no filter can widen it.
func Build(schema *Schema, req Request, scope Scope) (Query, shared.Pagination, error) {
	if err := validate.Struct(req); err != nil {
		return Query{}, shared.Pagination{}, validationError(err)
	}
	page, perPage, err := shared.ValidatePage(req.Page, req.PerPage)
	if err != nil {
		return Query{}, shared.Pagination{}, err
	}
	where, err := Compile(schema, req.Filters)
	if err != nil {
		return Query{}, shared.Pagination{}, err
	}
	order, err := CompileSort(schema, req.Sort)
	if err != nil {
		return Query{}, shared.Pagination{}, err
	}
	if scope.Restricted {
		where = append(where, Cond{Column: schema.OwnerColumn, Op: OpEq, Value: scope.OwnerID.String()})
	}
	meta := shared.NewPagination(page, perPage, 0)
	return Query{Where: where, Order: order, Limit: perPage, Offset: meta.Offset()}, meta, nil
}

// Paginate compiles req and runs it against src.
func Paginate[T any](ctx context.Context, src Source[T], schema *Schema, req Request, scope Scope) (Page[T], error) {
	q, meta, err := Build(schema, req, scope)
	if err != nil {
		return Page[T]{}, err
	}
	total, err := src.Count(ctx, q.Where)
	if err != nil {
		return Page[T]{}, shared.Internal(err, "count "+schema.Resource+"s")
	}
	docs := []T{}
	if q.Offset < total {
		if docs, err = src.Find(ctx, q); err != nil {
			return Page[T]{}, shared.Internal(err, "list "+schema.Resource+"s")
		}
		if docs == nil {
			docs = []T{}
		}
	}
	return Page[T]{Docs: docs, Pagination: shared.NewPagination(meta.Page, meta.PerPage, total)}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.BadRequest("invalid list arguments: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return shared.BadRequest("invalid list arguments: %s", strings.Join(msgs, "; "))
}
