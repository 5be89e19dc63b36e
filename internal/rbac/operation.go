package rbac

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Mode selects how an operation's required permissions are matched.
type Mode int

const (
	// Strict requires every listed permission.
	Strict Mode = iota
	// Lenient requires at least one listed permission.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// Operation declares the authorization requirement of one API operation.
type Operation struct {
	Name        string
	Permissions []string
	Mode        Mode
	// Public operations skip authentication entirely.
	Public bool
}

// NewOperation builds a descriptor with normalized permission names.
func NewOperation(name string, mode Mode, perms ...string) Operation {
	return Operation{Name: name, Permissions: normalizePermissions(perms), Mode: mode}
}

// PublicOperation builds a descriptor that needs no credentials.
func PublicOperation(name string) Operation {
	return Operation{Name: name, Public: true}
}

// Allows reports whether granted satisfies the requirement. An empty
// requirement always passes.
func (op Operation) Allows(granted map[string]struct{}) bool {
	if op.Mode == Lenient {
		return hasAnyPermission(granted, op.Permissions)
	}
	return hasAllPermissions(granted, op.Permissions)
}

// ResourceOperations are the CRUD descriptors of one managed resource.
type ResourceOperations struct {
	ByID   Operation
	List   Operation
	Create Operation
	Update Operation
	Delete Operation
}

// CRUDOperations derives the standard descriptors for resource. Read, update
// and delete accept either the global permission or the ownership-scoped one;
// services narrow ownership-only callers to their own records.
func CRUDOperations(resource string) ResourceOperations {
	name := func(action string) string { return shared.PermissionName(action, resource) }
	return ResourceOperations{
		ByID:   NewOperation(resource+"ById", Lenient, name(shared.ActionReadAll), shared.PermReadOwned),
		List:   NewOperation(resource+"s", Lenient, name(shared.ActionReadAll), shared.PermReadOwned),
		Create: NewOperation("create"+title(resource), Strict, name(shared.ActionCreate)),
		Update: NewOperation("update"+title(resource), Lenient, name(shared.ActionUpdateAll), shared.PermUpdateOwned),
		Delete: NewOperation("delete"+title(resource)+"ById", Lenient, name(shared.ActionDeleteAll), shared.PermDeleteOwned),
	}
}

func title(s string) string {
	return cases.Title(language.Und, cases.NoLower).String(s)
}
