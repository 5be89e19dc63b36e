package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Access is what the authorization gate publishes for downstream handlers:
// the acting principal and its resolved permission names.
type Access struct {
	PrincipalID uuid.UUID
	Permissions map[string]struct{}
	// Bootstrap is set while no principal exists yet; every check passes.
	Bootstrap bool
}

// Authenticated reports whether a principal is attached.
func (a Access) Authenticated() bool {
	return a.PrincipalID != uuid.Nil
}

// Has reports whether the caller holds perm.
func (a Access) Has(perm string) bool {
	if a.Bootstrap {
		return true
	}
	_, ok := a.Permissions[perm]
	return ok
}

// Owns reports whether a record created by createdBy belongs to the caller.
func (a Access) Owns(createdBy uuid.NullUUID) bool {
	return a.Authenticated() && createdBy.Valid && createdBy.UUID == a.PrincipalID
}

// CanActOn reports whether the caller may touch a record created by
// createdBy: either through the global permission or by owning it.
func (a Access) CanActOn(globalPerm string, createdBy uuid.NullUUID) bool {
	return a.Has(globalPerm) || a.Owns(createdBy)
}

// Actor returns the principal id to stamp into audit fields.
func (a Access) Actor() uuid.NullUUID {
	if !a.Authenticated() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: a.PrincipalID, Valid: true}
}

type accessContextKey struct{}

// ContextWithAccess stores the access descriptor in context.
func ContextWithAccess(ctx context.Context, access Access) context.Context {
	return context.WithValue(ctx, accessContextKey{}, access)
}

// AccessFromContext extracts the access descriptor from context.
func AccessFromContext(ctx context.Context) Access {
	access, _ := ctx.Value(accessContextKey{}).(Access)
	return access
}

// UUIDStrings renders ids for array parameters.
func UUIDStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// BoundStore limits ctx to d for one unit of store work. A non-positive d
// leaves ctx untouched.
func BoundStore(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
