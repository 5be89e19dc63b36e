package rbac

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// RoleKind tags the two roles the system relies on.
type RoleKind string

const (
	RoleKindNone  RoleKind = "none"
	RoleKindAdmin RoleKind = "admin"
	RoleKindBase  RoleKind = "base"
)

// Protected reports whether roles of this kind may never be deleted.
func (k RoleKind) Protected() bool {
	return k == RoleKindAdmin || k == RoleKindBase
}

// Permission represents an atomic capability.
type Permission struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	shared.AuditFields
}

// Principal is the gate's view of an authenticated actor.
type Principal struct {
	ID            uuid.UUID
	RoleID        uuid.UUID
	PermissionIDs []uuid.UUID
	TokenVersion  int
}
