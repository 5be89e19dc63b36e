package roles

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Role groups permissions granted to every principal holding it.
type Role struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Kind          rbac.RoleKind `json:"kind"`
	PermissionIDs []uuid.UUID   `json:"permissions"`
	shared.AuditFields
}

// CreateRoleInput is the payload of createRole.
type CreateRoleInput struct {
	Name        string      `json:"name" validate:"required,max=100"`
	Description string      `json:"description" validate:"max=500"`
	Permissions []uuid.UUID `json:"permissions"`
}

// UpdateRoleInput is the payload of updateRole. Nil fields are left
// untouched; an empty permission list clears the role.
type UpdateRoleInput struct {
	Name        *string      `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string      `json:"description" validate:"omitempty,max=500"`
	Permissions *[]uuid.UUID `json:"permissions"`
}
