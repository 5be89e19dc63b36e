package users

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// User is a principal account.
type User struct {
	ID                      uuid.UUID   `json:"id"`
	Email                   string      `json:"email"`
	FirstName               string      `json:"firstName"`
	LastName                string      `json:"lastName"`
	RoleID                  uuid.UUID   `json:"role"`
	PermissionIDs           []uuid.UUID `json:"permissions"`
	Verified                bool        `json:"verified"`
	TokenVersion            int         `json:"tokenVersion"`
	PasswordRecoveryVersion int         `json:"-"`
	PasswordHash            string      `json:"-"`
	shared.AuditFields
}

// CreateUserInput is the payload of createUser.
type CreateUserInput struct {
	Email       string      `json:"email" validate:"required,email,max=254"`
	Password    string      `json:"password" validate:"required,min=8,max=72"`
	FirstName   string      `json:"firstName" validate:"required,max=100"`
	LastName    string      `json:"lastName" validate:"max=100"`
	RoleID      *uuid.UUID  `json:"role"`
	Permissions []uuid.UUID `json:"permissions"`
}

// UpdateUserInput is the payload of updateUser. Nil fields are left
// untouched; an empty permission list clears the direct permissions.
type UpdateUserInput struct {
	FirstName   *string      `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName    *string      `json:"lastName" validate:"omitempty,max=100"`
	RoleID      *uuid.UUID   `json:"role"`
	Permissions *[]uuid.UUID `json:"permissions"`
}

// SignUpInput is the payload of the public sign-up flow.
type SignUpInput struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	FirstName       string `json:"firstName" validate:"required,max=100"`
	LastName        string `json:"lastName" validate:"max=100"`
}
