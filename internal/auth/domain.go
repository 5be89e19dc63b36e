package auth

import (
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// LoginInput carries credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshInput carries a refresh token.
type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// HashInput carries a single-purpose hash from an emailed link.
type HashInput struct {
	Hash string `json:"hash" validate:"required"`
}

// EmailInput names an account by address.
type EmailInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordInput completes a password reset.
type ResetPasswordInput struct {
	Hash            string `json:"hash" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// Session is the credential pair handed out on login.
type Session struct {
	AccessToken  token.Token  `json:"accessToken"`
	RefreshToken *token.Token `json:"refreshToken,omitempty"`
	User         users.User   `json:"user"`
}

// Operations are the descriptors of the account endpoints. Me and LogoutAll
// need a valid token but no permission.
var Operations = struct {
	Login                rbac.Operation
	Refresh              rbac.Operation
	SignUp               rbac.Operation
	VerifyEmail          rbac.Operation
	ResendVerification   rbac.Operation
	RequestPasswordReset rbac.Operation
	ResetPassword        rbac.Operation
	Me                   rbac.Operation
	LogoutAll            rbac.Operation
}{
	Login:                rbac.PublicOperation("login"),
	Refresh:              rbac.PublicOperation("refreshToken"),
	SignUp:               rbac.PublicOperation("signUp"),
	VerifyEmail:          rbac.PublicOperation("verifyEmail"),
	ResendVerification:   rbac.PublicOperation("resendEmailVerification"),
	RequestPasswordReset: rbac.PublicOperation("requestPasswordReset"),
	ResetPassword:        rbac.PublicOperation("resetPassword"),
	Me:                   rbac.NewOperation("me", rbac.Strict),
	LogoutAll:            rbac.NewOperation("logoutAll", rbac.Strict),
}
