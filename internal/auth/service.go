package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Accounts is the principal store the flows operate on.
type Accounts interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	Find(ctx context.Context, id uuid.UUID) (users.User, error)
	SignUp(ctx context.Context, in users.SignUpInput) (users.User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (users.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, recoveryVersion int, password string) (users.User, error)
	RevokeTokens(ctx context.Context, id uuid.UUID) (users.User, error)
	SendVerification(ctx context.Context, u users.User)
}

// Tokens issues and verifies the credentials used by the flows.
type Tokens interface {
	IssueAccess(claims token.Claims) (token.Token, error)
	IssueRefresh(claims token.Claims) (token.Token, error)
	VerifyRefresh(raw string) (token.Claims, error)
	VerifyEmailVerification(raw string) (token.Claims, error)
	IssuePasswordReset(principalID uuid.UUID, recoveryVersion int) (token.Token, error)
	VerifyPasswordReset(raw string) (token.Claims, error)
}

// Service wraps authentication business rules.
type Service struct {
	accounts  Accounts
	tokens    Tokens
	mailer    mail.Dispatcher
	logger    *slog.Logger
	validator *validator.Validate
	publicURL string
}

// NewService constructs a new Service.
func NewService(accounts Accounts, tokens Tokens, mailer mail.Dispatcher, logger *slog.Logger, publicURL string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, tokens: tokens, mailer: mailer, logger: logger, validator: validator.New(), publicURL: publicURL}
}

// Login validates email/password credentials and opens a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	if err := s.validator.Struct(in); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	u, err := s.accounts.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, shared.ErrInvalidCredentials
		}
		return Session{}, shared.Internal(err, "load account")
	}
	if !users.CheckPassword(u, in.Password) {
		return Session{}, shared.ErrInvalidCredentials
	}
	if !u.Verified {
		return Session{}, shared.Forbidden("email address has not been verified")
	}
	claims := claimsFor(u)
	access, err := s.tokens.IssueAccess(claims)
	if err != nil {
		return Session{}, shared.Internal(err, "issue access token")
	}
	refresh, err := s.tokens.IssueRefresh(claims)
	if err != nil {
		return Session{}, shared.Internal(err, "issue refresh token")
	}
	return Session{AccessToken: access, RefreshToken: &refresh, User: u}, nil
}

// Refresh exchanges a refresh token for a new access token carrying the
// principal's current role and permissions.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (Session, error) {
	claims, err := s.tokens.VerifyRefresh(in.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Session{}, shared.Unauthenticated("refresh token expired")
		}
		return Session{}, shared.Unauthenticated("invalid refresh token")
	}
	u, err := s.accounts.Find(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, shared.Unauthenticated("principal no longer exists")
		}
		return Session{}, shared.Internal(err, "load account")
	}
	if claims.TokenVersion != u.TokenVersion {
		return Session{}, shared.InvalidToken("token has been revoked")
	}
	access, err := s.tokens.IssueAccess(claimsFor(u))
	if err != nil {
		return Session{}, shared.Internal(err, "issue access token")
	}
	return Session{AccessToken: access, User: u}, nil
}

// SignUp registers a new account and mails its verification link.
func (s *Service) SignUp(ctx context.Context, in users.SignUpInput) (users.User, error) {
	return s.accounts.SignUp(ctx, in)
}

// VerifyEmail confirms the address encoded in hash.
func (s *Service) VerifyEmail(ctx context.Context, in HashInput) (users.User, error) {
	claims, err := s.tokens.VerifyEmailVerification(in.Hash)
	if err != nil {
		return users.User{}, hashError(err, "verification")
	}
	u, err := s.accounts.MarkVerified(ctx, claims.PrincipalID)
	if errors.Is(err, shared.ErrNotFound) {
		return users.User{}, shared.BadRequest("invalid verification link")
	}
	return u, err
}

// ResendVerification mails a fresh verification link. Unknown or already
// verified addresses succeed silently.
func (s *Service) ResendVerification(ctx context.Context, in EmailInput) error {
	if err := s.validator.Struct(in); err != nil {
		return shared.BadRequest("invalid email: %v", err)
	}
	u, err := s.accounts.FindByEmail(ctx, in.Email)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return shared.Internal(err, "load account")
	}
	if !u.Verified {
		s.accounts.SendVerification(ctx, u)
	}
	return nil
}

// RequestPasswordReset mails a reset link bound to the account's current
// recovery version. It reports success whether or not the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, in EmailInput) error {
	if err := s.validator.Struct(in); err != nil {
		return shared.BadRequest("invalid email: %v", err)
	}
	u, err := s.accounts.FindByEmail(ctx, in.Email)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return shared.Internal(err, "load account")
	}
	hash, err := s.tokens.IssuePasswordReset(u.ID, u.PasswordRecoveryVersion)
	if err != nil {
		return shared.Internal(err, "issue reset hash")
	}
	if s.mailer == nil {
		return nil
	}
	err = s.mailer.Dispatch(ctx, mail.Message{
		To:       u.Email,
		Subject:  "Reset your password",
		Template: mail.TemplateResetPassword,
		Data: map[string]any{
			"FirstName": u.FirstName,
			"Email":     u.Email,
			"Link":      users.Link(s.publicURL, "/auth/reset-password", hash.Value),
			"ExpiresAt": hash.ExpiresAt.Format(time.RFC1123),
		},
	})
	if err != nil {
		s.logger.Warn("dispatch reset email", slog.String("user", u.ID.String()), slog.Any("error", err))
	}
	return nil
}

// ResetPassword sets a new password from a reset hash. Every outstanding
// token and reset hash of the account stops working.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (users.User, error) {
	if err := s.validator.Struct(in); err != nil {
		return users.User{}, shared.BadRequest("invalid password reset: %v", err)
	}
	claims, err := s.tokens.VerifyPasswordReset(in.Hash)
	if err != nil {
		return users.User{}, hashError(err, "password reset")
	}
	u, err := s.accounts.ChangePassword(ctx, claims.PrincipalID, claims.PasswordRecoveryVersion, in.Password)
	if errors.Is(err, shared.ErrNotFound) {
		return users.User{}, shared.BadRequest("invalid password reset link")
	}
	return u, err
}

// Me returns the calling principal.
func (s *Service) Me(ctx context.Context, access shared.Access) (users.User, error) {
	if !access.Authenticated() {
		return users.User{}, shared.Unauthenticated("no principal attached to the request")
	}
	u, err := s.accounts.Find(ctx, access.PrincipalID)
	if errors.Is(err, shared.ErrNotFound) {
		return users.User{}, shared.Unauthenticated("principal no longer exists")
	}
	return u, err
}

// LogoutAll revokes every token issued to the caller.
func (s *Service) LogoutAll(ctx context.Context, access shared.Access) error {
	if !access.Authenticated() {
		return shared.Unauthenticated("no principal attached to the request")
	}
	_, err := s.accounts.RevokeTokens(ctx, access.PrincipalID)
	return err
}

func claimsFor(u users.User) token.Claims {
	return token.Claims{
		PrincipalID:   u.ID,
		RoleID:        u.RoleID,
		PermissionIDs: u.PermissionIDs,
		TokenVersion:  u.TokenVersion,
	}
}

func hashError(err error, purpose string) error {
	if errors.Is(err, token.ErrExpired) {
		return shared.BadRequest("%s link has expired", purpose)
	}
	return shared.BadRequest("invalid %s link", purpose)
}
