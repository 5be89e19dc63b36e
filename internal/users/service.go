package users

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

// Schema is the field registry of the user resource.
var Schema = query.NewSchema(shared.ResourceUser, append(query.AuditFields(),
	query.Field{Name: "email", Column: "email", Kind: query.KindText, Filterable: true, Sortable: true},
	query.Field{Name: "firstName", Column: "first_name", Kind: query.KindText, Filterable: true, Sortable: true},
	query.Field{Name: "lastName", Column: "last_name", Kind: query.KindText, Filterable: true, Sortable: true},
	query.Field{Name: "verified", Column: "verified", Kind: query.KindBool, Filterable: true, Sortable: true},
	query.Field{Name: "tokenVersion", Column: "token_version", Kind: query.KindNumber, Filterable: true, Sortable: true, Integer: true},
	query.Field{Name: "role", Column: "role_id", Kind: query.KindID, Filterable: true},
)...)

// Operations are the descriptors of the user endpoints.
var Operations = rbac.CRUDOperations(shared.ResourceUser)

var (
	permReadAll   = shared.PermissionName(shared.ActionReadAll, shared.ResourceUser)
	permUpdateAll = shared.PermissionName(shared.ActionUpdateAll, shared.ResourceUser)
	permDeleteAll = shared.PermissionName(shared.ActionDeleteAll, shared.ResourceUser)
)

// DefaultBcryptCost is the work factor of stored password hashes.
const DefaultBcryptCost = 12

// PermissionChecker validates permission references.
type PermissionChecker interface {
	EnsurePermissionsExist(ctx context.Context, ids []uuid.UUID) error
}

// HashIssuer signs single-purpose email verification hashes.
type HashIssuer interface {
	IssueEmailVerification(principalID uuid.UUID) (token.Token, error)
}

// Config tunes account handling.
type Config struct {
	// PublicURL prefixes links placed in emails.
	PublicURL  string
	BcryptCost int
	// StoreTimeout bounds the store work of one call.
	StoreTimeout time.Duration
}

// Service handles principal business logic.
type Service struct {
	repo        Repository
	permissions PermissionChecker
	hashes      HashIssuer
	mailer      mail.Dispatcher
	audit       shared.AuditRecorder
	clock       clock.Clock
	logger      *slog.Logger
	validator   *validator.Validate
	cfg         Config
}

// NewService builds Service instance.
func NewService(repo Repository, permissions PermissionChecker, hashes HashIssuer, mailer mail.Dispatcher,
	audit shared.AuditRecorder, clk clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	return &Service{
		repo:        repo,
		permissions: permissions,
		hashes:      hashes,
		mailer:      mailer,
		audit:       audit,
		clock:       clk,
		logger:      logger,
		validator:   validator.New(),
		cfg:         cfg,
	}
}

// NormalizeEmail folds an address for storage and lookup.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// isSelfOrOwned reports whether the caller is u or created u.
func isSelfOrOwned(access shared.Access, u User) bool {
	return access.Owns(u.CreatedBy) || (access.Authenticated() && access.PrincipalID == u.ID)
}

// GetUser returns a principal visible to the caller.
func (s *Service) GetUser(ctx context.Context, access shared.Access, id uuid.UUID) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, wrapStoreError(err, "load user")
	}
	if !access.Has(permReadAll) && !isSelfOrOwned(access, u) {
		return User{}, shared.NotFound("user %s not found", id)
	}
	return u, nil
}

// ListUsers pages through principals visible to the caller.
func (s *Service) ListUsers(ctx context.Context, access shared.Access, req query.Request) (query.Page[User], error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return query.Paginate(ctx, s.repo.Users(), Schema, req, query.OwnerScope(access, permReadAll))
}

// CreateUser provisions a principal. The very first principal receives the
// admin role; later ones the requested role or the base role. Requesting a
// role or direct permissions needs the global update permission.
func (s *Service) CreateUser(ctx context.Context, access shared.Access, in CreateUserInput) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := s.validator.Struct(in); err != nil {
		return User{}, shared.BadRequest("invalid user: %v", err)
	}
	if (in.RoleID != nil || len(in.Permissions) > 0) && !access.Bootstrap && !access.Has(permUpdateAll) {
		return User{}, shared.Forbidden("assigning roles or permissions requires %s", permUpdateAll)
	}
	perms := uniqueIDs(in.Permissions)
	if err := s.permissions.EnsurePermissionsExist(ctx, perms); err != nil {
		return User{}, err
	}
	u, err := s.newUser(in.Email, in.Password, in.FirstName, in.LastName)
	if err != nil {
		return User{}, err
	}
	u.PermissionIDs = perms
	actor := access.Actor()
	if !actor.Valid {
		actor = uuid.NullUUID{UUID: u.ID, Valid: true}
	}
	u.StampCreate(actor, s.clock.Now().UTC())

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		count, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		switch {
		case count == 0:
			u.RoleID, err = tx.RoleIDByKind(ctx, rbac.RoleKindAdmin)
		case in.RoleID != nil:
			u.RoleID = *in.RoleID
			err = s.ensureRole(ctx, tx, u.RoleID)
		default:
			u.RoleID, err = tx.RoleIDByKind(ctx, rbac.RoleKindBase)
		}
		if err != nil {
			return err
		}
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return User{}, wrapStoreError(err, "create user")
	}
	s.SendVerification(ctx, u)
	return u, nil
}

// SignUp registers a principal on its own behalf with the base role.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := s.validator.Struct(in); err != nil {
		return User{}, shared.BadRequest("invalid sign up: %v", err)
	}
	u, err := s.newUser(in.Email, in.Password, in.FirstName, in.LastName)
	if err != nil {
		return User{}, err
	}
	u.StampCreate(uuid.NullUUID{UUID: u.ID, Valid: true}, s.clock.Now().UTC())

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		count, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			return shared.BadRequest("the first account must be created by an administrator")
		}
		if u.RoleID, err = tx.RoleIDByKind(ctx, rbac.RoleKindBase); err != nil {
			return err
		}
		return tx.CreateUser(ctx, u)
	})
	if errors.Is(err, shared.ErrConflict) {
		return User{}, shared.BadRequest("unable to sign up with the provided details")
	}
	if err != nil {
		return User{}, wrapStoreError(err, "sign up")
	}
	s.SendVerification(ctx, u)
	return u, nil
}

func (s *Service) newUser(email, password, firstName, lastName string) (User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return User{
		ID:                      uuid.New(),
		Email:                   email,
		FirstName:               firstName,
		LastName:                lastName,
		PermissionIDs:           []uuid.UUID{},
		TokenVersion:            1,
		PasswordRecoveryVersion: 1,
		PasswordHash:            hash,
	}, nil
}

func (s *Service) ensureRole(ctx context.Context, repo Repository, id uuid.UUID) error {
	ok, err := repo.RoleExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return shared.BadRequest("role %s does not exist", id)
	}
	return nil
}

// UpdateUser changes a principal's profile, role or direct permissions.
// Role and permission changes need the global update permission.
func (s *Service) UpdateUser(ctx context.Context, access shared.Access, id uuid.UUID, in UpdateUserInput) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.validator.Struct(in); err != nil {
		return User{}, shared.BadRequest("invalid user: %v", err)
	}
	grants := in.RoleID != nil || in.Permissions != nil
	var perms []uuid.UUID
	if in.Permissions != nil {
		perms = uniqueIDs(*in.Permissions)
		if err := s.permissions.EnsurePermissionsExist(ctx, perms); err != nil {
			return User{}, err
		}
	}

	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if !access.Has(permUpdateAll) && !isSelfOrOwned(access, u) {
			return shared.Forbidden("you can only update your own account")
		}
		if grants && !access.Has(permUpdateAll) {
			return shared.Forbidden("changing roles or permissions requires %s", permUpdateAll)
		}
		if in.FirstName != nil {
			u.FirstName = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			u.LastName = strings.TrimSpace(*in.LastName)
		}
		if in.RoleID != nil {
			if err := s.ensureRole(ctx, tx, *in.RoleID); err != nil {
				return err
			}
			u.RoleID = *in.RoleID
		}
		u.StampUpdate(access.Actor(), s.clock.Now().UTC())
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		if in.Permissions != nil {
			if err := tx.ReplacePermissions(ctx, u.ID, perms); err != nil {
				return err
			}
			u.PermissionIDs = perms
		}
		updated = u
		return nil
	})
	if err != nil {
		return User{}, wrapStoreError(err, "update user")
	}
	return updated, nil
}

// DeleteUser removes a principal and its direct permission grants.
func (s *Service) DeleteUser(ctx context.Context, access shared.Access, id uuid.UUID) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	var deleted User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if !access.Has(permDeleteAll) && !isSelfOrOwned(access, u) {
			return shared.Forbidden("you can only delete your own account")
		}
		if err := tx.DeleteUser(ctx, u.ID); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return User{}, wrapStoreError(err, "delete user")
	}
	s.recordAudit(ctx, access, "user.delete", deleted)
	return deleted, nil
}

// FindByEmail loads a principal by address without access checks.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
}

// Find loads a principal by id without access checks.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.GetUser(ctx, id)
}

// MarkVerified flags the principal's email as confirmed.
func (s *Service) MarkVerified(ctx context.Context, id uuid.UUID) (User, error) {
	return s.mutate(ctx, id, func(u *User) error {
		if u.Verified {
			return shared.BadRequest("email already verified")
		}
		u.Verified = true
		return nil
	})
}

// ChangePassword stores a new password and invalidates every outstanding
// token and reset hash. recoveryVersion must match the stored one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, recoveryVersion int, password string) (User, error) {
	if err := s.validator.Var(password, "required,min=8,max=72"); err != nil {
		return User{}, shared.BadRequest("invalid password: %v", err)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.mutate(ctx, id, func(u *User) error {
		if u.PasswordRecoveryVersion != recoveryVersion {
			return shared.InvalidToken("password reset link has already been used")
		}
		u.PasswordHash = hash
		u.PasswordRecoveryVersion++
		u.TokenVersion++
		return nil
	})
}

// RevokeTokens invalidates every token issued to the principal.
func (s *Service) RevokeTokens(ctx context.Context, id uuid.UUID) (User, error) {
	return s.mutate(ctx, id, func(u *User) error {
		u.TokenVersion++
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*User) error) (User, error) {
	ctx, cancel := shared.BoundStore(ctx, s.cfg.StoreTimeout)
	defer cancel()
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&u); err != nil {
			return err
		}
		u.StampUpdate(uuid.NullUUID{UUID: u.ID, Valid: true}, s.clock.Now().UTC())
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return User{}, wrapStoreError(err, "update user")
	}
	return updated, nil
}

// HashPassword derives the stored bcrypt hash.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", shared.BadRequest("invalid password: %v", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches u's hash.
func CheckPassword(u User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// SendVerification mails u a fresh email verification link. Failures are
// logged; the account stays usable through resend.
func (s *Service) SendVerification(ctx context.Context, u User) {
	if s.mailer == nil || s.hashes == nil {
		return
	}
	hash, err := s.hashes.IssueEmailVerification(u.ID)
	if err != nil {
		s.logger.Error("issue verification hash", slog.String("user", u.ID.String()), slog.Any("error", err))
		return
	}
	err = s.mailer.Dispatch(ctx, mail.Message{
		To:       u.Email,
		Subject:  "Confirm your email address",
		Template: mail.TemplateWelcome,
		Data: map[string]any{
			"FirstName": u.FirstName,
			"Email":     u.Email,
			"Link":      Link(s.cfg.PublicURL, "/auth/verify-email", hash.Value),
			"ExpiresAt": hash.ExpiresAt.Format(time.RFC1123),
		},
	})
	if err != nil {
		s.logger.Warn("dispatch verification email", slog.String("user", u.ID.String()), slog.Any("error", err))
	}
}

// Link builds an emailed link carrying hash.
func Link(base, path, hash string) string {
	return strings.TrimRight(base, "/") + path + "?hash=" + url.QueryEscape(hash)
}

func (s *Service) recordAudit(ctx context.Context, access shared.Access, action string, u User) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  access.Actor(),
		Action:   action,
		Entity:   shared.ResourceUser,
		EntityID: u.ID.String(),
		Meta:     map[string]any{"email": u.Email},
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func wrapStoreError(err error, msg string) error {
	if shared.KindOf(err) != shared.KindInternal {
		return err
	}
	return shared.Internal(err, msg)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
