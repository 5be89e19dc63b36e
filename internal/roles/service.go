package roles

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Schema is the field registry of the role resource.
var Schema = query.NewSchema(shared.ResourceRole, append(query.AuditFields(),
	query.Field{Name: "name", Column: "name", Kind: query.KindText, Filterable: true, Sortable: true},
	query.Field{Name: "description", Column: "description", Kind: query.KindText, Filterable: true},
	query.Field{Name: "kind", Column: "kind", Kind: query.KindText, Filterable: true, Sortable: true},
)...)

// Operations are the descriptors of the role endpoints.
var Operations = rbac.CRUDOperations(shared.ResourceRole)

var (
	permReadAll   = shared.PermissionName(shared.ActionReadAll, shared.ResourceRole)
	permUpdateAll = shared.PermissionName(shared.ActionUpdateAll, shared.ResourceRole)
	permDeleteAll = shared.PermissionName(shared.ActionDeleteAll, shared.ResourceRole)
)

// PermissionChecker validates permission references.
type PermissionChecker interface {
	EnsurePermissionsExist(ctx context.Context, ids []uuid.UUID) error
}

// Service handles role business logic.
type Service struct {
	repo        Repository
	permissions PermissionChecker
	audit       shared.AuditRecorder
	clock       clock.Clock
	logger      *slog.Logger
	validator   *validator.Validate

	// StoreTimeout bounds the store work of one call.
	StoreTimeout time.Duration
}

// NewService builds Service instance.
func NewService(repo Repository, permissions PermissionChecker, audit shared.AuditRecorder, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, permissions: permissions, audit: audit, clock: clk, logger: logger, validator: validator.New()}
}

// GetRole returns a role visible to the caller.
func (s *Service) GetRole(ctx context.Context, access shared.Access, id uuid.UUID) (Role, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, wrapStoreError(err, "load role")
	}
	if !access.CanActOn(permReadAll, role.CreatedBy) {
		return Role{}, shared.NotFound("role %s not found", id)
	}
	return role, nil
}

// ListRoles pages through roles visible to the caller.
func (s *Service) ListRoles(ctx context.Context, access shared.Access, req query.Request) (query.Page[Role], error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	return query.Paginate(ctx, s.repo.Roles(), Schema, req, query.OwnerScope(access, permReadAll))
}

// CreateRole registers a new untagged role.
func (s *Service) CreateRole(ctx context.Context, access shared.Access, in CreateRoleInput) (Role, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return Role{}, shared.BadRequest("invalid role: %v", err)
	}
	perms := uniqueIDs(in.Permissions)
	if err := s.permissions.EnsurePermissionsExist(ctx, perms); err != nil {
		return Role{}, err
	}
	role := Role{
		ID:            uuid.New(),
		Name:          in.Name,
		Description:   strings.TrimSpace(in.Description),
		Kind:          rbac.RoleKindNone,
		PermissionIDs: perms,
	}
	role.StampCreate(access.Actor(), s.clock.Now().UTC())
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.CreateRole(ctx, role)
	})
	if err != nil {
		return Role{}, wrapStoreError(err, "create role")
	}
	return role, nil
}

// UpdateRole changes a role's name, description or permission set.
func (s *Service) UpdateRole(ctx context.Context, access shared.Access, id uuid.UUID, in UpdateRoleInput) (Role, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.validator.Struct(in); err != nil {
		return Role{}, shared.BadRequest("invalid role: %v", err)
	}
	var perms []uuid.UUID
	if in.Permissions != nil {
		perms = uniqueIDs(*in.Permissions)
		if err := s.permissions.EnsurePermissionsExist(ctx, perms); err != nil {
			return Role{}, err
		}
	}

	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if !access.CanActOn(permUpdateAll, role.CreatedBy) {
			return shared.Forbidden("you can only update roles you created")
		}
		if in.Name != nil {
			role.Name = strings.TrimSpace(*in.Name)
			if role.Name == "" {
				return shared.BadRequest("role name cannot be blank")
			}
		}
		if in.Description != nil {
			role.Description = strings.TrimSpace(*in.Description)
		}
		role.StampUpdate(access.Actor(), s.clock.Now().UTC())
		if err := tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		if in.Permissions != nil {
			if err := tx.ReplacePermissions(ctx, role.ID, perms); err != nil {
				return err
			}
			role.PermissionIDs = perms
		}
		updated = role
		return nil
	})
	if err != nil {
		return Role{}, wrapStoreError(err, "update role")
	}
	return updated, nil
}

// DeleteRole removes an untagged role. Its principals fall back to the base role.
func (s *Service) DeleteRole(ctx context.Context, access shared.Access, id uuid.UUID) (Role, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	var deleted Role
	var reassigned int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.Kind.Protected() {
			return shared.Conflict("the %s role cannot be deleted", role.Kind)
		}
		if !access.CanActOn(permDeleteAll, role.CreatedBy) {
			return shared.Forbidden("you can only delete roles you created")
		}
		base, err := tx.GetRoleByKind(ctx, rbac.RoleKindBase)
		if err != nil {
			return err
		}
		if reassigned, err = tx.ReassignUsers(ctx, role.ID, base.ID); err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, role.ID); err != nil {
			return err
		}
		deleted = role
		return nil
	})
	if err != nil {
		return Role{}, wrapStoreError(err, "delete role")
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  access.Actor(),
			Action:   "role.delete",
			Entity:   shared.ResourceRole,
			EntityID: id.String(),
			Meta:     map[string]any{"name": deleted.Name, "reassignedUsers": reassigned},
		}); err != nil {
			s.logger.Warn("audit record", slog.String("action", "role.delete"), slog.Any("error", err))
		}
	}
	return deleted, nil
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
