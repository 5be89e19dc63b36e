package rbac

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// PermissionSchema is the field registry of the permission resource.
var PermissionSchema = query.NewSchema(shared.ResourcePermission, append(query.AuditFields(),
	query.Field{Name: "name", Column: "name", Kind: query.KindText, Filterable: true, Sortable: true},
	query.Field{Name: "description", Column: "description", Kind: query.KindText, Filterable: true},
)...)

// PermissionOperations are the descriptors of the permission endpoints.
var PermissionOperations = CRUDOperations(shared.ResourcePermission)

var (
	permReadAll   = shared.PermissionName(shared.ActionReadAll, shared.ResourcePermission)
	permUpdateAll = shared.PermissionName(shared.ActionUpdateAll, shared.ResourcePermission)
	permDeleteAll = shared.PermissionName(shared.ActionDeleteAll, shared.ResourcePermission)
)

// CreatePermissionInput is the payload of createPermission.
type CreatePermissionInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// UpdatePermissionInput is the payload of updatePermission. Nil fields are left untouched.
type UpdatePermissionInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// Service orchestrates RBAC operations.
type Service struct {
	repo      Repository
	audit     shared.AuditRecorder
	clock     clock.Clock
	logger    *slog.Logger
	validator *validator.Validate

	// StoreTimeout bounds the store work of one call.
	StoreTimeout time.Duration
}

// NewService constructs a Service.
func NewService(repo Repository, audit shared.AuditRecorder, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, clock: clk, logger: logger, validator: validator.New()}
}

// EffectivePermissions returns the union of the principal's role and direct
// permission names. It always reads the store.
func (s *Service) EffectivePermissions(ctx context.Context, p Principal) (map[string]struct{}, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	rolePerms, err := s.repo.RolePermissionNames(ctx, p.RoleID)
	if err != nil {
		return nil, err
	}
	direct, err := s.repo.PermissionNamesByID(ctx, p.PermissionIDs)
	if err != nil {
		return nil, err
	}
	return Resolve(rolePerms, direct), nil
}

// EnsurePermissionsExist fails with BadRequest unless every id names a permission.
func (s *Service) EnsurePermissionsExist(ctx context.Context, ids []uuid.UUID) error {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	n, err := s.repo.CountPermissionsByID(ctx, ids)
	if err != nil {
		return shared.Internal(err, "check permissions")
	}
	if n != len(ids) {
		return shared.BadRequest("one or more permissions do not exist")
	}
	return nil
}

// GetPermission returns a permission visible to the caller.
func (s *Service) GetPermission(ctx context.Context, access shared.Access, id uuid.UUID) (Permission, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	p, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, wrapStoreError(err, "load permission")
	}
	if !access.CanActOn(permReadAll, p.CreatedBy) {
		return Permission{}, shared.NotFound("permission %s not found", id)
	}
	return p, nil
}

// ListPermissions pages through permissions visible to the caller.
func (s *Service) ListPermissions(ctx context.Context, access shared.Access, req query.Request) (query.Page[Permission], error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	return query.Paginate(ctx, s.repo.Permissions(), PermissionSchema, req, query.OwnerScope(access, permReadAll))
}

// CreatePermission registers a new permission.
func (s *Service) CreatePermission(ctx context.Context, access shared.Access, in CreatePermissionInput) (Permission, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	in.Name = normalize(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return Permission{}, shared.BadRequest("invalid permission: %v", err)
	}
	p := Permission{ID: uuid.New(), Name: in.Name, Description: strings.TrimSpace(in.Description)}
	p.StampCreate(access.Actor(), s.clock.Now().UTC())
	if err := s.repo.CreatePermission(ctx, p); err != nil {
		return Permission{}, wrapStoreError(err, "create permission")
	}
	return p, nil
}

// UpdatePermission renames or re-describes a permission.
func (s *Service) UpdatePermission(ctx context.Context, access shared.Access, id uuid.UUID, in UpdatePermissionInput) (Permission, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.validator.Struct(in); err != nil {
		return Permission{}, shared.BadRequest("invalid permission: %v", err)
	}
	p, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, wrapStoreError(err, "load permission")
	}
	if !access.CanActOn(permUpdateAll, p.CreatedBy) {
		return Permission{}, shared.Forbidden("you can only update permissions you created")
	}
	if in.Name != nil {
		p.Name = normalize(*in.Name)
		if p.Name == "" {
			return Permission{}, shared.BadRequest("permission name cannot be blank")
		}
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	p.StampUpdate(access.Actor(), s.clock.Now().UTC())
	if err := s.repo.UpdatePermission(ctx, p); err != nil {
		return Permission{}, wrapStoreError(err, "update permission")
	}
	return p, nil
}

// DeletePermission removes a permission and every role and principal
// reference to it in one transaction.
func (s *Service) DeletePermission(ctx context.Context, access shared.Access, id uuid.UUID) (Permission, error) {
	ctx, cancel := shared.BoundStore(ctx, s.StoreTimeout)
	defer cancel()
	var deleted Permission
	var fromRoles, fromUsers int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if !access.CanActOn(permDeleteAll, p.CreatedBy) {
			return shared.Forbidden("you can only delete permissions you created")
		}
		if fromRoles, err = tx.DetachPermissionFromRoles(ctx, id); err != nil {
			return err
		}
		if fromUsers, err = tx.DetachPermissionFromUsers(ctx, id); err != nil {
			return err
		}
		if err := tx.DeletePermission(ctx, id); err != nil {
			return err
		}
		deleted = p
		return nil
	})
	if err != nil {
		return Permission{}, wrapStoreError(err, "delete permission")
	}
	s.recordAudit(ctx, access, "permission.delete", id, map[string]any{
		"name":      deleted.Name,
		"fromRoles": fromRoles,
		"fromUsers": fromUsers,
	})
	return deleted, nil
}

func (s *Service) recordAudit(ctx context.Context, access shared.Access, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  access.Actor(),
		Action:   action,
		Entity:   shared.ResourcePermission,
		EntityID: id.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// wrapStoreError passes domain errors through and wraps everything else as internal.
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
