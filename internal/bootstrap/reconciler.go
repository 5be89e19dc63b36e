// Package bootstrap reconciles the tagged roles and the core permission
// catalogue at start-up.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Store is the persistence the reconciler needs. Implementations serialise
// WithTx across processes.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error

	// EnsureTaggedRole returns the id of the role tagged kind, inserting it
	// when absent. created reports whether this call inserted it.
	EnsureTaggedRole(ctx context.Context, role Role) (id uuid.UUID, created bool, err error)
	PermissionNames(ctx context.Context) (map[string]uuid.UUID, error)
	// CreatePermission inserts p unless its name is taken.
	CreatePermission(ctx context.Context, p rbac.Permission) (bool, error)
	AttachPermissions(ctx context.Context, roleID uuid.UUID, ids []uuid.UUID) error
}

// Role is a tagged role to ensure.
type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	Kind        rbac.RoleKind
	shared.AuditFields
}

// Report summarises one reconciliation.
type Report struct {
	CreatedRoles       []string
	CreatedPermissions []string
}

// Reconciler seeds the data authorization depends on.
type Reconciler struct {
	store     Store
	audit     shared.AuditRecorder
	clock     clock.Clock
	logger    *slog.Logger
	resources []string
}

// New builds a Reconciler over the given resource types.
func New(store Store, audit shared.AuditRecorder, clk clock.Clock, logger *slog.Logger, resources []string) *Reconciler {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, audit: audit, clock: clk, logger: logger, resources: resources}
}

// Run performs one reconciliation. Repeated runs converge: only missing
// roles and permissions are created, and only newly created permissions are
// granted to the tagged roles.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report
	var audits []shared.AuditLog
	now := r.clock.Now().UTC()

	err := r.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		report, audits = Report{}, nil

		roleIDs := make(map[rbac.RoleKind]uuid.UUID, 2)
		for _, kind := range []rbac.RoleKind{rbac.RoleKindAdmin, rbac.RoleKindBase} {
			role := Role{ID: uuid.New(), Name: string(kind), Description: defaultDescriptions[kind], Kind: kind}
			role.StampCreate(uuid.NullUUID{}, now)
			id, created, err := tx.EnsureTaggedRole(ctx, role)
			if err != nil {
				return fmt.Errorf("ensure %s role: %w", kind, err)
			}
			roleIDs[kind] = id
			if created {
				report.CreatedRoles = append(report.CreatedRoles, role.Name)
				audits = append(audits, shared.AuditLog{Action: "role.create", Entity: "role", EntityID: id.String(),
					Meta: map[string]any{"kind": string(kind), "bootstrap": true}, At: now})
			}
		}

		existing, err := tx.PermissionNames(ctx)
		if err != nil {
			return fmt.Errorf("list permissions: %w", err)
		}
		var adminGrants, baseGrants []uuid.UUID
		for _, name := range shared.CorePermissions(r.resources) {
			if _, ok := existing[name]; ok {
				continue
			}
			p := rbac.Permission{ID: uuid.New(), Name: name}
			p.StampCreate(uuid.NullUUID{}, now)
			created, err := tx.CreatePermission(ctx, p)
			if err != nil {
				return fmt.Errorf("create permission %s: %w", name, err)
			}
			if !created {
				continue
			}
			report.CreatedPermissions = append(report.CreatedPermissions, name)
			audits = append(audits, shared.AuditLog{Action: "permission.create", Entity: "permission", EntityID: p.ID.String(),
				Meta: map[string]any{"name": name, "bootstrap": true}, At: now})
			adminGrants = append(adminGrants, p.ID)
			if shared.IsOwnedPermission(name) {
				baseGrants = append(baseGrants, p.ID)
			}
		}

		if err := tx.AttachPermissions(ctx, roleIDs[rbac.RoleKindAdmin], adminGrants); err != nil {
			return fmt.Errorf("grant admin role: %w", err)
		}
		if err := tx.AttachPermissions(ctx, roleIDs[rbac.RoleKindBase], baseGrants); err != nil {
			return fmt.Errorf("grant base role: %w", err)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("bootstrap: %w", err)
	}

	for _, entry := range audits {
		if r.audit == nil {
			break
		}
		if err := r.audit.Record(ctx, entry); err != nil {
			r.logger.Warn("bootstrap audit", slog.String("action", entry.Action), slog.Any("error", err))
		}
	}
	r.logger.Info("bootstrap reconciled",
		slog.Int("roles_created", len(report.CreatedRoles)),
		slog.Int("permissions_created", len(report.CreatedPermissions)))
	return report, nil
}

var defaultDescriptions = map[rbac.RoleKind]string{
	rbac.RoleKindAdmin: "Full access to every managed resource",
	rbac.RoleKindBase:  "Default role for self-registered accounts",
}
