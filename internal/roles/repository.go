package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository defines persistence for roles and their permission sets.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	GetRoleByKind(ctx context.Context, kind rbac.RoleKind) (Role, error)
	Roles() query.Source[Role]
	CreateRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	ReplacePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	ReassignUsers(ctx context.Context, from, to uuid.UUID) (int64, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, db: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{pool: r.pool, db: tx})
	})
}

var roleColumns = []string{"id", "name", "description", "kind", "created_by", "last_updated_by", "created_at", "updated_at"}

func scanRole(row pgx.CollectableRow) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Kind,
		&role.CreatedBy, &role.LastUpdatedBy, &role.CreatedAt, &role.UpdatedAt)
	role.PermissionIDs = []uuid.UUID{}
	return role, err
}

func (r *repository) getOne(ctx context.Context, where string, arg any) (Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description, kind, created_by, last_updated_by, created_at, updated_at FROM roles WHERE `+where, arg)
	if err != nil {
		return Role{}, fmt.Errorf("roles: get role: %w", err)
	}
	role, err := pgx.CollectExactlyOneRow(rows, scanRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFound("role not found")
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get role: %w", err)
	}
	docs := []Role{role}
	if err := r.hydrate(ctx, docs); err != nil {
		return Role{}, err
	}
	return docs[0], nil
}

func (r *repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *repository) GetRoleByKind(ctx context.Context, kind rbac.RoleKind) (Role, error) {
	return r.getOne(ctx, "kind = $1", string(kind))
}

// hydrate loads the permission ids of every role in docs.
func (r *repository) hydrate(ctx context.Context, docs []Role) error {
	ids := make([]uuid.UUID, len(docs))
	index := make(map[uuid.UUID]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		index[d.ID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT role_id, permission_id FROM role_permissions WHERE role_id = ANY($1::uuid[]) ORDER BY permission_id`, shared.UUIDStrings(ids))
	if err != nil {
		return fmt.Errorf("roles: load permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, permissionID uuid.UUID
		if err := rows.Scan(&roleID, &permissionID); err != nil {
			return fmt.Errorf("roles: scan permissions: %w", err)
		}
		if i, ok := index[roleID]; ok {
			docs[i].PermissionIDs = append(docs[i].PermissionIDs, permissionID)
		}
	}
	return rows.Err()
}

func (r *repository) Roles() query.Source[Role] {
	return query.PGSource[Role]{DB: r.db, Table: "roles", Columns: roleColumns, Scan: scanRole, Hydrate: r.hydrate}
}

func (r *repository) CreateRole(ctx context.Context, role Role) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO roles (id, name, description, kind, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		role.ID, role.Name, role.Description, string(role.Kind), role.CreatedBy, role.LastUpdatedBy, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return mapWriteError(err, role.Name)
	}
	return r.ReplacePermissions(ctx, role.ID, role.PermissionIDs)
}

func (r *repository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE roles SET name = $2, description = $3, last_updated_by = $4, updated_at = $5
		WHERE id = $1`, role.ID, role.Name, role.Description, role.LastUpdatedBy, role.UpdatedAt)
	if err != nil {
		return mapWriteError(err, role.Name)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("role %s not found", role.ID)
	}
	return nil
}

func (r *repository) ReplacePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("roles: clear permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, roleID, shared.UUIDStrings(permissionIDs))
	if db.IsForeignKeyViolation(err) {
		return shared.BadRequest("one or more permissions do not exist")
	}
	if err != nil {
		return fmt.Errorf("roles: attach permissions: %w", err)
	}
	return nil
}

func (r *repository) ReassignUsers(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE role_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("roles: reassign users: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
		return fmt.Errorf("roles: detach permissions: %w", err)
	}
	// Tagged roles are never removed, whatever the caller.
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND kind = 'none'`, id)
	if err != nil {
		return fmt.Errorf("roles: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflict("role %s cannot be deleted", id)
	}
	return nil
}

func mapWriteError(err error, name string) error {
	if db.IsUniqueViolation(err) {
		return shared.Conflict("role %q already exists", name)
	}
	return fmt.Errorf("roles: write role: %w", err)
}

var _ Repository = (*repository)(nil)
