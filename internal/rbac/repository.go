package rbac

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
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository defines persistence for principals' permission data and the
// permission catalogue.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CountPrincipals(ctx context.Context) (int, error)
	GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error)
	RolePermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error)
	PermissionNamesByID(ctx context.Context, ids []uuid.UUID) ([]string, error)
	CountPermissionsByID(ctx context.Context, ids []uuid.UUID) (int, error)

	GetPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	Permissions() query.Source[Permission]
	CreatePermission(ctx context.Context, p Permission) error
	UpdatePermission(ctx context.Context, p Permission) error
	DetachPermissionFromRoles(ctx context.Context, id uuid.UUID) (int64, error)
	DetachPermissionFromUsers(ctx context.Context, id uuid.UUID) (int64, error)
	DeletePermission(ctx context.Context, id uuid.UUID) error
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

func (r *repository) CountPrincipals(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("rbac: count principals: %w", err)
	}
	return n, nil
}

func (r *repository) GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error) {
	var p Principal
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.role_id, u.token_version,
		       COALESCE(ARRAY_AGG(up.permission_id) FILTER (WHERE up.permission_id IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_permissions up ON up.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id`, id).Scan(&p.ID, &p.RoleID, &p.TokenVersion, &p.PermissionIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, shared.NotFound("principal %s not found", id)
	}
	if err != nil {
		return Principal{}, fmt.Errorf("rbac: get principal: %w", err)
	}
	return p, nil
}

func (r *repository) RolePermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role permissions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) PermissionNamesByID(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT name FROM permissions WHERE id = ANY($1::uuid[])`, shared.UUIDStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("rbac: permission names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) CountPermissionsByID(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1::uuid[])`, shared.UUIDStrings(ids)).Scan(&n); err != nil {
		return 0, fmt.Errorf("rbac: count permissions: %w", err)
	}
	return n, nil
}

var permissionColumns = []string{"id", "name", "description", "created_by", "last_updated_by", "created_at", "updated_at"}

func scanPermission(row pgx.CollectableRow) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.LastUpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description, created_by, last_updated_by, created_at, updated_at FROM permissions WHERE id = $1`, id)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: get permission: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFound("permission %s not found", id)
	}
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: get permission: %w", err)
	}
	return p, nil
}

func (r *repository) Permissions() query.Source[Permission] {
	return query.PGSource[Permission]{DB: r.db, Table: "permissions", Columns: permissionColumns, Scan: scanPermission}
}

func (r *repository) CreatePermission(ctx context.Context, p Permission) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO permissions (id, name, description, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Description, p.CreatedBy, p.LastUpdatedBy, p.CreatedAt, p.UpdatedAt)
	return mapWriteError(err, "permission", p.Name)
}

func (r *repository) UpdatePermission(ctx context.Context, p Permission) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE permissions SET name = $2, description = $3, last_updated_by = $4, updated_at = $5
		WHERE id = $1`, p.ID, p.Name, p.Description, p.LastUpdatedBy, p.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "permission", p.Name)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("permission %s not found", p.ID)
	}
	return nil
}

func (r *repository) DetachPermissionFromRoles(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("rbac: detach from roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) DetachPermissionFromUsers(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE permission_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("rbac: detach from users: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) DeletePermission(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("permission %s not found", id)
	}
	return nil
}

func mapWriteError(err error, entity, name string) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return shared.Conflict("%s %q already exists", entity, name)
	}
	return fmt.Errorf("rbac: write %s: %w", entity, err)
}

var _ Repository = (*repository)(nil)
