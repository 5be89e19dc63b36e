package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository defines persistence for principals.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	Users() query.Source[User]
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	ReplacePermissions(ctx context.Context, userID uuid.UUID, permissionIDs []uuid.UUID) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	RoleIDByKind(ctx context.Context, kind rbac.RoleKind) (uuid.UUID, error)
	RoleExists(ctx context.Context, id uuid.UUID) (bool, error)
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

func (r *repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("users: count: %w", err)
	}
	return n, nil
}

var userColumns = []string{
	"id", "email", "first_name", "last_name", "role_id", "verified", "token_version",
	"password_recovery_version", "password_hash", "created_by", "last_updated_by", "created_at", "updated_at",
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RoleID, &u.Verified, &u.TokenVersion,
		&u.PasswordRecoveryVersion, &u.PasswordHash, &u.CreatedBy, &u.LastUpdatedBy, &u.CreatedAt, &u.UpdatedAt)
	u.PermissionIDs = []uuid.UUID{}
	return u, err
}

func (r *repository) getOne(ctx context.Context, column string, arg any) (User, error) {
	sql := fmt.Sprintf("SELECT %s FROM users WHERE %s = $1", strings.Join(userColumns, ", "), column)
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.NotFound("user not found")
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	docs := []User{u}
	if err := r.hydrate(ctx, docs); err != nil {
		return User{}, err
	}
	return docs[0], nil
}

func (r *repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return r.getOne(ctx, "id", id)
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, "email", email)
}

// hydrate loads the direct permission ids of every user in docs.
func (r *repository) hydrate(ctx context.Context, docs []User) error {
	ids := make([]uuid.UUID, len(docs))
	index := make(map[uuid.UUID]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		index[d.ID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT user_id, permission_id FROM user_permissions WHERE user_id = ANY($1::uuid[]) ORDER BY permission_id`, shared.UUIDStrings(ids))
	if err != nil {
		return fmt.Errorf("users: load permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID, permissionID uuid.UUID
		if err := rows.Scan(&userID, &permissionID); err != nil {
			return fmt.Errorf("users: scan permissions: %w", err)
		}
		if i, ok := index[userID]; ok {
			docs[i].PermissionIDs = append(docs[i].PermissionIDs, permissionID)
		}
	}
	return rows.Err()
}

func (r *repository) Users() query.Source[User] {
	return query.PGSource[User]{DB: r.db, Table: "users", Columns: userColumns, Scan: scanUser, Hydrate: r.hydrate}
}

func (r *repository) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role_id, verified,
			token_version, password_recovery_version, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.RoleID, u.Verified,
		u.TokenVersion, u.PasswordRecoveryVersion, u.CreatedBy, u.LastUpdatedBy, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err, u.Email)
	}
	return r.ReplacePermissions(ctx, u.ID, u.PermissionIDs)
}

func (r *repository) UpdateUser(ctx context.Context, u User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, role_id = $4, verified = $5,
			token_version = $6, password_recovery_version = $7, password_hash = $8,
			last_updated_by = $9, updated_at = $10
		WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, u.RoleID, u.Verified, u.TokenVersion,
		u.PasswordRecoveryVersion, u.PasswordHash, u.LastUpdatedBy, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err, u.Email)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("user %s not found", u.ID)
	}
	return nil
}

func (r *repository) ReplacePermissions(ctx context.Context, userID uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("users: clear permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, userID, shared.UUIDStrings(permissionIDs))
	if db.IsForeignKeyViolation(err) {
		return shared.BadRequest("one or more permissions do not exist")
	}
	if err != nil {
		return fmt.Errorf("users: attach permissions: %w", err)
	}
	return nil
}

func (r *repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("users: detach permissions: %w", err)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("user %s not found", id)
	}
	return nil
}

func (r *repository) RoleIDByKind(ctx context.Context, kind rbac.RoleKind) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM roles WHERE kind = $1`, string(kind)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, shared.Internal(fmt.Errorf("%s role missing", kind), "resolve default role")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("users: role by kind: %w", err)
	}
	return id, nil
}

func (r *repository) RoleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("users: role exists: %w", err)
	}
	return exists, nil
}

func mapWriteError(err error, email string) error {
	switch {
	case db.IsUniqueViolation(err):
		return shared.Conflict("user %q already exists", email)
	case db.IsForeignKeyViolation(err):
		return shared.BadRequest("role does not exist")
	}
	return fmt.Errorf("users: write: %w", err)
}

var _ Repository = (*repository)(nil)
