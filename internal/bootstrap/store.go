package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewStore returns the PostgreSQL Store. Transactions hold the bootstrap
// advisory lock until they end.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := db.LockXact(ctx, tx, shared.BootstrapLockKey); err != nil {
			return err
		}
		return fn(ctx, &pgStore{pool: s.pool, db: tx})
	})
}

func (s *pgStore) EnsureTaggedRole(ctx context.Context, role Role) (uuid.UUID, bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO roles (id, name, description, kind, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		role.ID, role.Name, role.Description, string(role.Kind), role.CreatedBy, role.LastUpdatedBy, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert role: %w", err)
	}
	var id uuid.UUID
	err = s.db.QueryRow(ctx, `SELECT id FROM roles WHERE kind = $1`, string(role.Kind)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, shared.Conflict("role name %q is taken by an untagged role", role.Name)
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load role: %w", err)
	}
	return id, tag.RowsAffected() == 1, nil
}

func (s *pgStore) PermissionNames(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT name, id FROM permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make(map[string]uuid.UUID)
	for rows.Next() {
		var (
			name string
			id   uuid.UUID
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		names[name] = id
	}
	return names, rows.Err()
}

func (s *pgStore) CreatePermission(ctx context.Context, p rbac.Permission) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO permissions (id, name, description, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING`,
		p.ID, p.Name, p.Description, p.CreatedBy, p.LastUpdatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) AttachPermissions(ctx context.Context, roleID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, roleID, ids)
	return err
}
