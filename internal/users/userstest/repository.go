// Package userstest provides an in-memory users.Repository.
package userstest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/query/querytest"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Repository keeps principals and role tags in maps. It also records audit
// entries so it can serve as the service's AuditRecorder.
type Repository struct {
	mu         sync.Mutex
	Principals map[uuid.UUID]users.User
	Roles      map[uuid.UUID]rbac.RoleKind
	Audits     []shared.AuditLog
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{Principals: make(map[uuid.UUID]users.User), Roles: make(map[uuid.UUID]rbac.RoleKind)}
}

// AddRole registers a role of kind and returns its id.
func (r *Repository) AddRole(kind rbac.RoleKind) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.Roles[id] = kind
	return id
}

// User returns the stored copy of id.
func (r *Repository) User(id uuid.UUID) users.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Principals[id]
}

// Record implements shared.AuditRecorder.
func (r *Repository) Record(ctx context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Audits = append(r.Audits, log)
	return nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, users.Repository) error) error {
	return fn(ctx, r)
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Principals), nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Principals[id]
	if !ok {
		return users.User{}, shared.NotFound("user not found")
	}
	return u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail(email)
}

func (r *Repository) byEmail(email string) (users.User, error) {
	for _, u := range r.Principals {
		if u.Email == email {
			return u, nil
		}
	}
	return users.User{}, shared.NotFound("user not found")
}

// Users exposes the stored principals to the query engine.
func (r *Repository) Users() query.Source[users.User] {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := &querytest.Source[users.User]{Row: Row}
	for _, u := range r.Principals {
		src.Docs = append(src.Docs, u)
	}
	return src
}

// Row maps a user onto its column values.
func Row(u users.User) map[string]any {
	return map[string]any{
		"id": u.ID, "email": u.Email, "first_name": u.FirstName, "last_name": u.LastName,
		"verified": u.Verified, "token_version": u.TokenVersion, "role_id": u.RoleID,
		"created_by": u.CreatedBy, "last_updated_by": u.LastUpdatedBy,
		"created_at": u.CreatedAt, "updated_at": u.UpdatedAt,
	}
}

func (r *Repository) CreateUser(ctx context.Context, u users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.byEmail(u.Email); err == nil {
		return shared.Conflict("user %q already exists", u.Email)
	}
	r.Principals[u.ID] = u
	return nil
}

func (r *Repository) UpdateUser(ctx context.Context, u users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.Principals[u.ID]
	if !ok {
		return shared.NotFound("user not found")
	}
	u.PermissionIDs = existing.PermissionIDs
	r.Principals[u.ID] = u
	return nil
}

func (r *Repository) ReplacePermissions(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.Principals[userID]
	u.PermissionIDs = ids
	r.Principals[userID] = u
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Principals[id]; !ok {
		return shared.NotFound("user not found")
	}
	delete(r.Principals, id)
	return nil
}

func (r *Repository) RoleIDByKind(ctx context.Context, kind rbac.RoleKind) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, k := range r.Roles {
		if k == kind {
			return id, nil
		}
	}
	return uuid.Nil, shared.NotFound("%s role not found", kind)
}

func (r *Repository) RoleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.Roles[id]
	return ok, nil
}

var _ users.Repository = (*Repository)(nil)
