package bootstrap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type memStore struct {
	mu          sync.Mutex
	roles       map[rbac.RoleKind]uuid.UUID
	permissions map[string]uuid.UUID
	grants      map[uuid.UUID]map[uuid.UUID]struct{}
	failAttach  error
}

func newMemStore() *memStore {
	return &memStore{
		roles:       make(map[rbac.RoleKind]uuid.UUID),
		permissions: make(map[string]uuid.UUID),
		grants:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memStore) EnsureTaggedRole(ctx context.Context, role Role) (uuid.UUID, bool, error) {
	if id, ok := m.roles[role.Kind]; ok {
		return id, false, nil
	}
	m.roles[role.Kind] = role.ID
	return role.ID, true, nil
}

func (m *memStore) PermissionNames(ctx context.Context) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(m.permissions))
	for k, v := range m.permissions {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) CreatePermission(ctx context.Context, p rbac.Permission) (bool, error) {
	if _, ok := m.permissions[p.Name]; ok {
		return false, nil
	}
	m.permissions[p.Name] = p.ID
	return true, nil
}

func (m *memStore) AttachPermissions(ctx context.Context, roleID uuid.UUID, ids []uuid.UUID) error {
	if m.failAttach != nil {
		return m.failAttach
	}
	set, ok := m.grants[roleID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.grants[roleID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (m *memStore) granted(kind rbac.RoleKind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, id := range m.permissions {
		if _, ok := m.grants[m.roles[kind]][id]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type auditSink struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *auditSink) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func newReconciler(store Store, audit shared.AuditRecorder) *Reconciler {
	clk := testclock.NewClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	return New(store, audit, clk, nil, shared.Resources())
}

func TestRunSeedsRolesAndPermissions(t *testing.T) {
	store := newMemStore()
	audit := &auditSink{}

	report, err := newReconciler(store, audit).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"admin", "base"}, report.CreatedRoles)
	assert.Len(t, report.CreatedPermissions, 15)
	assert.Contains(t, report.CreatedPermissions, "read_all_users")
	assert.Contains(t, report.CreatedPermissions, "delete_all_permissions")

	assert.Len(t, store.granted(rbac.RoleKindAdmin), 15)
	assert.Equal(t, []string{"delete_owned", "read_owned", "update_owned"}, store.granted(rbac.RoleKindBase))
	assert.Len(t, audit.entries, 17)
	assert.Equal(t, "role.create", audit.entries[0].Action)
	assert.False(t, audit.entries[0].ActorID.Valid)
}

func TestRunIsIdempotent(t *testing.T) {
	store := newMemStore()
	audit := &auditSink{}
	r := newReconciler(store, audit)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	adminRole := store.roles[rbac.RoleKindAdmin]

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.CreatedRoles)
	assert.Empty(t, report.CreatedPermissions)
	assert.Equal(t, adminRole, store.roles[rbac.RoleKindAdmin])
	assert.Len(t, store.permissions, 15)
	assert.Len(t, store.grants[adminRole], 15)
	assert.Len(t, audit.entries, 17)
}

func TestRunConcurrentlyConverges(t *testing.T) {
	store := newMemStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newReconciler(store, nil).Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, store.roles, 2)
	assert.Len(t, store.permissions, 15)
	assert.Len(t, store.granted(rbac.RoleKindAdmin), 15)
	assert.Len(t, store.granted(rbac.RoleKindBase), 3)
}

func TestRunOnlyGrantsNewPermissions(t *testing.T) {
	store := newMemStore()
	store.permissions["read_all_users"] = uuid.New()
	store.roles[rbac.RoleKindAdmin] = uuid.New()

	report, err := newReconciler(store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, report.CreatedRoles)
	assert.Len(t, report.CreatedPermissions, 14)
	assert.NotContains(t, store.granted(rbac.RoleKindAdmin), "read_all_users")

	report, err = New(store, nil, nil, nil, []string{"user", "invoice"}).Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"create_invoices", "read_all_invoices", "update_all_invoices", "delete_all_invoices"}, report.CreatedPermissions)
	assert.Contains(t, store.granted(rbac.RoleKindAdmin), "read_all_invoices")
	assert.NotContains(t, store.granted(rbac.RoleKindBase), "read_all_invoices")
}

func TestRunSurfacesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.failAttach = errors.New("connection reset")
	audit := &auditSink{}

	_, err := newReconciler(store, audit).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grant admin role")
	assert.Empty(t, audit.entries)
}
