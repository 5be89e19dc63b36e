package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

type stubPrincipals struct {
	principals map[uuid.UUID]Principal
	countErr   error
}

func (s *stubPrincipals) CountPrincipals(ctx context.Context) (int, error) {
	return len(s.principals), s.countErr
}

func (s *stubPrincipals) GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error) {
	p, ok := s.principals[id]
	if !ok {
		return Principal{}, shared.NotFound("principal %s not found", id)
	}
	return p, nil
}

type stubResolver map[uuid.UUID][]string

func (s stubResolver) EffectivePermissions(ctx context.Context, p Principal) (map[string]struct{}, error) {
	return Resolve(s[p.ID], nil), nil
}

type recordedDecisions []string

func (r *recordedDecisions) AuthzDecision(operation, outcome string) {
	*r = append(*r, operation+":"+outcome)
}

type gateFixture struct {
	gate      *Gate
	issuer    *token.Issuer
	clock     *testclock.Clock
	principal Principal
	store     *stubPrincipals
	decisions *recordedDecisions
}

func newGateFixture(t *testing.T, perms ...string) *gateFixture {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := token.NewIssuer(
		token.Keys{Access: []byte("a"), Refresh: []byte("r"), Hash: []byte("h")},
		token.TTLs{Access: time.Minute, Refresh: time.Hour, EmailVerification: time.Hour, PasswordReset: time.Hour},
		clk,
	)
	require.NoError(t, err)
	p := Principal{ID: uuid.New(), RoleID: uuid.New(), TokenVersion: 1}
	store := &stubPrincipals{principals: map[uuid.UUID]Principal{p.ID: p}}
	decisions := &recordedDecisions{}
	return &gateFixture{
		gate: &Gate{
			Tokens:     issuer,
			Principals: store,
			Resolver:   stubResolver{p.ID: perms},
			Metrics:    decisions,
		},
		issuer:    issuer,
		clock:     clk,
		principal: p,
		store:     store,
		decisions: decisions,
	}
}

func (f *gateFixture) bearer(t *testing.T, version int) string {
	t.Helper()
	tok, err := f.issuer.IssueAccess(token.Claims{PrincipalID: f.principal.ID, RoleID: f.principal.RoleID, TokenVersion: version})
	require.NoError(t, err)
	return "Bearer " + tok.Value
}

func requireKind(t *testing.T, err error, kind shared.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, shared.KindOf(err), err.Error())
}

var readUsers = NewOperation("users", Lenient, "read_all_users", "read_owned")

func TestGateAuthorizesAndPublishesAccess(t *testing.T) {
	f := newGateFixture(t, "read_owned")
	access, err := f.gate.Check(context.Background(), readUsers, f.bearer(t, 1))
	require.NoError(t, err)
	assert.Equal(t, f.principal.ID, access.PrincipalID)
	assert.True(t, access.Has("read_owned"))
	assert.False(t, access.Bootstrap)
}

func TestGateBootstrapEscapeHatch(t *testing.T) {
	f := newGateFixture(t)
	f.store.principals = map[uuid.UUID]Principal{}

	access, err := f.gate.Check(context.Background(), NewOperation("createUser", Strict, "create_users"), "")
	require.NoError(t, err)
	assert.True(t, access.Bootstrap)
	assert.True(t, access.Has("create_users"))
}

func TestGatePublicOperationSkipsChecks(t *testing.T) {
	f := newGateFixture(t)
	access, err := f.gate.Check(context.Background(), PublicOperation("login"), "")
	require.NoError(t, err)
	assert.False(t, access.Authenticated())
}

func TestGateUnauthenticated(t *testing.T) {
	f := newGateFixture(t, "read_owned")

	_, err := f.gate.Check(context.Background(), readUsers, "")
	requireKind(t, err, shared.KindUnauthenticated)

	_, err = f.gate.Check(context.Background(), readUsers, "Basic abc")
	requireKind(t, err, shared.KindUnauthenticated)

	_, err = f.gate.Check(context.Background(), readUsers, "Bearer garbage")
	requireKind(t, err, shared.KindUnauthenticated)

	header := f.bearer(t, 1)
	f.clock.Advance(2 * time.Minute)
	_, err = f.gate.Check(context.Background(), readUsers, header)
	requireKind(t, err, shared.KindUnauthenticated)
}

func TestGateMissingPrincipal(t *testing.T) {
	f := newGateFixture(t, "read_owned")
	header := f.bearer(t, 1)
	other := Principal{ID: uuid.New(), TokenVersion: 1}
	f.store.principals = map[uuid.UUID]Principal{other.ID: other}

	_, err := f.gate.Check(context.Background(), readUsers, header)
	requireKind(t, err, shared.KindUnauthenticated)
}

func TestGateForbidden(t *testing.T) {
	f := newGateFixture(t, "read_owned")
	_, err := f.gate.Check(context.Background(), NewOperation("createUser", Strict, "create_users"), f.bearer(t, 1))
	requireKind(t, err, shared.KindForbidden)
}

func TestGateRevokedTokenVersion(t *testing.T) {
	f := newGateFixture(t, "read_owned")
	header := f.bearer(t, 1)

	p := f.principal
	p.TokenVersion = 2
	f.store.principals[p.ID] = p

	_, err := f.gate.Check(context.Background(), readUsers, header)
	requireKind(t, err, shared.KindInvalidToken)

	// Permission check runs first.
	_, err = f.gate.Check(context.Background(), NewOperation("createUser", Strict, "create_users"), header)
	requireKind(t, err, shared.KindForbidden)
}

func TestGateAuthenticatedOnlyOperation(t *testing.T) {
	f := newGateFixture(t)
	access, err := f.gate.Check(context.Background(), NewOperation("me", Strict), f.bearer(t, 1))
	require.NoError(t, err)
	assert.Equal(t, f.principal.ID, access.PrincipalID)
}

func TestGateStoreFailureIsInternal(t *testing.T) {
	f := newGateFixture(t)
	f.store.countErr = errors.New("connection refused")
	_, err := f.gate.Check(context.Background(), readUsers, f.bearer(t, 1))
	requireKind(t, err, shared.KindInternal)
}

func TestGateMiddleware(t *testing.T) {
	f := newGateFixture(t, "read_owned")
	var seen shared.Access
	handler := f.gate.Authorize(readUsers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.AccessFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", f.bearer(t, 1))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, f.principal.ID, seen.PrincipalID)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"UNAUTHENTICATED"`)

	assert.Equal(t, []string{"users:allowed", "users:unauthenticated"}, []string(*f.decisions))
}
