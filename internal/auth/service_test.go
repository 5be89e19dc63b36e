package auth_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/internal/users/userstest"
)

type outbox struct{ sent []mail.Message }

func (o *outbox) Dispatch(ctx context.Context, msg mail.Message) error {
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) lastHash(t *testing.T, template string) string {
	t.Helper()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Template != template {
			continue
		}
		link, err := url.Parse(o.sent[i].Data["Link"].(string))
		require.NoError(t, err)
		return link.Query().Get("hash")
	}
	t.Fatalf("no %s message sent", template)
	return ""
}

type noPermissions struct{}

func (noPermissions) EnsurePermissionsExist(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) > 0 {
		return shared.BadRequest("one or more permissions do not exist")
	}
	return nil
}

// principals exposes the in-memory users as the gate's principal store.
type principals struct{ repo *userstest.Repository }

func (p principals) CountPrincipals(ctx context.Context) (int, error) {
	return p.repo.CountUsers(ctx)
}

func (p principals) GetPrincipal(ctx context.Context, id uuid.UUID) (rbac.Principal, error) {
	u, err := p.repo.GetUser(ctx, id)
	if err != nil {
		return rbac.Principal{}, err
	}
	return rbac.Principal{ID: u.ID, RoleID: u.RoleID, PermissionIDs: u.PermissionIDs, TokenVersion: u.TokenVersion}, nil
}

type noGrants struct{}

func (noGrants) EffectivePermissions(ctx context.Context, p rbac.Principal) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type fixture struct {
	repo   *userstest.Repository
	clock  *testclock.Clock
	issuer *token.Issuer
	users  *users.Service
	svc    *auth.Service
	gate   *rbac.Gate
	mail   *outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  userstest.NewRepository(),
		clock: testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		mail:  &outbox{},
	}
	f.repo.AddRole(rbac.RoleKindAdmin)
	f.repo.AddRole(rbac.RoleKindBase)
	issuer, err := token.NewIssuer(
		token.Keys{Access: []byte("access-secret"), Refresh: []byte("refresh-secret"), Hash: []byte("hash-secret")},
		token.TTLs{Access: 15 * time.Minute, Refresh: 24 * time.Hour, EmailVerification: 24 * time.Hour, PasswordReset: time.Hour},
		f.clock)
	require.NoError(t, err)
	f.issuer = issuer
	f.users = users.NewService(f.repo, noPermissions{}, issuer, f.mail, f.repo, f.clock, nil,
		users.Config{PublicURL: "https://id.example.com", BcryptCost: bcrypt.MinCost})
	f.svc = auth.NewService(f.users, issuer, f.mail, nil, "https://id.example.com")
	f.gate = &rbac.Gate{Tokens: issuer, Principals: principals{f.repo}, Resolver: noGrants{}}
	return f
}

// register creates the first principal and verifies its email through the
// mailed link.
func (f *fixture) register(t *testing.T, email, password string) users.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.users.CreateUser(ctx, shared.Access{Bootstrap: true}, users.CreateUserInput{Email: email, Password: password, FirstName: "Ada"})
	require.NoError(t, err)
	verified, err := f.svc.VerifyEmail(ctx, auth.HashInput{Hash: f.mail.lastHash(t, mail.TemplateWelcome)})
	require.NoError(t, err)
	require.True(t, verified.Verified)
	return verified
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com", "s3cret-pass")

	_, err := f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "wrong-pass"})
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))
	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "nobody@example.com", Password: "s3cret-pass"})
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))

	session, err := f.svc.Login(ctx, auth.LoginInput{Email: "ADA@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.NotNil(t, session.RefreshToken)
	assert.True(t, f.clock.Now().Add(15*time.Minute).Equal(session.AccessToken.ExpiresAt))

	access, err := f.gate.Check(ctx, auth.Operations.Me, "Bearer "+session.AccessToken.Value)
	require.NoError(t, err)
	me, err := f.svc.Me(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, me.ID)
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.CreateUser(ctx, shared.Access{Bootstrap: true}, users.CreateUserInput{Email: "ada@example.com", Password: "s3cret-pass", FirstName: "Ada"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "s3cret-pass"})
	assert.Equal(t, shared.KindForbidden, shared.KindOf(err))

	hash := f.mail.lastHash(t, mail.TemplateWelcome)
	_, err = f.svc.VerifyEmail(ctx, auth.HashInput{Hash: hash})
	require.NoError(t, err)
	_, err = f.svc.VerifyEmail(ctx, auth.HashInput{Hash: hash})
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err), "already verified")
	_, err = f.svc.VerifyEmail(ctx, auth.HashInput{Hash: "garbage"})
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "s3cret-pass"})
	assert.NoError(t, err)
}

func TestPasswordResetRevokesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "s3cret-pass")

	session, err := f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	_, err = f.gate.Check(ctx, auth.Operations.Me, "Bearer "+session.AccessToken.Value)
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, auth.EmailInput{Email: "ada@example.com"}))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, auth.EmailInput{Email: "nobody@example.com"}))
	hash := f.mail.lastHash(t, mail.TemplateResetPassword)

	_, err = f.svc.ResetPassword(ctx, auth.ResetPasswordInput{Hash: hash, Password: "n3w-secret", ConfirmPassword: "mismatch!"})
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))

	reset, err := f.svc.ResetPassword(ctx, auth.ResetPasswordInput{Hash: hash, Password: "n3w-secret", ConfirmPassword: "n3w-secret"})
	require.NoError(t, err)
	assert.Equal(t, u.TokenVersion+1, reset.TokenVersion)

	_, err = f.gate.Check(ctx, auth.Operations.Me, "Bearer "+session.AccessToken.Value)
	assert.Equal(t, shared.KindInvalidToken, shared.KindOf(err))
	_, err = f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken.Value})
	assert.Equal(t, shared.KindInvalidToken, shared.KindOf(err))
	_, err = f.svc.ResetPassword(ctx, auth.ResetPasswordInput{Hash: hash, Password: "other-secret", ConfirmPassword: "other-secret"})
	assert.Equal(t, shared.KindInvalidToken, shared.KindOf(err), "reset hash is single use")

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "s3cret-pass"})
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))
	fresh, err := f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "n3w-secret"})
	require.NoError(t, err)
	_, err = f.gate.Check(ctx, auth.Operations.Me, "Bearer "+fresh.AccessToken.Value)
	assert.NoError(t, err)
}

func TestRefreshAndLogoutAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com", "s3cret-pass")
	session, err := f.svc.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	_, err = f.gate.Check(ctx, auth.Operations.Me, "Bearer "+session.AccessToken.Value)
	assert.Equal(t, shared.KindUnauthenticated, shared.KindOf(err), "access token expired")

	refreshed, err := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken.Value})
	require.NoError(t, err)
	assert.Nil(t, refreshed.RefreshToken)
	access, err := f.gate.Check(ctx, auth.Operations.LogoutAll, "Bearer "+refreshed.AccessToken.Value)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: refreshed.AccessToken.Value})
	assert.Equal(t, shared.KindUnauthenticated, shared.KindOf(err), "access token is not a refresh token")

	require.NoError(t, f.svc.LogoutAll(ctx, access))
	_, err = f.gate.Check(ctx, auth.Operations.Me, "Bearer "+refreshed.AccessToken.Value)
	assert.Equal(t, shared.KindInvalidToken, shared.KindOf(err))
	_, err = f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken.Value})
	assert.Equal(t, shared.KindInvalidToken, shared.KindOf(err))

	assert.Equal(t, shared.KindUnauthenticated, shared.KindOf(f.svc.LogoutAll(ctx, shared.Access{})))
}

func TestResendVerificationIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.CreateUser(ctx, shared.Access{Bootstrap: true}, users.CreateUserInput{Email: "ada@example.com", Password: "s3cret-pass", FirstName: "Ada"})
	require.NoError(t, err)
	require.Len(t, f.mail.sent, 1)

	require.NoError(t, f.svc.ResendVerification(ctx, auth.EmailInput{Email: "ada@example.com"}))
	require.NoError(t, f.svc.ResendVerification(ctx, auth.EmailInput{Email: "nobody@example.com"}))
	assert.Len(t, f.mail.sent, 2)

	err = f.svc.ResendVerification(ctx, auth.EmailInput{Email: "not-an-email"})
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))
}
