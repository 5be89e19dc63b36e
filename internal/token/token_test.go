package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeys = Keys{
	Access:  []byte("access-secret"),
	Refresh: []byte("refresh-secret"),
	Hash:    []byte("global-secret"),
}

var testTTLs = TTLs{
	Access:            15 * time.Minute,
	Refresh:           7 * 24 * time.Hour,
	EmailVerification: 24 * time.Hour,
	PasswordReset:     time.Hour,
}

func newTestIssuer(t *testing.T) (*Issuer, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	issuer, err := NewIssuer(testKeys, testTTLs, clk)
	require.NoError(t, err)
	return issuer, clk
}

func TestAccessTokenRoundTripCarriesPayload(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	in := Claims{
		PrincipalID:   uuid.New(),
		RoleID:        uuid.New(),
		PermissionIDs: []uuid.UUID{uuid.New(), uuid.New()},
		TokenVersion:  3,
	}

	tok, err := issuer.IssueAccess(in)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))

	out, err := issuer.VerifyAccess(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, in.PrincipalID, out.PrincipalID)
	assert.Equal(t, in.RoleID, out.RoleID)
	assert.Equal(t, in.PermissionIDs, out.PermissionIDs)
	assert.Equal(t, 3, out.TokenVersion)
	assert.Equal(t, PurposeAccess, out.Purpose)
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer, clk := newTestIssuer(t)
	tok, err := issuer.IssueAccess(Claims{PrincipalID: uuid.New(), TokenVersion: 1})
	require.NoError(t, err)

	clk.Advance(15*time.Minute - time.Second)
	_, err = issuer.VerifyAccess(tok.Value)
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = issuer.VerifyAccess(tok.Value)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRequiresExpiration(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	tok, err := jwt.NewBuilder().
		Subject(uuid.New().String()).
		Claim(claimPurpose, string(PurposeAccess)).
		Claim(claimTokenVersion, 1).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testKeys.Access))
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(string(signed))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	refresh, err := issuer.IssueRefresh(Claims{PrincipalID: uuid.New(), TokenVersion: 1})
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(refresh.Value)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = issuer.VerifyRefresh(refresh.Value)
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongSignatureAndMalformed(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	tok, err := issuer.IssueAccess(Claims{PrincipalID: uuid.New(), TokenVersion: 1})
	require.NoError(t, err)

	other, err := NewIssuer(Keys{Access: []byte("other-access"), Refresh: []byte("r"), Hash: []byte("h")}, testTTLs, nil)
	require.NoError(t, err)
	_, err = other.VerifyAccess(tok.Value)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = issuer.VerifyAccess("not-a-token")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = issuer.VerifyAccess("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestHashPurposesAreNotInterchangeable(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	id := uuid.New()

	verify, err := issuer.IssueEmailVerification(id)
	require.NoError(t, err)
	_, err = issuer.VerifyPasswordReset(verify.Value)
	assert.ErrorIs(t, err, ErrInvalid)

	reset, err := issuer.IssuePasswordReset(id, 4)
	require.NoError(t, err)
	claims, err := issuer.VerifyPasswordReset(reset.Value)
	require.NoError(t, err)
	assert.Equal(t, id, claims.PrincipalID)
	assert.Equal(t, 4, claims.PasswordRecoveryVersion)
}

func TestNewIssuerValidatesKeys(t *testing.T) {
	_, err := NewIssuer(Keys{Access: []byte("a"), Refresh: []byte("a"), Hash: []byte("c")}, testTTLs, nil)
	assert.Error(t, err)

	_, err = NewIssuer(Keys{Access: []byte("a"), Refresh: []byte("b")}, testTTLs, nil)
	assert.Error(t, err)

	_, err = NewIssuer(testKeys, TTLs{}, nil)
	assert.Error(t, err)
}
