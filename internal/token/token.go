// Package token issues and verifies the signed credentials used by the
// service: access tokens, refresh tokens and single-purpose hashes for email
// verification and password reset.
package token

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	// ErrInvalid covers malformed tokens, bad signatures and purpose mismatches.
	ErrInvalid = errors.New("token: invalid")
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token: expired")
)

// Purpose separates tokens signed with the same key.
type Purpose string

const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

const (
	claimPurpose         = "pur"
	claimRole            = "rol"
	claimPermissions     = "prm"
	claimTokenVersion    = "tv"
	claimRecoveryVersion = "prv"
)

const alg = jwa.HS256

// Claims is the payload carried by every token.
type Claims struct {
	PrincipalID             uuid.UUID
	RoleID                  uuid.UUID
	PermissionIDs           []uuid.UUID
	TokenVersion            int
	PasswordRecoveryVersion int
	Purpose                 Purpose
	IssuedAt                time.Time
	ExpiresAt               time.Time
}

// Token is a signed credential with its validity window.
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Keys are the three independent signing secrets.
type Keys struct {
	Access  []byte
	Refresh []byte
	Hash    []byte
}

// TTLs configures token lifetimes.
type TTLs struct {
	Access            time.Duration
	Refresh           time.Duration
	EmailVerification time.Duration
	PasswordReset     time.Duration
}

// Issuer signs and verifies tokens.
type Issuer struct {
	keys  Keys
	ttls  TTLs
	clock clock.Clock
}

// NewIssuer validates the key material and returns an Issuer. A nil clock
// uses the wall clock.
func NewIssuer(keys Keys, ttls TTLs, clk clock.Clock) (*Issuer, error) {
	if len(keys.Access) == 0 || len(keys.Refresh) == 0 || len(keys.Hash) == 0 {
		return nil, errors.New("token: all signing keys must be set")
	}
	if bytes.Equal(keys.Access, keys.Refresh) || bytes.Equal(keys.Access, keys.Hash) || bytes.Equal(keys.Refresh, keys.Hash) {
		return nil, errors.New("token: signing keys must be distinct")
	}
	if ttls.Access <= 0 || ttls.Refresh <= 0 || ttls.EmailVerification <= 0 || ttls.PasswordReset <= 0 {
		return nil, errors.New("token: ttls must be positive")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Issuer{keys: keys, ttls: ttls, clock: clk}, nil
}

// Sign produces a token for claims under key, valid for ttl.
func (i *Issuer) Sign(claims Claims, key []byte, ttl time.Duration) (Token, error) {
	now := i.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	perms := make([]string, 0, len(claims.PermissionIDs))
	for _, id := range claims.PermissionIDs {
		perms = append(perms, id.String())
	}
	b := jwt.NewBuilder().
		Subject(claims.PrincipalID.String()).
		IssuedAt(now).
		Expiration(exp).
		Claim(claimPurpose, string(claims.Purpose)).
		Claim(claimTokenVersion, claims.TokenVersion)
	if claims.RoleID != uuid.Nil {
		b = b.Claim(claimRole, claims.RoleID.String())
	}
	if len(perms) > 0 {
		b = b.Claim(claimPermissions, perms)
	}
	if claims.PasswordRecoveryVersion > 0 {
		b = b.Claim(claimRecoveryVersion, claims.PasswordRecoveryVersion)
	}
	tok, err := b.Build()
	if err != nil {
		return Token{}, fmt.Errorf("token: build: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key))
	if err != nil {
		return Token{}, fmt.Errorf("token: sign: %w", err)
	}
	return Token{Value: string(signed), IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks the signature under key and the expiry against the issuer
// clock. Signature problems yield ErrInvalid, an elapsed expiry ErrExpired.
func (i *Issuer) Verify(raw string, key []byte) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrInvalid
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(alg, key),
		jwt.WithClock(jwt.ClockFunc(i.clock.Now)),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	)
	if errors.Is(err, jwt.ErrTokenExpired()) {
		return Claims{}, ErrExpired
	}
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return decodeClaims(tok)
}

func (i *Issuer) verifyPurpose(raw string, key []byte, purpose Purpose) (Claims, error) {
	claims, err := i.Verify(raw, key)
	if err != nil {
		return Claims{}, err
	}
	if claims.Purpose != purpose {
		return Claims{}, fmt.Errorf("%w: unexpected purpose %q", ErrInvalid, claims.Purpose)
	}
	return claims, nil
}

// IssueAccess signs a short-lived access token.
func (i *Issuer) IssueAccess(claims Claims) (Token, error) {
	claims.Purpose = PurposeAccess
	claims.PasswordRecoveryVersion = 0
	return i.Sign(claims, i.keys.Access, i.ttls.Access)
}

// VerifyAccess verifies an access token.
func (i *Issuer) VerifyAccess(raw string) (Claims, error) {
	return i.verifyPurpose(raw, i.keys.Access, PurposeAccess)
}

// IssueRefresh signs a long-lived refresh token under the refresh key.
func (i *Issuer) IssueRefresh(claims Claims) (Token, error) {
	claims.Purpose = PurposeRefresh
	claims.PasswordRecoveryVersion = 0
	return i.Sign(claims, i.keys.Refresh, i.ttls.Refresh)
}

// VerifyRefresh verifies a refresh token.
func (i *Issuer) VerifyRefresh(raw string) (Claims, error) {
	return i.verifyPurpose(raw, i.keys.Refresh, PurposeRefresh)
}

// IssueEmailVerification signs the hash mailed to confirm an address.
func (i *Issuer) IssueEmailVerification(principalID uuid.UUID) (Token, error) {
	return i.Sign(Claims{PrincipalID: principalID, Purpose: PurposeEmailVerification}, i.keys.Hash, i.ttls.EmailVerification)
}

// VerifyEmailVerification verifies an email verification hash.
func (i *Issuer) VerifyEmailVerification(raw string) (Claims, error) {
	return i.verifyPurpose(raw, i.keys.Hash, PurposeEmailVerification)
}

// IssuePasswordReset signs a reset hash bound to the current recovery version.
func (i *Issuer) IssuePasswordReset(principalID uuid.UUID, recoveryVersion int) (Token, error) {
	return i.Sign(Claims{
		PrincipalID:             principalID,
		PasswordRecoveryVersion: recoveryVersion,
		Purpose:                 PurposePasswordReset,
	}, i.keys.Hash, i.ttls.PasswordReset)
}

// VerifyPasswordReset verifies a password reset hash.
func (i *Issuer) VerifyPasswordReset(raw string) (Claims, error) {
	return i.verifyPurpose(raw, i.keys.Hash, PurposePasswordReset)
}

func decodeClaims(tok jwt.Token) (Claims, error) {
	principalID, err := uuid.Parse(tok.Subject())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: subject: %v", ErrInvalid, err)
	}
	claims := Claims{
		PrincipalID: principalID,
		IssuedAt:    tok.IssuedAt(),
		ExpiresAt:   tok.Expiration(),
	}
	private := tok.PrivateClaims()
	if v, ok := private[claimPurpose].(string); ok {
		claims.Purpose = Purpose(v)
	}
	if v, ok := private[claimRole].(string); ok {
		if claims.RoleID, err = uuid.Parse(v); err != nil {
			return Claims{}, fmt.Errorf("%w: role: %v", ErrInvalid, err)
		}
	}
	if claims.TokenVersion, err = intClaim(private, claimTokenVersion); err != nil {
		return Claims{}, err
	}
	if claims.PasswordRecoveryVersion, err = intClaim(private, claimRecoveryVersion); err != nil {
		return Claims{}, err
	}
	if raw, ok := private[claimPermissions]; ok {
		list, ok := raw.([]any)
		if !ok {
			return Claims{}, fmt.Errorf("%w: permissions claim", ErrInvalid)
		}
		for _, item := range list {
			s, _ := item.(string)
			id, err := uuid.Parse(s)
			if err != nil {
				return Claims{}, fmt.Errorf("%w: permission id: %v", ErrInvalid, err)
			}
			claims.PermissionIDs = append(claims.PermissionIDs, id)
		}
	}
	return claims, nil
}

func intClaim(private map[string]any, name string) (int, error) {
	raw, ok := private[name]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: claim %s is not a number", ErrInvalid, name)
}
