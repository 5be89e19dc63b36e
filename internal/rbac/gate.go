package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	VerifyAccess(raw string) (token.Claims, error)
}

// PrincipalStore loads the gate's view of principals.
type PrincipalStore interface {
	CountPrincipals(ctx context.Context) (int, error)
	GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error)
}

// PermissionResolver computes effective permissions for a principal.
type PermissionResolver interface {
	EffectivePermissions(ctx context.Context, p Principal) (map[string]struct{}, error)
}

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	AuthzDecision(operation, outcome string)
}

// Gate authorizes every operation before its handler runs.
type Gate struct {
	Tokens     TokenVerifier
	Principals PrincipalStore
	Resolver   PermissionResolver
	Responder  httpx.Responder
	Metrics    DecisionRecorder
	Logger     *slog.Logger
	// StoreTimeout bounds the store reads of one check.
	StoreTimeout time.Duration
}

// Authorize returns middleware enforcing op.
func (g *Gate) Authorize(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := g.Check(r.Context(), op, r.Header.Get("Authorization"))
			g.record(op, err)
			if err != nil {
				if g.Logger != nil && !shared.IsKind(err, shared.KindInternal) {
					g.Logger.Info("authorization denied",
						slog.String("operation", op.Name),
						slog.String("code", string(shared.KindOf(err))))
				}
				g.Responder.RespondError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithAccess(r.Context(), access)))
		})
	}
}

// Check runs the authorization pipeline for op against the Authorization
// header value and returns what the handler may rely on.
func (g *Gate) Check(ctx context.Context, op Operation, authorization string) (shared.Access, error) {
	ctx, cancel := shared.BoundStore(ctx, g.StoreTimeout)
	defer cancel()

	// Until the first principal exists everything is allowed so it can be created.
	count, err := g.Principals.CountPrincipals(ctx)
	if err != nil {
		return shared.Access{}, shared.Internal(err, "count principals")
	}
	if count == 0 {
		return shared.Access{Bootstrap: true}, nil
	}

	if op.Public {
		return shared.Access{}, nil
	}

	raw, ok := bearerToken(authorization)
	if !ok {
		return shared.Access{}, shared.Unauthenticated("missing bearer token")
	}
	claims, err := g.Tokens.VerifyAccess(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return shared.Access{}, shared.Unauthenticated("token expired")
		}
		return shared.Access{}, shared.Unauthenticated("invalid token")
	}

	principal, err := g.Principals.GetPrincipal(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Access{}, shared.Unauthenticated("principal no longer exists")
		}
		return shared.Access{}, shared.Internal(err, "load principal")
	}

	granted, err := g.Resolver.EffectivePermissions(ctx, principal)
	if err != nil {
		return shared.Access{}, shared.Internal(err, "resolve permissions")
	}
	if !op.Allows(granted) {
		return shared.Access{}, shared.Forbidden("insufficient permissions for %s", op.Name)
	}

	// Version check after the permission check: a revoked token with too few
	// permissions still reports FORBIDDEN.
	if claims.TokenVersion != principal.TokenVersion {
		return shared.Access{}, shared.InvalidToken("token has been revoked")
	}

	return shared.Access{PrincipalID: principal.ID, Permissions: granted}, nil
}

func (g *Gate) record(op Operation, err error) {
	if g.Metrics == nil {
		return
	}
	outcome := "allowed"
	if err != nil {
		outcome = strings.ToLower(string(shared.KindOf(err)))
	}
	g.Metrics.AuthzDecision(op.Name, outcome)
}

func bearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
