package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Limiter builds per-offense rate limiting middleware.
type Limiter interface {
	Middleware(kind string, limit int, responder httpx.Responder) func(http.Handler) http.Handler
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      rbac.Authorizer
	limiter   Limiter
	responder httpx.Responder
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate rbac.Authorizer, limiter Limiter, responder httpx.Responder) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, limiter: limiter, responder: responder}
}

// MountRoutes registers auth routes on provided router. Offense limits run
// ahead of authorization.
func (h *Handler) MountRoutes(r chi.Router) {
	login := h.limiter.Middleware(ratelimit.OffenseLogin, ratelimit.LoginLimit, h.responder)
	verification := h.limiter.Middleware(ratelimit.OffenseEmailVerification, ratelimit.EmailVerificationLimit, h.responder)

	r.With(login, h.gate.Authorize(Operations.Login)).Post("/login", h.login)
	r.With(login, h.gate.Authorize(Operations.SignUp)).Post("/signup", h.signUp)
	r.With(verification, h.gate.Authorize(Operations.VerifyEmail)).Post("/verify-email", h.verifyEmail)
	r.With(h.gate.Authorize(Operations.Refresh)).Post("/refresh", h.refresh)
	r.With(h.gate.Authorize(Operations.ResendVerification)).Post("/resend-verification", h.resendVerification)
	r.With(h.gate.Authorize(Operations.RequestPasswordReset)).Post("/forgot-password", h.forgotPassword)
	r.With(h.gate.Authorize(Operations.ResetPassword)).Post("/reset-password", h.resetPassword)
	r.With(h.gate.Authorize(Operations.Me)).Get("/me", h.me)
	r.With(h.gate.Authorize(Operations.LogoutAll)).Post("/logout-all", h.logoutAll)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	session, err := h.service.Login(r.Context(), in)
	if err != nil {
		h.logger.Warn("login failed", slog.String("email", users.NormalizeEmail(in.Email)), slog.String("code", string(shared.KindOf(err))))
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("login success", slog.String("user", session.User.ID.String()))
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var in RefreshInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	session, err := h.service.Refresh(r.Context(), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var in users.SignUpInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	u, err := h.service.SignUp(r.Context(), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("user signed up", slog.String("user", u.ID.String()))
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var in HashInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	u, err := h.service.VerifyEmail(r.Context(), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var in EmailInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	if err := h.service.ResendVerification(r.Context(), in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in EmailInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in ResetPasswordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	u, err := h.service.ResetPassword(r.Context(), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("password reset", slog.String("user", u.ID.String()))
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Me(r.Context(), shared.AccessFromContext(r.Context()))
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	access := shared.AccessFromContext(r.Context())
	if err := h.service.LogoutAll(r.Context(), access); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("tokens revoked", slog.String("user", access.PrincipalID.String()))
	w.WriteHeader(http.StatusNoContent)
}
