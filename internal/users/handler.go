package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      rbac.Authorizer
	responder httpx.Responder
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate rbac.Authorizer, responder httpx.Responder) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, responder: responder}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.Authorize(Operations.List)).Post("/list", h.listUsers)
	r.With(h.gate.Authorize(Operations.Create)).Post("/", h.createUser)
	r.With(h.gate.Authorize(Operations.ByID)).Get("/{id}", h.getUser)
	r.With(h.gate.Authorize(Operations.Update)).Patch("/{id}", h.updateUser)
	r.With(h.gate.Authorize(Operations.Delete)).Delete("/{id}", h.deleteUser)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	page, err := h.service.ListUsers(r.Context(), shared.AccessFromContext(r.Context()), req)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in CreateUserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	user, err := h.service.CreateUser(r.Context(), shared.AccessFromContext(r.Context()), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("user created", slog.String("id", user.ID.String()), slog.String("email", user.Email))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	var in UpdateUserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	user, err := h.service.UpdateUser(r.Context(), shared.AccessFromContext(r.Context()), id, in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	user, err := h.service.DeleteUser(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("user deleted", slog.String("id", user.ID.String()), slog.String("email", user.Email))
	httpx.JSON(w, http.StatusOK, user)
}
