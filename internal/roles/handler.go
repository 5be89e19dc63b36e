package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes role management endpoints.
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.Authorize(Operations.List)).Post("/list", h.listRoles)
	r.With(h.gate.Authorize(Operations.Create)).Post("/", h.createRole)
	r.With(h.gate.Authorize(Operations.ByID)).Get("/{id}", h.getRole)
	r.With(h.gate.Authorize(Operations.Update)).Patch("/{id}", h.updateRole)
	r.With(h.gate.Authorize(Operations.Delete)).Delete("/{id}", h.deleteRole)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	page, err := h.service.ListRoles(r.Context(), shared.AccessFromContext(r.Context()), req)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in CreateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), shared.AccessFromContext(r.Context()), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("role created", slog.String("id", role.ID.String()), slog.String("name", role.Name))
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	var in UpdateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), shared.AccessFromContext(r.Context()), id, in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	role, err := h.service.DeleteRole(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("role deleted", slog.String("id", role.ID.String()), slog.String("name", role.Name))
	httpx.JSON(w, http.StatusOK, role)
}
