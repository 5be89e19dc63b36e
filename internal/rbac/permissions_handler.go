package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/query"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Authorizer builds per-operation authorization middleware.
type Authorizer interface {
	Authorize(op Operation) func(http.Handler) http.Handler
}

// PermissionsHandler exposes permission management endpoints.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	gate      Authorizer
	responder httpx.Responder
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, gate Authorizer, responder httpx.Responder) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, gate: gate, responder: responder}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	ops := PermissionOperations
	r.With(h.gate.Authorize(ops.List)).Post("/list", h.listPermissions)
	r.With(h.gate.Authorize(ops.Create)).Post("/", h.createPermission)
	r.With(h.gate.Authorize(ops.ByID)).Get("/{id}", h.getPermission)
	r.With(h.gate.Authorize(ops.Update)).Patch("/{id}", h.updatePermission)
	r.With(h.gate.Authorize(ops.Delete)).Delete("/{id}", h.deletePermission)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	page, err := h.service.ListPermissions(r.Context(), shared.AccessFromContext(r.Context()), req)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *PermissionsHandler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	p, err := h.service.GetPermission(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in CreatePermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	p, err := h.service.CreatePermission(r.Context(), shared.AccessFromContext(r.Context()), in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("permission created", slog.String("id", p.ID.String()), slog.String("name", p.Name))
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	var in UpdatePermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	p, err := h.service.UpdatePermission(r.Context(), shared.AccessFromContext(r.Context()), id, in)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	p, err := h.service.DeletePermission(r.Context(), shared.AccessFromContext(r.Context()), id)
	if err != nil {
		h.responder.RespondError(w, r, err)
		return
	}
	h.logger.Info("permission deleted", slog.String("id", p.ID.String()), slog.String("name", p.Name))
	httpx.JSON(w, http.StatusOK, p)
}
