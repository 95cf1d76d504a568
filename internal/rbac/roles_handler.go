package rbac

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// RolesHandler manages roles and user assignments.
type RolesHandler struct {
	logger   *slog.Logger
	store    RoleStore
	audit    shared.AuditRecorder
	rbac     Middleware
	validate *validator.Validate
}

// NewRolesHandler builds RolesHandler instance.
func NewRolesHandler(logger *slog.Logger, store RoleStore, audit shared.AuditRecorder, rbac Middleware) *RolesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolesHandler{logger: logger, store: store, audit: audit, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers role routes.
func (h *RolesHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettingsManage))
		r.Get("/", h.listRoles)
		r.Post("/", h.upsertRole)
		r.Put("/{roleID}/permissions", h.setPermissions)
		r.Put("/{roleID}/users/{userID}", h.assign)
		r.Delete("/{roleID}/users/{userID}", h.revoke)
	})
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,required"`
}

func (h *RolesHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *RolesHandler) upsertRole(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.store.UpsertRole(r.Context(), in.Name, in.Description)
	if err != nil {
		h.fail(w, "upsert role", err)
		return
	}
	h.record(r, "role.upsert", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, role)
}

func (h *RolesHandler) setPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in rolePermissionsRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms := normalizePermissions(in.Permissions)
	scopes := shared.BillingScopes()
	for _, p := range perms {
		if !slices.Contains(scopes, p) {
			httpx.RespondError(w, httpx.Validationf("unknown permission %q", p))
			return
		}
	}
	if err := h.store.SetRolePermissions(r.Context(), roleID, perms); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	h.record(r, "role.permissions", roleID, map[string]any{"permissions": perms})
	httpx.JSON(w, http.StatusOK, map[string]any{"roleId": roleID, "permissions": perms})
}

func (h *RolesHandler) assign(w http.ResponseWriter, r *http.Request) {
	roleID, userID, ok := h.assignmentParams(w, r)
	if !ok {
		return
	}
	if err := h.store.AssignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	h.record(r, "role.assign", roleID, map[string]any{"userId": userID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, userID, ok := h.assignmentParams(w, r)
	if !ok {
		return
	}
	if err := h.store.RevokeRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	h.record(r, "role.revoke", roleID, map[string]any{"userId": userID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) assignmentParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return roleID, userID, true
}

func (h *RolesHandler) record(r *http.Request, action string, roleID int64, meta map[string]any) {
	actor, _ := shared.ActorFromContext(r.Context())
	shared.RecordAudit(r.Context(), h.audit, h.logger, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   shared.EntityRole,
		EntityID: shared.EntityRef(roleID),
		Meta:     meta,
	})
}

func (h *RolesHandler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
