package quotations

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Handler manages quotation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers quotation routes. Status changes and bulk actions
// check permissions in the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireActor)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/approvals", h.approvals)
	r.Put("/{id}/status", h.setStatus)
	r.Post("/bulk-action", h.bulk)

	r.With(h.rbac.RequireAny(shared.PermQuotationsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAny(shared.PermQuotationsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAny(shared.PermQuotationsDelete)).Delete("/{id}", h.delete)
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Search: q.Get("search"),
		Page:   shared.PageFromRequest(r),
	}
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)

	items, total, err := h.service.List(r.Context(), actorID(r), filter)
	if err != nil {
		h.fail(w, "list quotations", err)
		return
	}
	if items == nil {
		items = []Quotation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotations": items,
		"pagination": shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Get(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Create(r.Context(), actorID(r), req)
	if err != nil {
		h.fail(w, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Update(r.Context(), actorID(r), id, req)
	if err != nil {
		h.fail(w, "update quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorID(r), id); err != nil {
		h.fail(w, "delete quotation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req StatusRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.SetStatus(r.Context(), actorID(r), id, req)
	if err != nil {
		h.fail(w, "set quotation status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(shared.IdempotencyHeader)
	res, err := h.service.Bulk(r.Context(), actorID(r), req)
	if err != nil {
		h.fail(w, "quotation bulk action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.ApprovalHistory(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, "list quotation approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}
