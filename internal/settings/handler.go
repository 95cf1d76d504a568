package settings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Handler exposes settings over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the settings handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/tax", h.getTax)
	r.Get("/invoice", h.getInvoice)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettingsManage))
		r.Put("/tax", h.putTax)
		r.Put("/invoice", h.putInvoice)
		r.Get("/email", h.getEmail)
		r.Put("/email", h.putEmail)
	})
}

func (h *Handler) getTax(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.TaxSettings(r.Context()))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.InvoiceSettings(r.Context()))
}

func (h *Handler) getEmail(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.EmailSettings(r.Context()).Redacted())
}

func (h *Handler) putTax(w http.ResponseWriter, r *http.Request) {
	var in TaxSettings
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.UpdateTax(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, "update tax settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) putInvoice(w http.ResponseWriter, r *http.Request) {
	var in InvoiceSettings
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.UpdateInvoice(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, "update invoice settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) putEmail(w http.ResponseWriter, r *http.Request) {
	var in EmailSettings
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.UpdateEmail(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, "update email settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out.Redacted())
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
