package invoices

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Handler manages invoice endpoints.
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

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/pdf", h.pdf)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoicesManage))
		r.Post("/", h.create)
		r.Post("/bulk-update-tax-rates", h.bulkUpdateTaxRates)
		r.Post("/{id}/send", h.send)
		r.Post("/{id}/send-with-tax", h.sendWithTax)
		r.Post("/{id}/payments", h.recordPayment)
		r.Post("/{id}/cancel", h.cancel)
		r.Put("/{id}/status", h.updateStatus)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Page: shared.PageFromRequest(r)}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = status
	}
	filter.QuotationID, _ = strconv.ParseInt(q.Get("quotation_id"), 10, 64)
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	if items == nil {
		items = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices":   items,
		"pagination": shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), actorID(r), req)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Send(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, "send invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) sendWithTax(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req SendWithTaxRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.SendWithTax(r.Context(), actorID(r), id, req)
	if err != nil {
		h.fail(w, "send invoice with tax", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulkUpdateTaxRates(w http.ResponseWriter, r *http.Request) {
	var req BulkTaxRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.BulkUpdateTaxRates(r.Context(), actorID(r), req)
	if err != nil {
		h.fail(w, "bulk update tax rates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"updatedCount": n})
}

type paymentInput struct {
	PaidDate *time.Time `json:"paidDate"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in paymentInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	inv, err := h.service.RecordPayment(r.Context(), actorID(r), id, in.PaidDate)
	if err != nil {
		h.fail(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Cancel(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, "cancel invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type statusInput struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in statusInput
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := ParseStatus(in.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.UpdateStatus(r.Context(), actorID(r), id, status)
	if err != nil {
		h.fail(w, "update invoice status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorID(r), id); err != nil {
		h.fail(w, "delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pdf(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	opts, err := pdfOptions(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, filename, err := h.service.PDF(r.Context(), id, opts)
	if err != nil {
		h.fail(w, "render invoice pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func pdfOptions(r *http.Request) (PDFOptions, error) {
	q := r.URL.Query()
	opts := PDFOptions{TaxType: q.Get("taxType")}
	var err error
	if opts.CustomGSTRate, err = rateParam(q.Get("customGstRate"), "customGstRate"); err != nil {
		return PDFOptions{}, err
	}
	if opts.CustomPSTRate, err = rateParam(q.Get("customPstRate"), "customPstRate"); err != nil {
		return PDFOptions{}, err
	}
	return opts, nil
}

func rateParam(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, httpx.Validationf("%s must be a number", name)
	}
	return &v, nil
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
