package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// TemplateAdmin is the storage needed to manage templates.
type TemplateAdmin interface {
	TemplateStore
	ListTemplates(ctx context.Context) ([]Template, error)
	SaveTemplate(ctx context.Context, t Template) (Template, error)
}

// Handler exposes template management over HTTP.
type Handler struct {
	logger   *slog.Logger
	store    TemplateAdmin
	resolver *Resolver
	audit    shared.AuditRecorder
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds the template handler.
func NewHandler(logger *slog.Logger, store TemplateAdmin, audit shared.AuditRecorder, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		store:    store,
		resolver: NewResolver(store, logger),
		audit:    audit,
		rbac:     rbac,
		validate: validator.New(),
	}
}

// MountRoutes registers template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{key}", h.get)
	r.Post("/{key}/preview", h.preview)
	r.With(h.rbac.RequireAny(shared.PermSettingsManage)).Put("/{key}", h.put)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.ListTemplates(r.Context())
	if err != nil {
		h.logger.Error("list email templates", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	events := make([]string, 0, len(Events()))
	for _, e := range Events() {
		events = append(events, string(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"templates":    stored,
		"events":       events,
		"placeholders": Placeholders(),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	key, err := templateKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tpl, err := h.store.GetTemplate(r.Context(), key)
	if errors.Is(err, ErrTemplateNotFound) {
		if builtin, ok := Builtin(Event(key)); ok {
			httpx.JSON(w, http.StatusOK, map[string]any{"template": builtin, "source": SourceBuiltin})
			return
		}
		httpx.RespondError(w, httpx.NotFoundf("email template %s not found", key))
		return
	}
	if err != nil {
		h.logger.Error("get email template", slog.String("key", key), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"template": tpl, "source": SourceStored})
}

type templateInput struct {
	Subject     string `json:"subject" validate:"required,max=255"`
	HTMLContent string `json:"htmlContent" validate:"required"`
	Enabled     *bool  `json:"enabled"`
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	key, err := templateKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in templateInput
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	saved, err := h.store.SaveTemplate(r.Context(), Template{Key: key, Subject: in.Subject, HTMLContent: in.HTMLContent, Enabled: enabled})
	if err != nil {
		h.logger.Error("save email template", slog.String("key", key), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	shared.RecordAudit(r.Context(), h.audit, h.logger, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "email_template.update",
		Entity:   shared.EntityTemplate,
		EntityID: key,
		Meta:     map[string]any{"version": saved.Version, "enabled": saved.Enabled},
	})
	httpx.JSON(w, http.StatusOK, saved)
}

type previewInput struct {
	Subject     string `json:"subject"`
	HTMLContent string `json:"htmlContent"`
}

// preview renders either the posted draft or the resolved template with sample data.
func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	key, err := templateKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in previewInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	data := SampleData()
	if in.Subject != "" || in.HTMLContent != "" {
		httpx.JSON(w, http.StatusOK, Message{
			Key:     key,
			Source:  "draft",
			Subject: substitute(in.Subject, data, false),
			HTML:    substitute(in.HTMLContent, data, true),
		})
		return
	}
	event, variant := SplitKey(key)
	msg, err := h.resolver.Render(r.Context(), event, variant, data)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msg)
}

func templateKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(strings.ToLower(chi.URLParam(r, "key")))
	if !KnownKey(key) {
		return "", httpx.Validationf("unknown template key %q", key)
	}
	return key, nil
}

// SplitKey separates a template key into its event and variant.
func SplitKey(key string) (Event, string) {
	for _, e := range Events() {
		if key == string(e) {
			return e, ""
		}
		if strings.HasPrefix(key, string(e)+"_") {
			return e, strings.TrimPrefix(key, string(e)+"_")
		}
	}
	return Event(key), ""
}

// SampleData is used for previews.
func SampleData() TemplateData {
	due := time.Now().AddDate(0, 0, 30)
	return TemplateData{
		CompanyName:     "Odyssey Billing",
		ClientName:      "Jane Client",
		QuotationNumber: "QT-20260101-001123",
		QuotationTitle:  "Website redesign",
		InvoiceNumber:   "INV-GST_PST-202601-1000A1F",
		InvoiceType:     "TAX_INVOICE_GST_PST",
		TaxType:         "GST_AND_PST",
		Subtotal:        100,
		GSTRate:         5,
		GSTAmount:       5,
		PSTRate:         7,
		PSTAmount:       7,
		TaxAmount:       12,
		TotalAmount:     112,
		DueDate:         &due,
	}
}
