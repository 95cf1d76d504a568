package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

// Service handles invoice business logic.
type Service struct {
	repo      Repository
	generator *Generator
	settings  SettingsSource
	mailer    Mailer
	clients   clients.Directory
	audit     shared.AuditRecorder
	pdf       PDFRenderer
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceDeps collects Service collaborators.
type ServiceDeps struct {
	Repo      Repository
	Generator *Generator
	Settings  SettingsSource
	Mailer    Mailer
	Clients   clients.Directory
	Audit     shared.AuditRecorder
	PDF       PDFRenderer
	Logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		generator: deps.Generator,
		settings:  deps.Settings,
		mailer:    deps.Mailer,
		clients:   deps.Clients,
		audit:     deps.Audit,
		pdf:       deps.PDF,
		logger:    logger,
		now:       time.Now,
	}
}

// Generator exposes the auto generator for quotation workflows.
func (s *Service) Generator() *Generator {
	return s.generator
}

// CreateRequest is the manual invoice creation input. DueDate accepts RFC3339
// or YYYY-MM-DD and defaults to the configured number of days from today.
type CreateRequest struct {
	QuotationID   int64    `json:"quotationId" validate:"required,gt=0"`
	Type          string   `json:"type" validate:"required"`
	GSTPercentage *float64 `json:"gstPercentage" validate:"omitempty,gte=0,lte=100"`
	PSTPercentage *float64 `json:"pstPercentage" validate:"omitempty,gte=0,lte=100"`
	DueDate       string   `json:"dueDate"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	Invoice         *Invoice        `json:"invoice"`
	AppliedTaxRates AppliedTaxRates `json:"appliedTaxRates"`
}

// Create issues an invoice manually. Unlike Generate, a second invoice of the
// same type for a quotation is a conflict.
func (s *Service) Create(ctx context.Context, actorID int64, req CreateRequest) (*CreateResult, error) {
	typ, err := ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	taxCfg := s.settings.TaxSettings(ctx)
	gst, pst := taxCfg.DefaultGSTRate, taxCfg.DefaultPSTRate
	if req.GSTPercentage != nil {
		gst = *req.GSTPercentage
	}
	if req.PSTPercentage != nil {
		pst = *req.PSTPercentage
	}
	if err := tax.ValidateRate("gstPercentage", gst); err != nil {
		return nil, err
	}
	if err := tax.ValidateRate("pstPercentage", pst); err != nil {
		return nil, err
	}
	due, err := s.parseDueDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	q, err := s.repo.GetQuotationRef(ctx, req.QuotationID)
	if err != nil {
		return nil, err
	}
	if q.Status != QuotationApproved {
		return nil, httpx.Validationf("quotation %s must be APPROVED to invoice, is %s", q.Number, q.Status)
	}
	existing, err := s.repo.FindByQuotationAndType(ctx, q.ID, typ)
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	if existing != nil {
		return nil, httpx.Conflictf("invoice %s of type %s already exists for quotation %s", existing.InvoiceNumber, typ, q.Number)
	}

	inv, err := s.generator.create(ctx, q, typ, gst, pst, due, actorID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		Invoice:         inv,
		AppliedTaxRates: AppliedTaxRates{TaxType: typ.TaxType(), GSTRate: gst, PSTRate: pst},
	}, nil
}

// parseDueDate returns the zero time for an empty value. Dates before today
// are rejected.
func (s *Service) parseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	due, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if due, err = time.Parse(time.DateOnly, raw); err != nil {
			return time.Time{}, httpx.Validationf("dueDate must be RFC3339 or YYYY-MM-DD")
		}
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if due.Before(today) {
		return time.Time{}, httpx.Validationf("dueDate %s is in the past", raw)
	}
	return due, nil
}

// Get returns one invoice.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of invoices and the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	if filter.Status != "" {
		if _, err := ParseStatus(string(filter.Status)); err != nil {
			return nil, 0, err
		}
	}
	return s.repo.List(ctx, filter)
}

// SendResult is returned by Send and SendWithTax.
type SendResult struct {
	Invoice      *Invoice        `json:"invoice"`
	EmailDetails *notify.Receipt `json:"emailDetails"`
	TaxBreakdown *tax.Breakdown  `json:"taxBreakdown,omitempty"`
}

// Send emails the invoice with its stored tax figures and marks it SENT.
func (s *Service) Send(ctx context.Context, actorID, id int64) (*SendResult, error) {
	inv, err := s.sendable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, actorID, inv, storedBreakdown(inv), false)
}

// SendWithTaxRequest overrides the tax presentation of one email. Missing
// custom rates fall back to the invoice's stored rates.
type SendWithTaxRequest struct {
	TaxType       string   `json:"taxType" validate:"required"`
	CustomGSTRate *float64 `json:"customGstRate" validate:"omitempty,gte=0,lte=100"`
	CustomPSTRate *float64 `json:"customPstRate" validate:"omitempty,gte=0,lte=100"`
}

// SendWithTax emails the invoice with a recomputed breakdown. The invoice's
// stored amounts are not changed.
func (s *Service) SendWithTax(ctx context.Context, actorID, id int64, req SendWithTaxRequest) (*SendResult, error) {
	taxType, err := tax.ParseType(req.TaxType)
	if err != nil {
		return nil, err
	}
	inv, err := s.sendable(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := overrideBreakdown(inv, taxType, req.CustomGSTRate, req.CustomPSTRate)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, actorID, inv, b, true)
}

func (s *Service) sendable(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return nil, httpx.Conflictf("invoice %s is cancelled", inv.InvoiceNumber)
	}
	return inv, nil
}

func (s *Service) deliver(ctx context.Context, actorID int64, inv *Invoice, b tax.Breakdown, withBreakdown bool) (*SendResult, error) {
	q, err := s.repo.GetQuotationRef(ctx, inv.QuotationID)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.GetClient(ctx, inv.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.HasEmail() {
		return nil, notify.ErrNoRecipient
	}
	company := s.settings.EmailSettings(ctx).CompanyName
	receipt, err := s.mailer.Send(ctx, readyRequest(inv, q, client, company, b))
	if err != nil {
		s.logger.Error("send invoice email", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		return nil, err
	}

	updated, err := s.repo.MarkEmailSent(ctx, inv.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark invoice sent: %w", err)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "invoice.sent",
		Entity:   shared.EntityInvoice,
		EntityID: shared.EntityRef(inv.ID),
		Meta:     map[string]any{"recipient": receipt.Recipient, "template": receipt.TemplateKey, "tax_type": string(b.TaxType)},
	})
	res := &SendResult{Invoice: updated, EmailDetails: receipt}
	if withBreakdown {
		res.TaxBreakdown = &b
	}
	return res, nil
}

// BulkTaxRequest updates rates on many invoices. Both rates are required.
type BulkTaxRequest struct {
	InvoiceIDs    []int64  `json:"invoiceIds"`
	GSTPercentage *float64 `json:"gstPercentage"`
	PSTPercentage *float64 `json:"pstPercentage"`
}

// BulkUpdateTaxRates recomputes taxes on the given invoices. PAID and
// CANCELLED invoices are skipped.
func (s *Service) BulkUpdateTaxRates(ctx context.Context, actorID int64, req BulkTaxRequest) (int, error) {
	if len(req.InvoiceIDs) == 0 {
		return 0, httpx.Validationf("invoiceIds must not be empty")
	}
	if req.GSTPercentage == nil || req.PSTPercentage == nil {
		return 0, httpx.Validationf("gstPercentage and pstPercentage are required")
	}
	gst, pst := *req.GSTPercentage, *req.PSTPercentage
	if err := tax.ValidateRate("gstPercentage", gst); err != nil {
		return 0, err
	}
	if err := tax.ValidateRate("pstPercentage", pst); err != nil {
		return 0, err
	}
	list, err := s.repo.ListByIDs(ctx, req.InvoiceIDs)
	if err != nil {
		return 0, fmt.Errorf("load invoices: %w", err)
	}
	updated := 0
	for i := range list {
		inv := list[i]
		if inv.Locked() {
			continue
		}
		b, err := tax.Calculate(inv.Subtotal, gst, pst, inv.Type.TaxType())
		if err != nil {
			return updated, err
		}
		inv.ApplyBreakdown(b)
		if err := s.repo.UpdateTaxes(ctx, inv); err != nil {
			return updated, fmt.Errorf("update invoice %d: %w", inv.ID, err)
		}
		updated++
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "invoice.bulk_tax_update",
		Entity:   shared.EntityInvoice,
		EntityID: "bulk",
		Meta:     map[string]any{"requested": len(req.InvoiceIDs), "updated": updated, "gst_rate": gst, "pst_rate": pst},
	})
	return updated, nil
}

// RecordPayment marks the invoice PAID.
func (s *Service) RecordPayment(ctx context.Context, actorID, id int64, paidDate *time.Time) (*Invoice, error) {
	at := s.now()
	if paidDate != nil && !paidDate.IsZero() {
		at = *paidDate
	}
	return s.transition(ctx, actorID, id, StatusPaid, &at)
}

// Cancel marks the invoice CANCELLED.
func (s *Service) Cancel(ctx context.Context, actorID, id int64) (*Invoice, error) {
	return s.transition(ctx, actorID, id, StatusCancelled, nil)
}

// UpdateStatus moves the invoice to status if the lifecycle allows it.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id int64, status Status) (*Invoice, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	var paid *time.Time
	if status == StatusPaid {
		at := s.now()
		paid = &at
	}
	return s.transition(ctx, actorID, id, status, paid)
}

func (s *Service) transition(ctx context.Context, actorID, id int64, to Status, paidDate *time.Time) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == to {
		return inv, nil
	}
	if !CanTransition(inv.Status, to) {
		return nil, httpx.Conflictf("invoice %s cannot move from %s to %s", inv.InvoiceNumber, inv.Status, to)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, to, paidDate)
	if err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "invoice.status",
		Entity:   shared.EntityInvoice,
		EntityID: shared.EntityRef(id),
		Meta:     map[string]any{"from": string(inv.Status), "to": string(to)},
	})
	return updated, nil
}

// Delete removes an invoice. Paid invoices are kept.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == StatusPaid {
		return httpx.Conflictf("cannot delete paid invoice %s", inv.InvoiceNumber)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "invoice.deleted",
		Entity:   shared.EntityInvoice,
		EntityID: shared.EntityRef(id),
		Meta:     map[string]any{"invoice_number": inv.InvoiceNumber},
	})
	return nil
}
