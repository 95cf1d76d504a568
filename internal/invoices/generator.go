package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

const maxNumberAttempts = 3

// GenerateRequest asks for the invoice of one type for a quotation.
type GenerateRequest struct {
	QuotationID int64
	ActorID     int64
	// Type defaults to the type implied by the quotation's tax selector.
	Type    Type
	GSTRate *float64
	PSTRate *float64
	// SuppressAutoEmail is set by callers that send their own notification.
	SuppressAutoEmail bool
}

// Generator derives invoices from approved quotations.
type Generator struct {
	repo     Repository
	numbers  NumberSource
	settings SettingsSource
	mailer   Mailer
	clients  clients.Directory
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// GeneratorDeps collects Generator collaborators.
type GeneratorDeps struct {
	Repo     Repository
	Numbers  NumberSource
	Settings SettingsSource
	Mailer   Mailer
	Clients  clients.Directory
	Observer Observer
	Logger   *slog.Logger
}

// NewGenerator wires a Generator.
func NewGenerator(deps GeneratorDeps) *Generator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		repo:     deps.Repo,
		numbers:  deps.Numbers,
		settings: deps.Settings,
		mailer:   deps.Mailer,
		clients:  deps.Clients,
		observer: deps.Observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Generate returns the invoice for (quotation, type), creating it when absent.
// An existing invoice is returned unchanged. Auto email failures never fail
// the call; the invoice then stays PENDING.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Invoice, error) {
	taxCfg := g.settings.TaxSettings(ctx)
	gst, pst := taxCfg.DefaultGSTRate, taxCfg.DefaultPSTRate
	if req.GSTRate != nil {
		gst = *req.GSTRate
	}
	if req.PSTRate != nil {
		pst = *req.PSTRate
	}

	q, err := g.repo.GetQuotationRef(ctx, req.QuotationID)
	if err != nil {
		return nil, err
	}
	if q.Status != QuotationApproved {
		return nil, httpx.Validationf("quotation %s must be APPROVED to invoice, is %s", q.Number, q.Status)
	}

	typ := req.Type
	if typ == "" {
		typ = TypeFor(q.TaxType)
	}
	if !typ.Valid() {
		return nil, httpx.Validationf("invalid invoice type %q", typ)
	}

	existing, err := g.repo.FindByQuotationAndType(ctx, q.ID, typ)
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	inv, err := g.create(ctx, q, typ, gst, pst, time.Time{}, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !req.SuppressAutoEmail && g.settings.InvoiceSettings(ctx).AutoSendEmail {
		inv = g.autoSend(ctx, inv, q)
	}
	return inv, nil
}

// create computes taxes and persists a PENDING invoice, retrying with a fresh
// number when the generated one collides. A zero due date means the
// configured default.
func (g *Generator) create(ctx context.Context, q QuotationRef, typ Type, gst, pst float64, due time.Time, actorID int64) (*Invoice, error) {
	if err := tax.ValidateRate("gstRate", gst); err != nil {
		return nil, err
	}
	if err := tax.ValidateRate("pstRate", pst); err != nil {
		return nil, err
	}
	breakdown, err := tax.Calculate(q.Subtotal, gst, pst, typ.TaxType())
	if err != nil {
		return nil, err
	}

	if due.IsZero() {
		due = g.now().AddDate(0, 0, g.settings.InvoiceSettings(ctx).DefaultDueDays)
	}
	inv := Invoice{
		Type:        typ,
		QuotationID: q.ID,
		ClientID:    q.ClientID,
		CreatedBy:   actorID,
		Status:      StatusPending,
		DueDate:     due,
	}
	inv.ApplyBreakdown(breakdown)

	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := g.numbers.Next(ctx, string(typ))
		if err != nil {
			return nil, fmt.Errorf("invoice number: %w", err)
		}
		inv.InvoiceNumber = number
		created, err := g.repo.Create(ctx, inv)
		if err == nil {
			g.observe("created")
			g.logger.Info("invoice created",
				slog.Int64("invoice_id", created.ID),
				slog.String("invoice_number", created.InvoiceNumber),
				slog.Int64("quotation_id", q.ID))
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return nil, fmt.Errorf("create invoice: %w", err)
		}
		g.logger.Warn("invoice number collision, retrying",
			slog.String("invoice_number", number), slog.Int("attempt", attempt))
		lastErr = err
	}
	return nil, fmt.Errorf("create invoice after %d attempts: %w", maxNumberAttempts, lastErr)
}

func (g *Generator) autoSend(ctx context.Context, inv *Invoice, q QuotationRef) *Invoice {
	log := g.logger.With(slog.Int64("invoice_id", inv.ID), slog.Int64("quotation_id", q.ID))
	if g.mailer == nil || g.clients == nil {
		return inv
	}
	client, err := g.clients.GetClient(ctx, q.ClientID)
	if err != nil {
		log.Warn("invoice auto email skipped: client lookup failed", slog.Any("error", err))
		return inv
	}
	company := g.settings.EmailSettings(ctx).CompanyName
	if _, err := g.mailer.Send(ctx, readyRequest(inv, q, client, company, storedBreakdown(inv))); err != nil {
		log.Warn("invoice auto email failed", slog.Any("error", err))
		return inv
	}
	sent, err := g.repo.MarkEmailSent(ctx, inv.ID, g.now())
	if err != nil {
		log.Error("mark invoice sent", slog.Any("error", err))
		return inv
	}
	g.observe("sent")
	return sent
}

func (g *Generator) observe(event string) {
	if g.observer != nil {
		g.observer.ObserveInvoice(event)
	}
}
