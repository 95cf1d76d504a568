package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

const (
	approvalModule    = "quotations"
	maxNumberAttempts = 3
)

// Service handles quotation business logic.
type Service struct {
	repo      Repository
	numbers   NumberSource
	clients   clients.Directory
	settings  invoices.SettingsSource
	invoices  InvoiceGenerator
	paid      PaidInvoiceChecker
	mailer    invoices.Mailer
	perms     shared.PermissionChecker
	approvals ApprovalLog
	guard     shared.IdempotencyGuard
	audit     shared.AuditRecorder
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceDeps collects Service collaborators.
type ServiceDeps struct {
	Repo        Repository
	Numbers     NumberSource
	Clients     clients.Directory
	Settings    invoices.SettingsSource
	Invoices    InvoiceGenerator
	PaidChecker PaidInvoiceChecker
	Mailer      invoices.Mailer
	Permissions shared.PermissionChecker
	Approvals   ApprovalLog
	Idempotency shared.IdempotencyGuard
	Audit       shared.AuditRecorder
	Observer    Observer
	Logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		numbers:   deps.Numbers,
		clients:   deps.Clients,
		settings:  deps.Settings,
		invoices:  deps.Invoices,
		paid:      deps.PaidChecker,
		mailer:    deps.Mailer,
		perms:     deps.Permissions,
		approvals: deps.Approvals,
		guard:     deps.Idempotency,
		audit:     deps.Audit,
		observer:  deps.Observer,
		logger:    logger,
		now:       time.Now,
	}
}

// Create stores a new DRAFT quotation owned by actorID.
func (s *Service) Create(ctx context.Context, actorID int64, req CreateRequest) (*Quotation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, httpx.Validationf("title is required")
	}
	if _, err := s.clients.GetClient(ctx, req.ClientID); err != nil {
		return nil, err
	}
	b, err := s.resolveTaxes(ctx, req.Subtotal, req.TaxType, req.GSTPercentage, req.PSTPercentage)
	if err != nil {
		return nil, err
	}

	q := Quotation{
		Title:       title,
		Description: req.Description,
		ClientID:    req.ClientID,
		UserID:      actorID,
		Status:      StatusDraft,
		ValidUntil:  req.ValidUntil,
		Notes:       req.Notes,
		FormData:    req.FormData,
	}
	q.ApplyBreakdown(b)

	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := s.numbers.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("quotation number: %w", err)
		}
		q.QuotationNumber = number
		created, err := s.repo.Create(ctx, q)
		if err == nil {
			s.observe("created")
			shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
				ActorID:  actorID,
				Action:   "quotation.created",
				Entity:   shared.EntityQuotation,
				EntityID: shared.EntityRef(created.ID),
				Meta:     map[string]any{"quotation_number": created.QuotationNumber, "total_amount": created.TotalAmount},
			})
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return nil, fmt.Errorf("create quotation: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create quotation after %d attempts: %w", maxNumberAttempts, lastErr)
}

// Get returns a quotation the actor may access.
func (s *Service) Get(ctx context.Context, actorID, id int64) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.accessible(ctx, actorID, q); err != nil {
		return nil, err
	}
	return q, nil
}

// List returns a page of quotations. Without quotations.view_all only the
// actor's own quotations are listed.
func (s *Service) List(ctx context.Context, actorID int64, filter ListFilter) ([]Quotation, int, error) {
	if filter.Status != "" {
		status, err := ParseStatus(string(filter.Status))
		if err != nil {
			return nil, 0, err
		}
		filter.Status = status
	}
	filter.OwnerID = s.scopeOwner(ctx, actorID)
	return s.repo.List(ctx, filter)
}

// Update edits a DRAFT quotation, recomputing taxes when any tax input changes.
func (s *Service) Update(ctx context.Context, actorID, id int64, req UpdateRequest) (*Quotation, error) {
	q, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := editable(q); err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, httpx.Validationf("title is required")
		}
		q.Title = title
	}
	if req.Description != nil {
		q.Description = *req.Description
	}
	if req.ClientID != nil && *req.ClientID != q.ClientID {
		if _, err := s.clients.GetClient(ctx, *req.ClientID); err != nil {
			return nil, err
		}
		q.ClientID = *req.ClientID
	}
	if req.ValidUntil != nil {
		q.ValidUntil = req.ValidUntil
	}
	if req.Notes != nil {
		q.Notes = *req.Notes
	}
	if req.FormData != nil {
		q.FormData = req.FormData
	}
	if req.touchesTax() {
		subtotal := q.Subtotal
		if req.Subtotal != nil {
			subtotal = *req.Subtotal
		}
		taxType := string(q.TaxType)
		if req.TaxType != nil {
			taxType = *req.TaxType
		}
		gst, pst := q.GSTPercentage, q.PSTPercentage
		if req.GSTPercentage != nil {
			gst = *req.GSTPercentage
		}
		if req.PSTPercentage != nil {
			pst = *req.PSTPercentage
		}
		b, err := s.resolveTaxes(ctx, subtotal, taxType, &gst, &pst)
		if err != nil {
			return nil, err
		}
		q.ApplyBreakdown(b)
	}

	updated, err := s.repo.Update(ctx, *q)
	if err != nil {
		return nil, err
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "quotation.updated",
		Entity:   shared.EntityQuotation,
		EntityID: shared.EntityRef(id),
		Meta:     map[string]any{"total_amount": updated.TotalAmount},
	})
	return updated, nil
}

// Delete removes a quotation that is not APPROVED and has no paid invoice.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	q, err := s.Get(ctx, actorID, id)
	if err != nil {
		return err
	}
	if err := s.deletable(ctx, q); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete quotation: %w", err)
	}
	s.observe("deleted")
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "quotation.deleted",
		Entity:   shared.EntityQuotation,
		EntityID: shared.EntityRef(id),
		Meta:     map[string]any{"quotation_number": q.QuotationNumber},
	})
	return nil
}

// SetStatus applies a status transition. Approval persists the new status
// first; invoice generation and the client email then run as independent
// best-effort steps whose outcomes are reported in the result.
func (s *Service) SetStatus(ctx context.Context, actorID, id int64, req StatusRequest) (*StatusChangeResult, error) {
	target, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if target != StatusDraft && !s.can(ctx, actorID, shared.PermQuotationsApprove) {
		return nil, httpx.Forbiddenf("missing permission %s", shared.PermQuotationsApprove)
	}
	q, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if q.Status == StatusDraft && target == StatusDraft {
		return &StatusChangeResult{Quotation: q}, nil
	}
	if q.Status != StatusDraft {
		return nil, httpx.Conflictf("quotation is already %s", q.Status)
	}

	change := StatusChange{Status: target, ActorID: actorID, Reason: strings.TrimSpace(req.Reason), At: s.now()}
	updated, err := s.repo.UpdateStatus(ctx, id, change)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, updated, change)

	res := &StatusChangeResult{Quotation: updated}
	switch target {
	case StatusApproved:
		if s.settings.InvoiceSettings(ctx).AutoGenerateOnApproval {
			inv, err := s.generateInvoice(ctx, actorID, updated, false)
			if err != nil {
				res.InvoiceError = err.Error()
			}
			res.GeneratedInvoice = inv
		}
		_, err = s.notifyClient(ctx, notify.EventQuotationApproved, updated, res.GeneratedInvoice)
	case StatusRejected:
		_, err = s.notifyClient(ctx, notify.EventQuotationRejected, updated, nil)
	}
	res.EmailSent = err == nil
	if err != nil {
		res.EmailError = err.Error()
	}
	return res, nil
}

// ApprovalHistory lists the recorded transitions of a quotation.
func (s *Service) ApprovalHistory(ctx context.Context, actorID, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	logs, err := s.approvals.List(ctx, approvalModule, id)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, nil
}

// resolveTaxes computes the breakdown for subtotal. Missing rates come from
// the tax settings; a missing tax type is inferred from the rates when
// automatic tax calculation is enabled and is NO_TAX otherwise.
func (s *Service) resolveTaxes(ctx context.Context, subtotal float64, rawType string, gst, pst *float64) (tax.Breakdown, error) {
	if subtotal < 0 {
		return tax.Breakdown{}, httpx.Validationf("subtotal must not be negative")
	}
	cfg := s.settings.TaxSettings(ctx)
	gstRate, pstRate := cfg.DefaultGSTRate, cfg.DefaultPSTRate
	if gst != nil {
		gstRate = *gst
	}
	if pst != nil {
		pstRate = *pst
	}
	if err := tax.ValidateRate("gstPercentage", gstRate); err != nil {
		return tax.Breakdown{}, err
	}
	if err := tax.ValidateRate("pstPercentage", pstRate); err != nil {
		return tax.Breakdown{}, err
	}

	var taxType tax.Type
	switch {
	case strings.TrimSpace(rawType) != "":
		t, err := tax.ParseType(rawType)
		if err != nil {
			return tax.Breakdown{}, err
		}
		taxType = t
	case cfg.EnableAutoTaxCalculation:
		taxType = tax.TypeFor(gstRate, pstRate)
	default:
		taxType = tax.NoTax
	}
	return tax.Calculate(subtotal, gstRate, pstRate, taxType)
}

// generateInvoice issues the invoice implied by the quotation's tax selector,
// using the quotation's own rates.
func (s *Service) generateInvoice(ctx context.Context, actorID int64, q *Quotation, suppressEmail bool) (*invoices.Invoice, error) {
	if s.invoices == nil {
		return nil, errors.New("invoice generation is not configured")
	}
	gst, pst := q.GSTPercentage, q.PSTPercentage
	inv, err := s.invoices.Generate(ctx, invoices.GenerateRequest{
		QuotationID:       q.ID,
		ActorID:           actorID,
		Type:              invoices.TypeFor(q.TaxType),
		GSTRate:           &gst,
		PSTRate:           &pst,
		SuppressAutoEmail: suppressEmail,
	})
	if err != nil {
		s.logger.Error("invoice generation after approval failed",
			slog.Int64("quotation_id", q.ID), slog.Any("error", err))
		return nil, err
	}
	return inv, nil
}

// notifyClient emails the client about a quotation decision.
func (s *Service) notifyClient(ctx context.Context, event notify.Event, q *Quotation, inv *invoices.Invoice) (*notify.Receipt, error) {
	log := s.logger.With(slog.Int64("quotation_id", q.ID), slog.String("event", string(event)))
	if s.mailer == nil {
		return nil, errors.New("email delivery is not configured")
	}
	client, err := s.clients.GetClient(ctx, q.ClientID)
	if err != nil {
		log.Warn("quotation email skipped: client lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("load client: %w", err)
	}
	if !client.HasEmail() {
		log.Warn("quotation email skipped: client has no email")
		return nil, notify.ErrNoRecipient
	}

	data := notify.TemplateData{
		CompanyName:     s.settings.EmailSettings(ctx).CompanyName,
		ClientName:      client.DisplayName(),
		QuotationNumber: q.QuotationNumber,
		QuotationTitle:  q.Title,
		TaxType:         string(q.TaxType),
		Subtotal:        q.Subtotal,
		GSTRate:         q.GSTPercentage,
		GSTAmount:       q.GSTAmount,
		PSTRate:         q.PSTPercentage,
		PSTAmount:       q.PSTAmount,
		TaxAmount:       q.CombinedTaxAmount,
		TotalAmount:     q.TotalAmount,
		ValidUntil:      q.ValidUntil,
		RejectionReason: q.RejectionReason,
	}
	if inv != nil {
		due := inv.DueDate
		data.InvoiceNumber = inv.InvoiceNumber
		data.InvoiceType = string(inv.Type)
		data.DueDate = &due
	}
	receipt, err := s.mailer.Send(ctx, notify.Request{
		Event:   event,
		Variant: notify.VariantFor(q.TaxType),
		To:      client.Email,
		ToName:  client.DisplayName(),
		Data:    data,
	})
	if err != nil {
		log.Warn("quotation email failed", slog.Any("error", err))
		return nil, err
	}
	return receipt, nil
}

func (s *Service) recordTransition(ctx context.Context, q *Quotation, change StatusChange) {
	s.observe(strings.ToLower(string(change.Status)))
	if s.approvals == nil {
		return
	}
	action := shared.ApprovalApprove
	if change.Status == StatusRejected {
		action = shared.ApprovalReject
	}
	entry := shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   q.ID,
		ActorID: change.ActorID,
		Action:  action,
		Note:    change.Reason,
		At:      change.At,
	}
	if err := s.approvals.Record(ctx, entry); err != nil {
		s.logger.Warn("record quotation approval", slog.Int64("quotation_id", q.ID), slog.Any("error", err))
	}
}

func (s *Service) can(ctx context.Context, actorID int64, perm string) bool {
	if s.perms == nil || actorID <= 0 {
		return false
	}
	return s.perms.HasPermission(ctx, actorID, perm)
}

// scopeOwner returns the owner filter for actorID, zero meaning all owners.
func (s *Service) scopeOwner(ctx context.Context, actorID int64) int64 {
	if s.can(ctx, actorID, shared.PermQuotationsViewAll) {
		return 0
	}
	return actorID
}

func (s *Service) accessible(ctx context.Context, actorID int64, q *Quotation) error {
	if q.UserID == actorID || s.can(ctx, actorID, shared.PermQuotationsViewAll) {
		return nil
	}
	return httpx.Forbiddenf("quotation %s belongs to another user", q.QuotationNumber)
}

func editable(q *Quotation) error {
	switch q.Status {
	case StatusApproved:
		return httpx.Conflictf("cannot update approved quotation")
	case StatusRejected:
		return httpx.Conflictf("cannot update rejected quotation")
	}
	return nil
}

func (s *Service) deletable(ctx context.Context, q *Quotation) error {
	if q.Status == StatusApproved {
		return httpx.Conflictf("cannot delete approved quotation %s", q.QuotationNumber)
	}
	if s.paid == nil {
		return nil
	}
	paid, err := s.paid.HasPaidInvoice(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("check paid invoices: %w", err)
	}
	if paid {
		return httpx.Conflictf("quotation %s has a paid invoice", q.QuotationNumber)
	}
	return nil
}

func (s *Service) observe(transition string) {
	if s.observer != nil {
		s.observer.ObserveQuotation(transition)
	}
}
