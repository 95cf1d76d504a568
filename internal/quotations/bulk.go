package quotations

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// BulkAction enumerates bulk operations.
type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkReject  BulkAction = "reject"
	BulkDelete  BulkAction = "delete"
)

const idempotencyModule = "quotations.bulk"

// Per-item email outcomes.
const (
	EmailSent    = "sent"
	EmailFailed  = "failed"
	EmailSkipped = "skipped"
)

// Per-item outcomes.
const (
	ItemApproved = "approved"
	ItemRejected = "rejected"
	ItemDeleted  = "deleted"
	ItemSkipped  = "skipped"
	ItemFailed   = "failed"
)

// BulkRequest is the bulk-action input.
type BulkRequest struct {
	QuotationIDs   []int64 `json:"quotationIds"`
	Action         string  `json:"action"`
	Reason         string  `json:"reason"`
	IdempotencyKey string  `json:"-"`
}

// GeneratedInvoice summarises an invoice created during bulk approval.
type GeneratedInvoice struct {
	QuotationID   int64   `json:"quotationId"`
	InvoiceID     int64   `json:"invoiceId"`
	InvoiceNumber string  `json:"invoiceNumber"`
	TotalAmount   float64 `json:"totalAmount"`
}

// EmailResult is the outcome of one bulk email.
type EmailResult struct {
	QuotationID int64  `json:"quotationId"`
	Recipient   string `json:"recipient,omitempty"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// EmailSummary aggregates bulk email outcomes.
type EmailSummary struct {
	TotalEmails   int `json:"totalEmails"`
	EmailsSent    int `json:"emailsSent"`
	EmailsFailed  int `json:"emailsFailed"`
	EmailsSkipped int `json:"emailsSkipped"`
}

func (s *EmailSummary) add(r EmailResult) {
	s.TotalEmails++
	switch r.Status {
	case EmailSent:
		s.EmailsSent++
	case EmailSkipped:
		s.EmailsSkipped++
	default:
		s.EmailsFailed++
	}
}

// BulkItem is the per-quotation detail of a bulk action.
type BulkItem struct {
	QuotationID     int64  `json:"quotationId"`
	QuotationNumber string `json:"quotationNumber,omitempty"`
	Status          string `json:"status"`
	InvoiceID       *int64 `json:"invoiceId,omitempty"`
	InvoiceError    string `json:"invoiceError,omitempty"`
	EmailStatus     string `json:"emailStatus,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BulkResult aggregates a bulk action.
type BulkResult struct {
	Action            BulkAction         `json:"action"`
	AffectedCount     int                `json:"affectedCount"`
	GeneratedInvoices []GeneratedInvoice `json:"generatedInvoices,omitempty"`
	EmailResults      []EmailResult      `json:"emailResults,omitempty"`
	EmailSummary      *EmailSummary      `json:"emailSummary,omitempty"`
	Items             []BulkItem         `json:"items"`
}

// Bulk dispatches a bulk action. A non-empty idempotency key is claimed
// before any work; replaying it yields a conflict.
func (s *Service) Bulk(ctx context.Context, actorID int64, req BulkRequest) (*BulkResult, error) {
	action := BulkAction(strings.ToLower(strings.TrimSpace(req.Action)))
	switch action {
	case BulkApprove, BulkReject, BulkDelete:
	default:
		return nil, httpx.Validationf("invalid bulk action %q", req.Action)
	}
	ids := uniqueIDs(req.QuotationIDs)
	if len(ids) == 0 {
		return nil, httpx.Validationf("quotationIds must not be empty")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" && s.guard != nil {
		if err := s.guard.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return nil, err
		}
	}

	var (
		res *BulkResult
		err error
	)
	switch action {
	case BulkApprove:
		res, err = s.ApproveMany(ctx, actorID, ids)
	case BulkReject:
		res, err = s.RejectMany(ctx, actorID, ids, req.Reason)
	case BulkDelete:
		res, err = s.DeleteMany(ctx, actorID, ids)
	}
	if err != nil && key != "" && s.guard != nil {
		if derr := s.guard.Delete(ctx, key); derr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
		}
	}
	return res, err
}

// ApproveMany approves the DRAFT quotations among ids in one status update,
// then generates invoices and sends approval emails item by item. Item
// failures are reported in the result and never abort the batch.
func (s *Service) ApproveMany(ctx context.Context, actorID int64, ids []int64) (*BulkResult, error) {
	batch, err := s.transitionMany(ctx, actorID, ids, StatusApproved, "")
	if err != nil {
		return nil, err
	}
	res := &BulkResult{
		Action:            BulkApprove,
		AffectedCount:     batch.affected,
		GeneratedInvoices: []GeneratedInvoice{},
		EmailResults:      []EmailResult{},
		EmailSummary:      &EmailSummary{},
		Items:             []BulkItem{},
	}
	autoGenerate := s.settings.InvoiceSettings(ctx).AutoGenerateOnApproval

	for i := range batch.quotations {
		q := &batch.quotations[i]
		s.recordTransition(ctx, q, batch.change)
		item := BulkItem{QuotationID: q.ID, QuotationNumber: q.QuotationNumber, Status: ItemApproved}

		var inv *invoices.Invoice
		if autoGenerate {
			generated, err := s.generateInvoice(ctx, actorID, q, true)
			if err != nil {
				item.InvoiceError = err.Error()
			} else {
				inv = generated
				item.InvoiceID = &generated.ID
				res.GeneratedInvoices = append(res.GeneratedInvoices, GeneratedInvoice{
					QuotationID:   q.ID,
					InvoiceID:     generated.ID,
					InvoiceNumber: generated.InvoiceNumber,
					TotalAmount:   generated.TotalAmount,
				})
			}
		}

		email := s.bulkEmail(ctx, notify.EventQuotationApproved, q, inv)
		item.EmailStatus = email.Status
		res.EmailResults = append(res.EmailResults, email)
		res.EmailSummary.add(email)
		res.Items = append(res.Items, item)
	}
	res.Items = append(res.Items, batch.skipped...)
	s.logBulk(res)
	return res, nil
}

// RejectMany rejects the DRAFT quotations among ids and sends rejection emails.
func (s *Service) RejectMany(ctx context.Context, actorID int64, ids []int64, reason string) (*BulkResult, error) {
	batch, err := s.transitionMany(ctx, actorID, ids, StatusRejected, reason)
	if err != nil {
		return nil, err
	}
	res := &BulkResult{
		Action:        BulkReject,
		AffectedCount: batch.affected,
		EmailResults:  []EmailResult{},
		EmailSummary:  &EmailSummary{},
		Items:         []BulkItem{},
	}
	for i := range batch.quotations {
		q := &batch.quotations[i]
		s.recordTransition(ctx, q, batch.change)
		email := s.bulkEmail(ctx, notify.EventQuotationRejected, q, nil)
		res.EmailResults = append(res.EmailResults, email)
		res.EmailSummary.add(email)
		res.Items = append(res.Items, BulkItem{
			QuotationID:     q.ID,
			QuotationNumber: q.QuotationNumber,
			Status:          ItemRejected,
			EmailStatus:     email.Status,
		})
	}
	res.Items = append(res.Items, batch.skipped...)
	s.logBulk(res)
	return res, nil
}

// DeleteMany deletes the accessible quotations among ids one by one. APPROVED
// quotations and those with a paid invoice are skipped.
func (s *Service) DeleteMany(ctx context.Context, actorID int64, ids []int64) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, httpx.Validationf("quotationIds must not be empty")
	}
	if !s.can(ctx, actorID, shared.PermQuotationsDelete) {
		return nil, httpx.Forbiddenf("missing permission %s", shared.PermQuotationsDelete)
	}
	found, err := s.repo.ListForBulk(ctx, ids, "", s.scopeOwner(ctx, actorID))
	if err != nil {
		return nil, err
	}

	res := &BulkResult{Action: BulkDelete, Items: []BulkItem{}}
	for i := range found {
		q := &found[i]
		item := BulkItem{QuotationID: q.ID, QuotationNumber: q.QuotationNumber}
		if err := s.deletable(ctx, q); err != nil {
			item.Status = ItemSkipped
			item.Error = err.Error()
			res.Items = append(res.Items, item)
			continue
		}
		if err := s.repo.Delete(ctx, q.ID); err != nil {
			s.logger.Error("bulk delete quotation", slog.Int64("quotation_id", q.ID), slog.Any("error", err))
			item.Status = ItemFailed
			item.Error = err.Error()
			res.Items = append(res.Items, item)
			continue
		}
		s.observe("deleted")
		item.Status = ItemDeleted
		res.AffectedCount++
		res.Items = append(res.Items, item)
	}
	res.Items = append(res.Items, missing(ids, found, "not found or not accessible")...)
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "quotation.bulk_delete",
		Entity:   shared.EntityQuotation,
		EntityID: "bulk",
		Meta:     map[string]any{"requested": len(ids), "deleted": res.AffectedCount},
	})
	s.logBulk(res)
	return res, nil
}

type transitionBatch struct {
	quotations []Quotation
	skipped    []BulkItem
	affected   int
	change     StatusChange
}

// transitionMany checks the approve permission once, loads the accessible
// DRAFT quotations among ids and moves them to status in a single update.
// Only the rows the update actually changed are carried forward; a draft
// moved by another request in between is reported as skipped.
func (s *Service) transitionMany(ctx context.Context, actorID int64, ids []int64, status Status, reason string) (*transitionBatch, error) {
	if len(ids) == 0 {
		return nil, httpx.Validationf("quotationIds must not be empty")
	}
	if !s.can(ctx, actorID, shared.PermQuotationsApprove) {
		return nil, httpx.Forbiddenf("missing permission %s", shared.PermQuotationsApprove)
	}
	drafts, err := s.repo.ListForBulk(ctx, ids, StatusDraft, s.scopeOwner(ctx, actorID))
	if err != nil {
		return nil, err
	}
	batch := &transitionBatch{
		change:  StatusChange{Status: status, ActorID: actorID, Reason: strings.TrimSpace(reason), At: s.now()},
		skipped: missing(ids, drafts, "not found, not accessible or not in DRAFT"),
	}
	if len(drafts) == 0 {
		return batch, nil
	}

	draftIDs := make([]int64, len(drafts))
	for i, q := range drafts {
		draftIDs[i] = q.ID
	}
	changed, err := s.repo.BulkUpdateStatus(ctx, draftIDs, batch.change)
	if err != nil {
		return nil, err
	}
	updated := make(map[int64]struct{}, len(changed))
	for _, id := range changed {
		updated[id] = struct{}{}
	}
	batch.affected = len(updated)
	for i := range drafts {
		q := drafts[i]
		if _, ok := updated[q.ID]; !ok {
			batch.skipped = append(batch.skipped, BulkItem{QuotationID: q.ID, QuotationNumber: q.QuotationNumber, Status: ItemSkipped, Error: "no longer in DRAFT"})
			continue
		}
		q.Status = status
		at := batch.change.At
		actor := actorID
		switch status {
		case StatusApproved:
			q.ApprovedBy, q.ApprovedAt = &actor, &at
		case StatusRejected:
			q.RejectedBy, q.RejectedAt = &actor, &at
			q.RejectionReason = batch.change.Reason
		}
		batch.quotations = append(batch.quotations, q)
	}
	return batch, nil
}

func (s *Service) bulkEmail(ctx context.Context, event notify.Event, q *Quotation, inv *invoices.Invoice) EmailResult {
	receipt, err := s.notifyClient(ctx, event, q, inv)
	switch {
	case err == nil:
		return EmailResult{QuotationID: q.ID, Recipient: receipt.Recipient, Status: EmailSent, Success: true}
	case errors.Is(err, notify.ErrNoRecipient):
		return EmailResult{QuotationID: q.ID, Status: EmailSkipped, Error: err.Error()}
	default:
		return EmailResult{QuotationID: q.ID, Status: EmailFailed, Error: err.Error()}
	}
}

func (s *Service) logBulk(res *BulkResult) {
	attrs := []any{
		slog.String("action", string(res.Action)),
		slog.Int("affected", res.AffectedCount),
		slog.Int("items", len(res.Items)),
	}
	if res.EmailSummary != nil {
		attrs = append(attrs,
			slog.Int("emails_sent", res.EmailSummary.EmailsSent),
			slog.Int("emails_failed", res.EmailSummary.EmailsFailed),
			slog.Int("emails_skipped", res.EmailSummary.EmailsSkipped))
	}
	s.logger.Info("quotation bulk action", attrs...)
}

// missing reports the ids that were not part of found as skipped items.
func missing(ids []int64, found []Quotation, reason string) []BulkItem {
	seen := make(map[int64]struct{}, len(found))
	for _, q := range found {
		seen[q.ID] = struct{}{}
	}
	var out []BulkItem
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, BulkItem{QuotationID: id, Status: ItemSkipped, Error: reason})
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
