package quotations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

func TestCreateComputesTaxes(t *testing.T) {
	f := newFixture()
	q, err := f.svc.Create(context.Background(), userSales, CreateRequest{
		Title:         "  Kitchen renovation ",
		ClientID:      10,
		Subtotal:      100,
		TaxType:       "gst_and_pst",
		GSTPercentage: ptr(5.0),
		PSTPercentage: ptr(7.0),
		FormData:      map[string]any{"rooms": 2.0},
	})
	require.NoError(t, err)

	assert.Equal(t, "Kitchen renovation", q.Title)
	assert.Equal(t, StatusDraft, q.Status)
	assert.Equal(t, userSales, q.UserID)
	assert.Equal(t, "QT-20260314-001000", q.QuotationNumber)
	assert.Equal(t, tax.GSTAndPST, q.TaxType)
	assert.Equal(t, 5.0, q.GSTAmount)
	assert.Equal(t, 7.0, q.PSTAmount)
	assert.Equal(t, 12.0, q.CombinedTaxAmount)
	assert.Equal(t, 12.0, q.TaxAmount)
	assert.Equal(t, 112.0, q.TotalAmount)
	assert.Equal(t, 1, f.observer["created"])
}

func TestCreateInfersTaxTypeFromDefaults(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	q, err := f.svc.Create(ctx, userSales, CreateRequest{Title: "Defaults", ClientID: 10, Subtotal: 200})
	require.NoError(t, err)
	assert.Equal(t, tax.GSTAndPST, q.TaxType)
	assert.Equal(t, 224.0, q.TotalAmount)

	q, err = f.svc.Create(ctx, userSales, CreateRequest{Title: "PST", ClientID: 10, Subtotal: 200, GSTPercentage: ptr(0.0)})
	require.NoError(t, err)
	assert.Equal(t, tax.PSTOnly, q.TaxType)
	assert.Equal(t, 0.0, q.GSTAmount)
	assert.Equal(t, 14.0, q.PSTAmount)
	assert.Equal(t, 214.0, q.TotalAmount)

	f.settings.tax.EnableAutoTaxCalculation = false
	q, err = f.svc.Create(ctx, userSales, CreateRequest{Title: "Manual", ClientID: 10, Subtotal: 200})
	require.NoError(t, err)
	assert.Equal(t, tax.NoTax, q.TaxType)
	assert.Equal(t, 200.0, q.TotalAmount)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, userSales, CreateRequest{Title: "x", ClientID: 99, Subtotal: 10})
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.Create(ctx, userSales, CreateRequest{Title: "x", ClientID: 10, Subtotal: 10, TaxType: "VAT"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, userSales, CreateRequest{Title: "x", ClientID: 10, Subtotal: 10, PSTPercentage: ptr(120.0)})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, userSales, CreateRequest{Title: "   ", ClientID: 10})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRetriesNumberCollision(t *testing.T) {
	f := newFixture()
	f.repo.collisions = 1
	q, err := f.svc.Create(context.Background(), userSales, CreateRequest{Title: "Retry", ClientID: 10, Subtotal: 1})
	require.NoError(t, err)
	assert.Equal(t, "QT-20260314-002000", q.QuotationNumber)
	assert.Equal(t, 2, f.repo.createCalls)
}

func TestUpdateDraftRecomputesTaxes(t *testing.T) {
	f := newFixture()
	q := f.draft(userSales, 10)

	updated, err := f.svc.Update(context.Background(), userSales, q.ID, UpdateRequest{
		Subtotal: ptr(200.0),
		TaxType:  ptr("PST_ONLY"),
		Notes:    ptr("net 30"),
	})
	require.NoError(t, err)
	assert.Equal(t, tax.PSTOnly, updated.TaxType)
	assert.Equal(t, 0.0, updated.GSTAmount)
	assert.Equal(t, 14.0, updated.PSTAmount)
	assert.Equal(t, 214.0, updated.TotalAmount)
	assert.Equal(t, "net 30", updated.Notes)
}

func TestUpdateApprovedIsRefused(t *testing.T) {
	f := newFixture()
	q := f.draft(userSales, 10)
	f.repo.items[q.ID].Status = StatusApproved

	_, err := f.svc.Update(context.Background(), userSales, q.ID, UpdateRequest{Subtotal: ptr(1.0)})
	require.ErrorIs(t, err, httpx.ErrConflict)
	assert.Contains(t, err.Error(), "cannot update approved quotation")
	assert.Equal(t, 112.0, f.repo.items[q.ID].TotalAmount)
}

func TestAccessIsScopedToOwner(t *testing.T) {
	f := newFixture()
	q := f.draft(userAdmin, 10)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, userSales, q.ID)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	got, err := f.svc.Get(ctx, userAdmin, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)

	f.draft(userSales, 10)
	mine, total, err := f.svc.List(ctx, userSales, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, userSales, mine[0].UserID)

	_, total, err = f.svc.List(ctx, userAdmin, ListFilter{Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestApproveGeneratesInvoiceAndEmails(t *testing.T) {
	f := newFixture()
	q := f.draft(userAdmin, 10)

	res, err := f.svc.SetStatus(context.Background(), userAdmin, q.ID, StatusRequest{Status: "APPROVED"})
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, res.Quotation.Status)
	require.NotNil(t, res.Quotation.ApprovedBy)
	assert.Equal(t, userAdmin, *res.Quotation.ApprovedBy)
	require.NotNil(t, res.GeneratedInvoice)
	assert.True(t, res.EmailSent)
	assert.Empty(t, res.EmailError)
	assert.Empty(t, res.InvoiceError)

	require.Len(t, f.gen.requests, 1)
	req := f.gen.requests[0]
	assert.Equal(t, invoices.TypeGSTPST, req.Type)
	assert.Equal(t, 5.0, *req.GSTRate)
	assert.Equal(t, 7.0, *req.PSTRate)
	assert.False(t, req.SuppressAutoEmail)

	require.Len(t, f.mailer.requests, 1)
	mail := f.mailer.requests[0]
	assert.Equal(t, notify.EventQuotationApproved, mail.Event)
	assert.Equal(t, "gst_and_pst", mail.Variant)
	assert.Equal(t, res.GeneratedInvoice.InvoiceNumber, mail.Data.InvoiceNumber)
	assert.Equal(t, 112.0, mail.Data.TotalAmount)

	require.Len(t, f.approvals.logs, 1)
	assert.Equal(t, shared.ApprovalApprove, f.approvals.logs[0].Action)
	assert.Equal(t, 1, f.observer["approved"])
}

func TestApproveWithoutClientEmailStillSucceeds(t *testing.T) {
	f := newFixture()
	q := f.draft(userAdmin, 11)

	res, err := f.svc.SetStatus(context.Background(), userAdmin, q.ID, StatusRequest{Status: "approved"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Quotation.Status)
	assert.NotNil(t, res.GeneratedInvoice)
	assert.False(t, res.EmailSent)
	assert.Equal(t, notify.ErrNoRecipient.Error(), res.EmailError)
	assert.Empty(t, f.mailer.requests)
}

func TestApproveInvoiceFailureDoesNotRollBack(t *testing.T) {
	f := newFixture()
	q := f.draft(userAdmin, 10)
	f.gen.failFor[q.ID] = errGenerate

	res, err := f.svc.SetStatus(context.Background(), userAdmin, q.ID, StatusRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Nil(t, res.GeneratedInvoice)
	assert.Equal(t, errGenerate.Error(), res.InvoiceError)
	assert.True(t, res.EmailSent)
	assert.Equal(t, StatusApproved, f.repo.items[q.ID].Status)
}

func TestApproveWithoutAutoGeneration(t *testing.T) {
	f := newFixture()
	f.settings.invoice.AutoGenerateOnApproval = false
	q := f.draft(userAdmin, 10)

	res, err := f.svc.SetStatus(context.Background(), userAdmin, q.ID, StatusRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Nil(t, res.GeneratedInvoice)
	assert.Empty(t, f.gen.requests)
	assert.True(t, res.EmailSent)
}

func TestSetStatusGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q := f.draft(userSales, 10)

	_, err := f.svc.SetStatus(ctx, userAdmin, q.ID, StatusRequest{Status: "ARCHIVED"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.SetStatus(ctx, userSales, q.ID, StatusRequest{Status: "APPROVED"})
	assert.ErrorIs(t, err, httpx.ErrForbidden)
	assert.Equal(t, StatusDraft, f.repo.items[q.ID].Status)

	res, err := f.svc.SetStatus(ctx, userSales, q.ID, StatusRequest{Status: "DRAFT"})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, res.Quotation.Status)
	assert.Empty(t, f.approvals.logs)

	_, err = f.svc.SetStatus(ctx, userAdmin, q.ID, StatusRequest{Status: "APPROVED"})
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, userAdmin, q.ID, StatusRequest{Status: "APPROVED"})
	require.ErrorIs(t, err, httpx.ErrConflict)
	assert.Contains(t, err.Error(), "already APPROVED")
	_, err = f.svc.SetStatus(ctx, userAdmin, q.ID, StatusRequest{Status: "REJECTED"})
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.Len(t, f.gen.requests, 1)
}

func TestApproverNeedsAccess(t *testing.T) {
	f := newFixture()
	q := f.draft(userSales, 10)
	_, err := f.svc.SetStatus(context.Background(), userApprover, q.ID, StatusRequest{Status: "APPROVED"})
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestRejectRecordsReasonAndEmails(t *testing.T) {
	f := newFixture()
	q := f.draft(userAdmin, 10)

	res, err := f.svc.SetStatus(context.Background(), userAdmin, q.ID, StatusRequest{Status: "REJECTED", Reason: " over budget "})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Quotation.Status)
	assert.Equal(t, "over budget", res.Quotation.RejectionReason)
	assert.Nil(t, res.GeneratedInvoice)
	assert.True(t, res.EmailSent)
	assert.Empty(t, f.gen.requests)

	require.Len(t, f.mailer.requests, 1)
	assert.Equal(t, notify.EventQuotationRejected, f.mailer.requests[0].Event)
	assert.Equal(t, "over budget", f.mailer.requests[0].Data.RejectionReason)

	history, err := f.svc.ApprovalHistory(context.Background(), userAdmin, q.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, shared.ApprovalReject, history[0].Action)
	assert.Equal(t, "over budget", history[0].Note)

	_, err = f.svc.Update(context.Background(), userAdmin, q.ID, UpdateRequest{Notes: ptr("x")})
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	approved := f.draft(userSales, 10)
	f.repo.items[approved.ID].Status = StatusApproved
	err := f.svc.Delete(ctx, userSales, approved.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	paid := f.draft(userSales, 10)
	f.repo.paid[paid.ID] = true
	err = f.svc.Delete(ctx, userSales, paid.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	draft := f.draft(userSales, 10)
	require.NoError(t, f.svc.Delete(ctx, userSales, draft.ID))
	_, err = f.svc.Get(ctx, userSales, draft.ID)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
	assert.Equal(t, 1, f.observer["deleted"])
}
