package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

func TestCreateManualDuplicateConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: "tax_invoice_gst", GSTPercentage: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, TypeGST, res.Invoice.Type)
	assert.Equal(t, 5.0, res.AppliedTaxRates.GSTRate)
	assert.Equal(t, 7.0, res.AppliedTaxRates.PSTRate)
	assert.Equal(t, 105.0, res.Invoice.TotalAmount)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypeGST)})
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.Len(t, f.repo.invoices, 1)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: "VAT"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypeGST), GSTPercentage: ptr(150)})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 2, Type: string(TypeGST)})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 99, Type: string(TypeGST)})
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypeGST), DueDate: "2020-01-01"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypeGST), DueDate: "next week"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Empty(t, f.repo.invoices)
}

func TestCreateHonoursRequestedDueDate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	due := time.Now().AddDate(0, 0, 10).Format(time.DateOnly)

	res, err := f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypeGST), DueDate: due})
	require.NoError(t, err)
	assert.Equal(t, due, res.Invoice.DueDate.Format(time.DateOnly))

	res, err = f.svc.Create(ctx, 5, CreateRequest{QuotationID: 1, Type: string(TypePST)})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), res.Invoice.DueDate, time.Minute)
}

func TestSendMarksInvoiceSent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, err := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1})
	require.NoError(t, err)

	res, err := f.svc.Send(ctx, 5, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Invoice.Status)
	assert.NotNil(t, res.Invoice.EmailSentAt)
	assert.Equal(t, "ada@example.com", res.EmailDetails.Recipient)
	assert.Nil(t, res.TaxBreakdown)
}

func TestSendWithoutClientEmail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, err := f.gen.Generate(ctx, GenerateRequest{QuotationID: 3})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, 5, inv.ID)
	assert.ErrorIs(t, err, notify.ErrNoRecipient)
	assert.Equal(t, 400, httpx.StatusFor(err))
	assert.Empty(t, f.mailer.requests)
}

func TestSendTransportFailureIsServerError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, err := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1})
	require.NoError(t, err)

	f.mailer.err = &notify.DeliveryError{Err: errTransport}
	_, err = f.svc.Send(ctx, 5, inv.ID)
	require.Error(t, err)
	assert.Equal(t, 500, httpx.StatusFor(err))

	stored, _ := f.repo.Get(ctx, inv.ID)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestSendWithTaxDoesNotPersistRecomputedAmounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, err := f.gen.Generate(ctx, GenerateRequest{QuotationID: 3})
	require.NoError(t, err)
	f.clients[11] = f.clients[10]

	res, err := f.svc.SendWithTax(ctx, 5, inv.ID, SendWithTaxRequest{TaxType: "GST_AND_PST", CustomGSTRate: ptr(5)})
	require.NoError(t, err)
	require.NotNil(t, res.TaxBreakdown)
	assert.Equal(t, 10.0, res.TaxBreakdown.GSTAmount)
	assert.Equal(t, 14.0, res.TaxBreakdown.PSTAmount)
	assert.Equal(t, 224.0, res.TaxBreakdown.TotalAmount)

	require.Len(t, f.mailer.requests, 1)
	assert.Equal(t, "gst_and_pst", f.mailer.requests[0].Variant)

	stored, _ := f.repo.Get(ctx, inv.ID)
	assert.Equal(t, 214.0, stored.TotalAmount)
	assert.Equal(t, 0.0, stored.GSTAmount)

	_, err = f.svc.SendWithTax(ctx, 5, inv.ID, SendWithTaxRequest{TaxType: "HST"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.SendWithTax(ctx, 5, inv.ID, SendWithTaxRequest{TaxType: "GST_ONLY", CustomGSTRate: ptr(101)})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Len(t, f.mailer.requests, 1)
}

func TestBulkUpdateTaxRatesSkipsLockedInvoices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1, Type: TypeGSTPST})
	b, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1, Type: TypeGST})
	c, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1, Type: TypePST})
	_, err := f.svc.RecordPayment(ctx, 5, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, 5, c.ID)
	require.NoError(t, err)

	n, err := f.svc.BulkUpdateTaxRates(ctx, 5, BulkTaxRequest{InvoiceIDs: []int64{a.ID, b.ID, c.ID, 999}, GSTPercentage: ptr(6), PSTPercentage: ptr(8)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated, _ := f.repo.Get(ctx, a.ID)
	assert.Equal(t, 6.0, updated.GSTAmount)
	assert.Equal(t, 8.0, updated.PSTAmount)
	assert.Equal(t, 114.0, updated.TotalAmount)
	assert.Equal(t, 14.0, updated.TaxPercentage)

	paid, _ := f.repo.Get(ctx, b.ID)
	assert.Equal(t, 105.0, paid.TotalAmount)
}

func TestBulkUpdateTaxRatesValidation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.BulkUpdateTaxRates(context.Background(), 5, BulkTaxRequest{})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	_, err = f.svc.BulkUpdateTaxRates(context.Background(), 5, BulkTaxRequest{InvoiceIDs: []int64{1}, GSTPercentage: ptr(5), PSTPercentage: ptr(-1)})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	_, err = f.svc.BulkUpdateTaxRates(context.Background(), 5, BulkTaxRequest{InvoiceIDs: []int64{1}, GSTPercentage: ptr(5)})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1})

	paidAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	paid, err := f.svc.RecordPayment(ctx, 5, inv.ID, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidDate)
	assert.Equal(t, paidAt, *paid.PaidDate)

	_, err = f.svc.Cancel(ctx, 5, inv.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	err = f.svc.Delete(ctx, 5, inv.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelledInvoiceIsTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1})

	_, err := f.svc.Cancel(ctx, 5, inv.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, 5, inv.ID, StatusApproved)
	assert.ErrorIs(t, err, httpx.ErrConflict)
	_, err = f.svc.Send(ctx, 5, inv.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	require.NoError(t, f.svc.Delete(ctx, 5, inv.ID))
	_, err = f.svc.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusSent))
	assert.True(t, CanTransition(StatusSent, StatusApproved))
	assert.True(t, CanTransition(StatusApproved, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(StatusSent, StatusPending))
}

func TestTypeMapping(t *testing.T) {
	for _, typ := range []Type{TypeGST, TypePST, TypeGSTPST, TypeNoTax} {
		assert.Equal(t, typ, TypeFor(typ.TaxType()))
	}
}

type fakePDF struct{ html string }

func (f *fakePDF) RenderHTML(_ context.Context, html string) ([]byte, error) {
	f.html = html
	return []byte("%PDF-1.7"), nil
}

func TestPDFUsesRequestedTaxType(t *testing.T) {
	f := newFixture()
	pdf := &fakePDF{}
	f.svc.pdf = pdf
	ctx := context.Background()
	inv, _ := f.gen.Generate(ctx, GenerateRequest{QuotationID: 1})

	doc, name, err := f.svc.PDF(ctx, inv.ID, PDFOptions{TaxType: "PST_ONLY"})
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), doc)
	assert.Equal(t, inv.InvoiceNumber+".pdf", name)
	assert.Contains(t, pdf.html, "PST (7%)")
	assert.NotContains(t, pdf.html, "GST (")
	assert.Contains(t, pdf.html, "$107.00")

	_, _, err = f.svc.PDF(ctx, inv.ID, PDFOptions{TaxType: "VAT"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, _, err = f.svc.PDF(ctx, inv.ID, PDFOptions{TaxType: "GST_AND_PST", CustomGSTRate: ptr(10), CustomPSTRate: ptr(8)})
	require.NoError(t, err)
	assert.Contains(t, pdf.html, "GST (10%)")
	assert.Contains(t, pdf.html, "PST (8%)")
	assert.Contains(t, pdf.html, "$118.00")

	_, _, err = f.svc.PDF(ctx, inv.ID, PDFOptions{CustomPSTRate: ptr(9)})
	require.NoError(t, err)
	assert.Contains(t, pdf.html, "PST (9%)")

	_, _, err = f.svc.PDF(ctx, inv.ID, PDFOptions{TaxType: "GST_ONLY", CustomGSTRate: ptr(150)})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}
