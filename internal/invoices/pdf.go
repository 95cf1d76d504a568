package invoices

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
	"github.com/odyssey-erp/odyssey-billing/web"
)

// PDFRenderer converts HTML into a PDF document.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

var pdfTemplate = template.Must(template.New("invoice.html").Funcs(template.FuncMap{
	"money": notify.FormatMoney,
	"rate":  notify.FormatRate,
	"date":  func(t time.Time) string { return t.Format("2006-01-02") },
}).ParseFS(web.Templates, "templates/invoices/invoice.html"))

type pdfView struct {
	Company   string
	Invoice   *Invoice
	Quotation QuotationRef
	Client    clients.Client
	Breakdown tax.Breakdown
	ShowGST   bool
	ShowPST   bool
}

// PDFOptions overrides the tax presentation of a printed invoice. The stored
// figures are used when every field is empty.
type PDFOptions struct {
	TaxType       string
	CustomGSTRate *float64
	CustomPSTRate *float64
}

func (o PDFOptions) empty() bool {
	return o.TaxType == "" && o.CustomGSTRate == nil && o.CustomPSTRate == nil
}

// RenderHTML builds the printable invoice. A missing tax type keeps the
// selector implied by the invoice type; missing custom rates keep the stored
// ones.
func (s *Service) RenderHTML(ctx context.Context, id int64, opts PDFOptions) (string, error) {
	html, _, err := s.renderHTML(ctx, id, opts)
	return html, err
}

func (s *Service) renderHTML(ctx context.Context, id int64, opts PDFOptions) (string, *Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	b := storedBreakdown(inv)
	if !opts.empty() {
		taxType := inv.Type.TaxType()
		if opts.TaxType != "" {
			if taxType, err = tax.ParseType(opts.TaxType); err != nil {
				return "", nil, err
			}
		}
		if b, err = overrideBreakdown(inv, taxType, opts.CustomGSTRate, opts.CustomPSTRate); err != nil {
			return "", nil, err
		}
	}
	q, err := s.repo.GetQuotationRef(ctx, inv.QuotationID)
	if err != nil {
		return "", nil, err
	}
	client, err := s.clients.GetClient(ctx, inv.ClientID)
	if err != nil {
		return "", nil, err
	}

	view := pdfView{
		Company:   s.settings.EmailSettings(ctx).CompanyName,
		Invoice:   inv,
		Quotation: q,
		Client:    client,
		Breakdown: b,
		ShowGST:   b.TaxType == tax.GSTOnly || b.TaxType == tax.GSTAndPST,
		ShowPST:   b.TaxType == tax.PSTOnly || b.TaxType == tax.GSTAndPST,
	}
	var buf bytes.Buffer
	if err := pdfTemplate.Execute(&buf, view); err != nil {
		return "", nil, fmt.Errorf("render invoice html: %w", err)
	}
	return buf.String(), inv, nil
}

// PDF renders the invoice through the PDF converter.
func (s *Service) PDF(ctx context.Context, id int64, opts PDFOptions) ([]byte, string, error) {
	if s.pdf == nil {
		return nil, "", httpx.Conflictf("pdf rendering is not configured")
	}
	html, inv, err := s.renderHTML(ctx, id, opts)
	if err != nil {
		return nil, "", err
	}
	doc, err := s.pdf.RenderHTML(ctx, html)
	if err != nil {
		return nil, "", fmt.Errorf("convert invoice pdf: %w", err)
	}
	return doc, inv.InvoiceNumber + ".pdf", nil
}

// overrideBreakdown recomputes the invoice's taxes for presentation, with the
// stored rates standing in for missing custom ones.
func overrideBreakdown(inv *Invoice, taxType tax.Type, customGST, customPST *float64) (tax.Breakdown, error) {
	gst, pst := inv.GSTPercentage, inv.PSTPercentage
	if customGST != nil {
		gst = *customGST
	}
	if customPST != nil {
		pst = *customPST
	}
	if err := tax.ValidateRate("customGstRate", gst); err != nil {
		return tax.Breakdown{}, err
	}
	if err := tax.ValidateRate("customPstRate", pst); err != nil {
		return tax.Breakdown{}, err
	}
	return tax.Calculate(inv.Subtotal, gst, pst, taxType)
}
