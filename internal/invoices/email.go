package invoices

import (
	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

// readyRequest builds the invoice_ready notification for inv, rendered with b
// and the template variant of b's tax selector.
func readyRequest(inv *Invoice, q QuotationRef, client clients.Client, company string, b tax.Breakdown) notify.Request {
	due := inv.DueDate
	return notify.Request{
		Event:   notify.EventInvoiceReady,
		Variant: notify.VariantFor(b.TaxType),
		To:      client.Email,
		ToName:  client.DisplayName(),
		Data: notify.TemplateData{
			CompanyName:     company,
			ClientName:      client.DisplayName(),
			QuotationNumber: q.Number,
			QuotationTitle:  q.Title,
			InvoiceNumber:   inv.InvoiceNumber,
			InvoiceType:     string(inv.Type),
			TaxType:         string(b.TaxType),
			Subtotal:        b.Subtotal,
			GSTRate:         b.GSTRate,
			GSTAmount:       b.GSTAmount,
			PSTRate:         b.PSTRate,
			PSTAmount:       b.PSTAmount,
			TaxAmount:       b.CombinedTaxAmount,
			TotalAmount:     b.TotalAmount,
			DueDate:         &due,
		},
	}
}

// storedBreakdown reconstructs the persisted tax figures of inv.
func storedBreakdown(inv *Invoice) tax.Breakdown {
	return tax.Breakdown{
		Subtotal:          inv.Subtotal,
		TaxType:           inv.Type.TaxType(),
		GSTRate:           inv.GSTPercentage,
		GSTAmount:         inv.GSTAmount,
		PSTRate:           inv.PSTPercentage,
		PSTAmount:         inv.PSTAmount,
		CombinedTaxAmount: inv.CombinedTaxAmount,
		TotalAmount:       inv.TotalAmount,
	}
}
