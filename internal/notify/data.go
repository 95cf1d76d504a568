package notify

import (
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TemplateData is the full set of values a template may reference. Only
// these fields are substituted; any other {{token}} is left untouched.
type TemplateData struct {
	CompanyName     string
	ClientName      string
	QuotationNumber string
	QuotationTitle  string
	InvoiceNumber   string
	InvoiceType     string
	TaxType         string
	Subtotal        float64
	GSTRate         float64
	GSTAmount       float64
	PSTRate         float64
	PSTAmount       float64
	TaxAmount       float64
	TotalAmount     float64
	DueDate         *time.Time
	ValidUntil      *time.Time
	RejectionReason string
}

var printer = message.NewPrinter(language.English)

// FormatMoney renders an amount as $1,234.56.
func FormatMoney(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// FormatRate renders a percentage without trailing zeros.
func FormatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("January 2, 2006")
}

func (d TemplateData) values() map[string]string {
	return map[string]string{
		"company_name":     d.CompanyName,
		"client_name":      d.ClientName,
		"quotation_number": d.QuotationNumber,
		"quotation_title":  d.QuotationTitle,
		"invoice_number":   d.InvoiceNumber,
		"invoice_type":     d.InvoiceType,
		"tax_type":         d.TaxType,
		"subtotal":         FormatMoney(d.Subtotal),
		"gst_rate":         FormatRate(d.GSTRate),
		"gst_amount":       FormatMoney(d.GSTAmount),
		"pst_rate":         FormatRate(d.PSTRate),
		"pst_amount":       FormatMoney(d.PSTAmount),
		"tax_amount":       FormatMoney(d.TaxAmount),
		"total_amount":     FormatMoney(d.TotalAmount),
		"due_date":         formatDate(d.DueDate),
		"valid_until":      formatDate(d.ValidUntil),
		"rejection_reason": d.RejectionReason,
	}
}

// Placeholders lists the tokens templates may use.
func Placeholders() []string {
	vals := TemplateData{}.values()
	out := make([]string, 0, len(vals))
	for k := range vals {
		out = append(out, "{{"+k+"}}")
	}
	sort.Strings(out)
	return out
}
