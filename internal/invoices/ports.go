package invoices

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/settings"
)

// Repository defines data access for invoices.
type Repository interface {
	GetQuotationRef(ctx context.Context, quotationID int64) (QuotationRef, error)
	// FindByQuotationAndType returns nil when no invoice exists.
	FindByQuotationAndType(ctx context.Context, quotationID int64, t Type) (*Invoice, error)
	HasPaidInvoice(ctx context.Context, quotationID int64) (bool, error)
	CountInvoicesInPeriod(ctx context.Context, invoiceType string, from, to time.Time) (int, error)
	Create(ctx context.Context, inv Invoice) (*Invoice, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Invoice, error)
	UpdateStatus(ctx context.Context, id int64, status Status, paidDate *time.Time) (*Invoice, error)
	// MarkEmailSent stamps email_sent_at and advances PENDING to SENT.
	MarkEmailSent(ctx context.Context, id int64, at time.Time) (*Invoice, error)
	UpdateTaxes(ctx context.Context, inv Invoice) error
	Delete(ctx context.Context, id int64) error
}

// SettingsSource supplies non-failing settings lookups.
type SettingsSource interface {
	TaxSettings(ctx context.Context) settings.TaxSettings
	InvoiceSettings(ctx context.Context) settings.InvoiceSettings
	EmailSettings(ctx context.Context) settings.EmailSettings
}

// NumberSource issues invoice numbers.
type NumberSource interface {
	Next(ctx context.Context, invoiceType string) (string, error)
}

// Mailer sends client notifications.
type Mailer interface {
	Send(ctx context.Context, req notify.Request) (*notify.Receipt, error)
}

// Observer counts invoice lifecycle events.
type Observer interface {
	ObserveInvoice(event string)
}
