package quotations

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Repository defines data access for quotations.
type Repository interface {
	Create(ctx context.Context, q Quotation) (*Quotation, error)
	Get(ctx context.Context, id int64) (*Quotation, error)
	List(ctx context.Context, filter ListFilter) ([]Quotation, int, error)
	// Update writes editable fields; it affects DRAFT rows only.
	Update(ctx context.Context, q Quotation) (*Quotation, error)
	Delete(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, change StatusChange) (*Quotation, error)
	// ListForBulk returns the quotations among ids in status (any status when
	// empty), restricted to ownerID unless it is zero.
	ListForBulk(ctx context.Context, ids []int64, status Status, ownerID int64) ([]Quotation, error)
	// BulkUpdateStatus moves the DRAFT quotations among ids and returns the
	// ids it changed.
	BulkUpdateStatus(ctx context.Context, ids []int64, change StatusChange) ([]int64, error)
	CountQuotationsInPeriod(ctx context.Context, from, to time.Time) (int, error)
}

// NumberSource issues quotation numbers.
type NumberSource interface {
	Next(ctx context.Context) (string, error)
}

// InvoiceGenerator derives invoices from approved quotations.
type InvoiceGenerator interface {
	Generate(ctx context.Context, req invoices.GenerateRequest) (*invoices.Invoice, error)
}

// PaidInvoiceChecker reports whether a quotation has a paid invoice.
type PaidInvoiceChecker interface {
	HasPaidInvoice(ctx context.Context, quotationID int64) (bool, error)
}

// ApprovalLog stores and lists the transition history.
type ApprovalLog interface {
	shared.ApprovalSink
	List(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error)
}

// Observer counts quotation transitions.
type Observer interface {
	ObserveQuotation(transition string)
}
