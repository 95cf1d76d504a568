package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

const invoiceNumberConstraint = "invoices_invoice_number_key"

// PGRepository is the Postgres Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres invoice repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const invoiceColumns = `id, invoice_number, type, quotation_id, client_id, created_by, status,
	subtotal, gst_percentage, gst_amount, pst_percentage, pst_amount, combined_tax_amount,
	tax_percentage, tax_amount, total_amount, due_date, paid_date, email_sent, email_sent_at,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var typ, status string
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &typ, &inv.QuotationID, &inv.ClientID, &inv.CreatedBy, &status,
		&inv.Subtotal, &inv.GSTPercentage, &inv.GSTAmount, &inv.PSTPercentage, &inv.PSTAmount, &inv.CombinedTaxAmount,
		&inv.TaxPercentage, &inv.TaxAmount, &inv.TotalAmount, &inv.DueDate, &inv.PaidDate, &inv.EmailSent, &inv.EmailSentAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Type = Type(typ)
	inv.Status = Status(status)
	return &inv, nil
}

func notFound(err error, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return httpx.NotFoundf("invoice %d not found", id)
	}
	return err
}

// GetQuotationRef reads the quotation fields invoices depend on.
func (r *PGRepository) GetQuotationRef(ctx context.Context, quotationID int64) (QuotationRef, error) {
	var q QuotationRef
	var taxType string
	err := r.pool.QueryRow(ctx, `SELECT id, quotation_number, title, client_id, user_id, status, tax_type,
	subtotal, gst_percentage, pst_percentage, valid_until
FROM quotations WHERE id = $1`, quotationID).Scan(&q.ID, &q.Number, &q.Title, &q.ClientID, &q.OwnerID, &q.Status,
		&taxType, &q.Subtotal, &q.GSTPercentage, &q.PSTPercentage, &q.ValidUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuotationRef{}, httpx.NotFoundf("quotation %d not found", quotationID)
	}
	if err != nil {
		return QuotationRef{}, err
	}
	q.TaxType = tax.Type(taxType)
	return q, nil
}

// FindByQuotationAndType returns the invoice of a type for a quotation, or nil.
func (r *PGRepository) FindByQuotationAndType(ctx context.Context, quotationID int64, t Type) (*Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+`
FROM invoices WHERE quotation_id = $1 AND type = $2 ORDER BY id LIMIT 1`, quotationID, string(t)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// HasPaidInvoice reports whether any invoice of the quotation is PAID.
func (r *PGRepository) HasPaidInvoice(ctx context.Context, quotationID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE quotation_id = $1 AND status = 'PAID')`, quotationID).Scan(&exists)
	return exists, err
}

// CountInvoicesInPeriod counts invoices of a type created in [from, to).
func (r *PGRepository) CountInvoicesInPeriod(ctx context.Context, invoiceType string, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE type = $1 AND created_at >= $2 AND created_at < $3`,
		invoiceType, from, to).Scan(&n)
	return n, err
}

// Create inserts an invoice. A collision on invoice_number yields ErrDuplicateNumber.
func (r *PGRepository) Create(ctx context.Context, inv Invoice) (*Invoice, error) {
	created, err := scanInvoice(r.pool.QueryRow(ctx, `INSERT INTO invoices (
	invoice_number, type, quotation_id, client_id, created_by, status,
	subtotal, gst_percentage, gst_amount, pst_percentage, pst_amount, combined_tax_amount,
	tax_percentage, tax_amount, total_amount, due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
RETURNING `+invoiceColumns,
		inv.InvoiceNumber, string(inv.Type), inv.QuotationID, inv.ClientID, inv.CreatedBy, string(inv.Status),
		inv.Subtotal, inv.GSTPercentage, inv.GSTAmount, inv.PSTPercentage, inv.PSTAmount, inv.CombinedTaxAmount,
		inv.TaxPercentage, inv.TaxAmount, inv.TotalAmount, inv.DueDate))
	if err != nil {
		if shared.IsUniqueViolation(err, invoiceNumberConstraint) {
			return nil, ErrDuplicateNumber
		}
		return nil, err
	}
	return created, nil
}

// Get fetches an invoice by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, id)
	}
	return inv, nil
}

// List returns a filtered page of invoices, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.QuotationID > 0 {
		args = append(args, filter.QuotationID)
		conds = append(conds, fmt.Sprintf("quotation_id = $%d", len(args)))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inv)
	}
	return out, total, rows.Err()
}

// ListByIDs returns the invoices among ids.
func (r *PGRepository) ListByIDs(ctx context.Context, ids []int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// UpdateStatus sets the status, stamping paid_date when given.
func (r *PGRepository) UpdateStatus(ctx context.Context, id int64, status Status, paidDate *time.Time) (*Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `UPDATE invoices
SET status = $2, paid_date = COALESCE($3, paid_date), updated_at = NOW()
WHERE id = $1
RETURNING `+invoiceColumns, id, string(status), paidDate))
	if err != nil {
		return nil, notFound(err, id)
	}
	return inv, nil
}

// MarkEmailSent stamps email delivery and advances PENDING to SENT.
func (r *PGRepository) MarkEmailSent(ctx context.Context, id int64, at time.Time) (*Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `UPDATE invoices
SET email_sent = TRUE, email_sent_at = $2,
	status = CASE WHEN status = 'PENDING' THEN 'SENT' ELSE status END,
	updated_at = NOW()
WHERE id = $1
RETURNING `+invoiceColumns, id, at))
	if err != nil {
		return nil, notFound(err, id)
	}
	return inv, nil
}

// UpdateTaxes persists recomputed tax figures.
func (r *PGRepository) UpdateTaxes(ctx context.Context, inv Invoice) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices
SET gst_percentage = $2, gst_amount = $3, pst_percentage = $4, pst_amount = $5, combined_tax_amount = $6,
	tax_percentage = $7, tax_amount = $8, total_amount = $9, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('PAID', 'CANCELLED')`,
		inv.ID, inv.GSTPercentage, inv.GSTAmount, inv.PSTPercentage, inv.PSTAmount, inv.CombinedTaxAmount,
		inv.TaxPercentage, inv.TaxAmount, inv.TotalAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.Conflictf("invoice %d is locked", inv.ID)
	}
	return nil
}

// Delete removes an unpaid invoice.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1 AND status <> 'PAID'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFoundf("invoice %d not found", id)
	}
	return nil
}
