package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
)

const quotationNumberConstraint = "quotations_quotation_number_key"

// PGRepository is the Postgres Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres quotation repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const quotationColumns = `id, quotation_number, title, description, client_id, user_id, status, tax_type,
	subtotal, gst_percentage, gst_amount, pst_percentage, pst_amount, combined_tax_amount,
	tax_percentage, tax_amount, total_amount, valid_until, notes, form_data,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason, created_at, updated_at`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var status, taxType string
	var formData []byte
	err := row.Scan(&q.ID, &q.QuotationNumber, &q.Title, &q.Description, &q.ClientID, &q.UserID, &status, &taxType,
		&q.Subtotal, &q.GSTPercentage, &q.GSTAmount, &q.PSTPercentage, &q.PSTAmount, &q.CombinedTaxAmount,
		&q.TaxPercentage, &q.TaxAmount, &q.TotalAmount, &q.ValidUntil, &q.Notes, &formData,
		&q.ApprovedBy, &q.ApprovedAt, &q.RejectedBy, &q.RejectedAt, &q.RejectionReason, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Status = Status(status)
	q.TaxType = tax.Type(taxType)
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &q.FormData); err != nil {
			return nil, fmt.Errorf("decode form_data: %w", err)
		}
	}
	return &q, nil
}

func scanQuotations(rows pgx.Rows) ([]Quotation, error) {
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func encodeFormData(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Create inserts a quotation. A collision on quotation_number yields ErrDuplicateNumber.
func (r *PGRepository) Create(ctx context.Context, q Quotation) (*Quotation, error) {
	formData, err := encodeFormData(q.FormData)
	if err != nil {
		return nil, err
	}
	created, err := scanQuotation(r.pool.QueryRow(ctx, `INSERT INTO quotations (
	quotation_number, title, description, client_id, user_id, status, tax_type,
	subtotal, gst_percentage, gst_amount, pst_percentage, pst_amount, combined_tax_amount,
	tax_percentage, tax_amount, total_amount, valid_until, notes, form_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
RETURNING `+quotationColumns,
		q.QuotationNumber, q.Title, q.Description, q.ClientID, q.UserID, string(q.Status), string(q.TaxType),
		q.Subtotal, q.GSTPercentage, q.GSTAmount, q.PSTPercentage, q.PSTAmount, q.CombinedTaxAmount,
		q.TaxPercentage, q.TaxAmount, q.TotalAmount, q.ValidUntil, q.Notes, formData))
	if err != nil {
		if shared.IsUniqueViolation(err, quotationNumberConstraint) {
			return nil, ErrDuplicateNumber
		}
		return nil, err
	}
	return created, nil
}

// Get fetches a quotation by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.NotFoundf("quotation %d not found", id)
	}
	return q, err
}

// List returns a filtered page of quotations, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Quotation, int, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.OwnerID > 0 {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR quotation_number ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+` FROM quotations`+where+
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanQuotations(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update writes the editable fields of a DRAFT quotation.
func (r *PGRepository) Update(ctx context.Context, q Quotation) (*Quotation, error) {
	formData, err := encodeFormData(q.FormData)
	if err != nil {
		return nil, err
	}
	updated, err := scanQuotation(r.pool.QueryRow(ctx, `UPDATE quotations SET
	title = $2, description = $3, client_id = $4, tax_type = $5,
	subtotal = $6, gst_percentage = $7, gst_amount = $8, pst_percentage = $9, pst_amount = $10,
	combined_tax_amount = $11, tax_percentage = $12, tax_amount = $13, total_amount = $14,
	valid_until = $15, notes = $16, form_data = $17, updated_at = NOW()
WHERE id = $1 AND status = 'DRAFT'
RETURNING `+quotationColumns,
		q.ID, q.Title, q.Description, q.ClientID, string(q.TaxType),
		q.Subtotal, q.GSTPercentage, q.GSTAmount, q.PSTPercentage, q.PSTAmount,
		q.CombinedTaxAmount, q.TaxPercentage, q.TaxAmount, q.TotalAmount,
		q.ValidUntil, q.Notes, formData))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.Conflictf("quotation %d is no longer editable", q.ID)
	}
	return updated, err
}

// Delete removes a quotation that is not APPROVED and has no paid invoice.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var paid bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE quotation_id = $1 AND status = 'PAID')`, id).Scan(&paid); err != nil {
			return err
		}
		if paid {
			return httpx.Conflictf("quotation %d has a paid invoice", id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM invoices WHERE quotation_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM quotations WHERE id = $1 AND status <> 'APPROVED'`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return httpx.Conflictf("quotation %d cannot be deleted", id)
		}
		return nil
	})
}

// UpdateStatus moves a DRAFT quotation to change.Status.
func (r *PGRepository) UpdateStatus(ctx context.Context, id int64, change StatusChange) (*Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, statusUpdateSQL(`id = $1`)+` RETURNING `+quotationColumns,
		id, string(change.Status), change.ActorID, change.At, change.Reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.Conflictf("quotation %d is not in DRAFT", id)
	}
	return q, err
}

// ListForBulk returns the quotations among ids filtered by status and owner.
func (r *PGRepository) ListForBulk(ctx context.Context, ids []int64, status Status, ownerID int64) ([]Quotation, error) {
	args := []any{ids}
	query := `SELECT ` + quotationColumns + ` FROM quotations WHERE id = ANY($1)`
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if ownerID > 0 {
		args = append(args, ownerID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return scanQuotations(rows)
}

// BulkUpdateStatus moves the DRAFT quotations among ids in one statement and
// returns the ids that changed.
func (r *PGRepository) BulkUpdateStatus(ctx context.Context, ids []int64, change StatusChange) ([]int64, error) {
	rows, err := r.pool.Query(ctx, statusUpdateSQL(`id = ANY($1)`)+` RETURNING id`,
		ids, string(change.Status), change.ActorID, change.At, change.Reason)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// CountQuotationsInPeriod counts quotations created in [from, to).
func (r *PGRepository) CountQuotationsInPeriod(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotations WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

// statusUpdateSQL takes $1 as the match argument, then status, actor, time
// and reason as $2..$5.
func statusUpdateSQL(match string) string {
	return `UPDATE quotations SET
	status = $2,
	approved_by = CASE WHEN $2 = 'APPROVED' THEN $3 ELSE approved_by END,
	approved_at = CASE WHEN $2 = 'APPROVED' THEN $4 ELSE approved_at END,
	rejected_by = CASE WHEN $2 = 'REJECTED' THEN $3 ELSE rejected_by END,
	rejected_at = CASE WHEN $2 = 'REJECTED' THEN $4 ELSE rejected_at END,
	rejection_reason = CASE WHEN $2 = 'REJECTED' THEN $5 ELSE rejection_reason END,
	updated_at = NOW()
WHERE ` + match + ` AND status = 'DRAFT'`
}
