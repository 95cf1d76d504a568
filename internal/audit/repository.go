package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow returns one window of rows ordered newest first.
func (r *PGRepository) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := whereClause(f)
	args = append(args, limit, offset)
	return r.query(ctx, fmt.Sprintf(`SELECT occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
}

// TimelineAll returns up to limit rows ordered newest first.
func (r *PGRepository) TimelineAll(ctx context.Context, f TimelineFilters, limit int) ([]TimelineRow, error) {
	where, args := whereClause(f)
	args = append(args, limit)
	return r.query(ctx, fmt.Sprintf(`SELECT occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d`, where, len(args)), args...)
}

func (r *PGRepository) query(ctx context.Context, sql string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		var meta []byte
		if err := row.Scan(&t.At, &t.ActorID, &t.Action, &t.Entity, &t.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			t.Meta = meta
		}
		return t, nil
	})
}

func whereClause(f TimelineFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID != 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
