package notify

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores email templates in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a template repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const templateColumns = `id, template_key, subject, html_content, enabled, version, updated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Key, &t.Subject, &t.HTMLContent, &t.Enabled, &t.Version, &t.UpdatedAt)
	return t, err
}

// GetTemplate fetches a template by key.
func (r *Repository) GetTemplate(ctx context.Context, key string) (Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE template_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrTemplateNotFound
	}
	return t, err
}

// ListTemplates returns every stored template ordered by key.
func (r *Repository) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+templateColumns+` FROM email_templates ORDER BY template_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTemplate upserts by key, bumping the version on every update.
func (r *Repository) SaveTemplate(ctx context.Context, t Template) (Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `INSERT INTO email_templates (template_key, subject, html_content, enabled, version, updated_at)
VALUES ($1, $2, $3, $4, 1, NOW())
ON CONFLICT (template_key) DO UPDATE SET
	subject = EXCLUDED.subject,
	html_content = EXCLUDED.html_content,
	enabled = EXCLUDED.enabled,
	version = email_templates.version + 1,
	updated_at = NOW()
RETURNING `+templateColumns, t.Key, t.Subject, t.HTMLContent, t.Enabled))
}
