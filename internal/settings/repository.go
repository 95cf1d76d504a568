package settings

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists settings documents by key.
type Store interface {
	// Load returns the raw JSON document, or nil when the key was never saved.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value any, actorID int64) error
}

// Repository is the Postgres implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a settings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load fetches the document stored under key.
func (r *Repository) Load(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Save upserts the document under key.
func (r *Repository) Save(ctx context.Context, key string, value any, actorID int64) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO app_settings (key, value, updated_by, updated_at)
VALUES ($1, $2, NULLIF($3, 0), NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`, key, raw, actorID)
	return err
}
