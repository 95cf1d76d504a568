// Package migrations embeds the billing schema and applies it in order.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
)

// Files embeds every migration script.
//
//go:embed *.sql
var Files embed.FS

// Migration is one numbered schema change.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// Load returns migrations sorted by version. Every up script needs a down.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	byVersion := map[string]*Migration{}
	for _, e := range entries {
		name := e.Name()
		var version, dir string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			version, dir = strings.TrimSuffix(name, ".up.sql"), "up"
		case strings.HasSuffix(name, ".down.sql"):
			version, dir = strings.TrimSuffix(name, ".down.sql"), "down"
		default:
			continue
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if dir == "up" {
			m.Up = string(raw)
		} else {
			m.Down = string(raw)
		}
	}
	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s: missing up or down script", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns the versions it ran.
func Up(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	list, err := Load(Files)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	var applied []string
	for _, m := range list {
		ran, err := apply(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if ran {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	ran := false
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			return err
		}
		ran = true
		return nil
	})
	return ran && err == nil, err
}

// Down reverts the most recent applied migration and returns its version,
// or "" when nothing is applied.
func Down(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	list, err := Load(Files)
	if err != nil {
		return "", err
	}
	var version string
	err = pool.QueryRow(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, m := range list {
		if m.Version != version {
			continue
		}
		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return "", err
		}
		return version, nil
	}
	return "", fmt.Errorf("applied migration %s has no script", version)
}
