package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// RoleStore manages roles and their assignments.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	UpsertRole(ctx context.Context, name, description string) (Role, error)
	SetRolePermissions(ctx context.Context, roleID int64, perms []string) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
}

var _ RoleStore = (*Service)(nil)

// ListRoles returns roles with their permission names, ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT r.id, r.name, r.description, r.updated_at,
	COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
GROUP BY r.id
ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		var role Role
		err := row.Scan(&role.ID, &role.Name, &role.Description, &role.UpdatedAt, &role.Permissions)
		return role, err
	})
}

// UpsertRole creates the role or refreshes its description.
func (s *Service) UpsertRole(ctx context.Context, name, description string) (Role, error) {
	role := Role{Permissions: []string{}}
	err := s.pool.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
RETURNING id, name, description, updated_at`, strings.TrimSpace(strings.ToLower(name)), strings.TrimSpace(description)).
		Scan(&role.ID, &role.Name, &role.Description, &role.UpdatedAt)
	return role, err
}

// SetRolePermissions replaces the role's permission set atomically.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, perms []string) error {
	names := normalizePermissions(perms)
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := touchRole(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, id FROM permissions WHERE name = ANY($2)`, roleID, names)
		if err != nil {
			return err
		}
		// Permissions missing from the table mean the seed has not run.
		if int(tag.RowsAffected()) != len(names) {
			return httpx.Validationf("unknown permission in %v", names)
		}
		return nil
	})
}

// AssignRole grants roleID to userID. Repeating it is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if shared.IsForeignKeyViolation(err) {
		return httpx.NotFoundf("role %d not found", roleID)
	}
	return err
}

// RevokeRole removes roleID from userID.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFoundf("user %d does not hold role %d", userID, roleID)
	}
	return nil
}

func touchRole(ctx context.Context, tx pgx.Tx, roleID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1 RETURNING id`, roleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return httpx.NotFoundf("role %d not found", roleID)
	}
	return err
}
