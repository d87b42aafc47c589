package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"appraisal/internal/domain/auth"
	"appraisal/internal/platform/config"
)

// Seed makes the permission tables and the bootstrap admin idempotently
// present. Safe to run on every start.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if err := ensurePermissions(ctx, pool); err != nil {
		return err
	}
	if err := ensureRolePermissions(ctx, pool); err != nil {
		return err
	}
	if cfg.SeedAdminEmail != "" && cfg.SeedAdminPassword != "" {
		if err := ensureAdminUser(ctx, pool, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
			return err
		}
	}
	return nil
}

func ensurePermissions(ctx context.Context, pool *pgxpool.Pool) error {
	for _, perm := range auth.DefaultPermissions {
		if _, err := pool.Exec(ctx, "INSERT INTO permissions (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", perm); err != nil {
			return err
		}
	}
	return nil
}

func ensureRolePermissions(ctx context.Context, pool *pgxpool.Pool) error {
	permIDs := map[string]string{}
	rows, err := pool.Query(ctx, "SELECT id, key FROM permissions")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return err
		}
		permIDs[key] = id
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for role, perms := range auth.RolePermissions {
		for _, perm := range perms {
			id, ok := permIDs[perm]
			if !ok {
				continue
			}
			if _, err := pool.Exec(ctx, `
        INSERT INTO role_permissions (role, permission_id) VALUES ($1, $2)
        ON CONFLICT (role, permission_id) DO NOTHING
      `, role, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	var existing string
	err := pool.QueryRow(ctx, "SELECT id FROM users WHERE email = $1", email).Scan(&existing)
	if err == nil {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
    INSERT INTO users (email, display_name, role, department, password_hash)
    VALUES ($1, 'Administrator', $2, '', $3)
  `, email, auth.RoleAdmin, hash)
	return err
}
