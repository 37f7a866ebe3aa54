package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	// Optional migrations create relations the core can run without.
	Optional bool
}

// GetMigrations returns all store migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(100) NOT NULL UNIQUE,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					settings JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					description TEXT,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_tenant_name
					ON roles (COALESCE(tenant_id, '00000000-0000-0000-0000-000000000000'::uuid), name);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission VARCHAR(100) NOT NULL,
					PRIMARY KEY (role_id, permission)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id VARCHAR(255) NOT NULL,
					role_id UUID NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships (user_id, status);
				CREATE INDEX IF NOT EXISTS idx_memberships_role ON memberships (role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create tenant_subdomains table",
			Optional:    true,
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_subdomains (
					subdomain VARCHAR(63) PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE
				);
			`,
		},
		{
			Version:     5,
			Description: "Create tenant_api_keys table",
			Optional:    true,
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_api_keys (
					key_hash CHAR(64) PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_api_keys_tenant ON tenant_api_keys (tenant_id);
			`,
		},
	}
}

// Migrate applies pending migrations. Optional migrations are skipped unless
// includeOptional is set, which leaves a minimal single-tenant deployment
// without the subdomain and API-key relations.
func Migrate(ctx context.Context, db *sql.DB, includeOptional bool) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenantguard_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		if migration.Optional && !includeOptional {
			continue
		}

		var applied bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tenantguard_migrations WHERE version = $1)`,
			migration.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenantguard_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
