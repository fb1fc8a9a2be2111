package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a versioned schema change with one statement block per dialect
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// SQL returns the statements for the given dialect
func (m Migration) SQL(dialect Dialect) string {
	if dialect == DialectSQLite {
		return m.SQLite
	}
	return m.Postgres
}

// GetMigrations returns all schema migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS permissions (
					code VARCHAR(128) PRIMARY KEY,
					name VARCHAR(255) NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS permissions (
					code TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     2,
			Description: "Create roles, role_grants and user_roles tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL DEFAULT 0,
					role_key VARCHAR(128) NOT NULL,
					name VARCHAR(255) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, role_key)
				);

				CREATE TABLE IF NOT EXISTS role_grants (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_code VARCHAR(128) NOT NULL,
					is_granted BOOLEAN NOT NULL DEFAULT TRUE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, permission_code)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, role_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_role_grants_role_id ON role_grants(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_grants_permission_code ON role_grants(permission_code);
				CREATE INDEX IF NOT EXISTS idx_user_roles_user_tenant ON user_roles(user_id, tenant_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id INTEGER NOT NULL DEFAULT 0,
					role_key TEXT NOT NULL,
					name TEXT NOT NULL,
					permissions TEXT NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(tenant_id, role_key)
				);

				CREATE TABLE IF NOT EXISTS role_grants (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_code TEXT NOT NULL,
					is_granted BOOLEAN NOT NULL DEFAULT 1,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(role_id, permission_code)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					tenant_id INTEGER NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, role_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_role_grants_role_id ON role_grants(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_grants_permission_code ON role_grants(permission_code);
				CREATE INDEX IF NOT EXISTS idx_user_roles_user_tenant ON user_roles(user_id, tenant_id);
			`,
		},
		{
			Version:     3,
			Description: "Create user_grants table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS user_grants (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					permission_code VARCHAR(128) NOT NULL,
					is_granted BOOLEAN NOT NULL DEFAULT TRUE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, permission_code)
				);

				CREATE INDEX IF NOT EXISTS idx_user_grants_permission_code ON user_grants(permission_code);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS user_grants (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					permission_code TEXT NOT NULL,
					is_granted BOOLEAN NOT NULL DEFAULT 1,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, permission_code)
				);

				CREATE INDEX IF NOT EXISTS idx_user_grants_permission_code ON user_grants(permission_code);
			`,
		},
		{
			Version:     4,
			Description: "Create tenants, modules and tenant_modules tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					industry VARCHAR(255) NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS modules (
					module_key VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE TABLE IF NOT EXISTS tenant_modules (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					module_key VARCHAR(64) NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, module_key)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_modules_tenant_id ON tenant_modules(tenant_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS tenants (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					industry TEXT NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS modules (
					module_key TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS tenant_modules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id INTEGER NOT NULL,
					module_key TEXT NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT 1,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(tenant_id, module_key)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_modules_tenant_id ON tenant_modules(tenant_id);
			`,
		},
		{
			Version:     5,
			Description: "Create menu_items and module_menus tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS menu_items (
					id BIGSERIAL PRIMARY KEY,
					item_key VARCHAR(128) NOT NULL UNIQUE,
					label VARCHAR(255) NOT NULL,
					url VARCHAR(1024),
					icon VARCHAR(128) NOT NULL DEFAULT '',
					module_key VARCHAR(64),
					permission_code VARCHAR(128),
					parent_id BIGINT REFERENCES menu_items(id) ON DELETE RESTRICT,
					sort_order INTEGER NOT NULL DEFAULT 0,
					is_global BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS module_menus (
					id BIGSERIAL PRIMARY KEY,
					module_key VARCHAR(64) NOT NULL,
					menu_item_id BIGINT NOT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
					UNIQUE(module_key, menu_item_id)
				);

				CREATE INDEX IF NOT EXISTS idx_menu_items_parent_id ON menu_items(parent_id);
				CREATE INDEX IF NOT EXISTS idx_menu_items_permission_code ON menu_items(permission_code);
				CREATE INDEX IF NOT EXISTS idx_module_menus_menu_item_id ON module_menus(menu_item_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS menu_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					item_key TEXT NOT NULL UNIQUE,
					label TEXT NOT NULL,
					url TEXT,
					icon TEXT NOT NULL DEFAULT '',
					module_key TEXT,
					permission_code TEXT,
					parent_id INTEGER,
					sort_order INTEGER NOT NULL DEFAULT 0,
					is_global BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS module_menus (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					module_key TEXT NOT NULL,
					menu_item_id INTEGER NOT NULL,
					UNIQUE(module_key, menu_item_id)
				);

				CREATE INDEX IF NOT EXISTS idx_menu_items_parent_id ON menu_items(parent_id);
				CREATE INDEX IF NOT EXISTS idx_menu_items_permission_code ON menu_items(permission_code);
				CREATE INDEX IF NOT EXISTS idx_module_menus_menu_item_id ON module_menus(menu_item_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_logs table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					tenant_id BIGINT,
					user_id BIGINT,
					resource_type VARCHAR(64),
					resource_id VARCHAR(255),
					message TEXT,
					metadata JSONB,
					request_id VARCHAR(64),
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_created ON audit_logs(tenant_id, created_at);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					tenant_id INTEGER,
					user_id INTEGER,
					resource_type TEXT,
					resource_id TEXT,
					message TEXT,
					metadata TEXT,
					request_id TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_created ON audit_logs(tenant_id, created_at);
			`,
		},
	}
}

// RunMigrations applies every migration that has not been recorded yet
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Create migrations tracking table
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL(dialect)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
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

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
