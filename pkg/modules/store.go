package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store handles module and entitlement persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new module store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureModule registers m unless the key exists. Reports whether a row was created.
func (s *Store) EnsureModule(ctx context.Context, m Module) (bool, error) {
	if m.Key == "" || m.Name == "" {
		return false, fmt.Errorf("%w: key and name are required", ErrInvalidModule)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (module_key, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (module_key) DO NOTHING
	`, m.Key, m.Name, m.IsActive)
	if err != nil {
		return false, fmt.Errorf("failed to ensure module %s: %w", m.Key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// GetModule retrieves a module by key
func (s *Store) GetModule(ctx context.Context, key string) (*Module, error) {
	var m Module
	err := s.db.QueryRowContext(ctx,
		"SELECT module_key, name, is_active FROM modules WHERE module_key = $1", key,
	).Scan(&m.Key, &m.Name, &m.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return &m, nil
}

// ListModules returns every registered module ordered by key
func (s *Store) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT module_key, name, is_active FROM modules ORDER BY module_key")
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	mods := []Module{}
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.Key, &m.Name, &m.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

// SetEntitlement creates or overwrites the tenant's entitlement to a registered module
func (s *Store) SetEntitlement(ctx context.Context, e Entitlement) error {
	if _, err := s.GetModule(ctx, e.ModuleKey); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_modules (tenant_id, module_key, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, module_key) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, e.TenantID, e.ModuleKey, e.Enabled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// ListEntitlements returns every entitlement row of the tenant, enabled or not
func (s *Store) ListEntitlements(ctx context.Context, tenantID int64) ([]Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tenant_id, module_key, enabled FROM tenant_modules WHERE tenant_id = $1 ORDER BY module_key",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	ents := []Entitlement{}
	for rows.Next() {
		var e Entitlement
		if err := rows.Scan(&e.TenantID, &e.ModuleKey, &e.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		ents = append(ents, e)
	}
	return ents, rows.Err()
}

// GetTenantIndustry returns the tenant's industry, or "" for an unknown tenant
func (s *Store) GetTenantIndustry(ctx context.Context, tenantID int64) (string, error) {
	var industry string
	err := s.db.QueryRowContext(ctx, "SELECT industry FROM tenants WHERE id = $1", tenantID).Scan(&industry)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tenant industry: %w", err)
	}
	return industry, nil
}

// EnsureTenant inserts the tenant unless its ID exists. Tenants are owned by another system;
// this only seeds local and test databases. Reports whether a row was created.
func (s *Store) EnsureTenant(ctx context.Context, t Tenant) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, industry)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Name, t.Industry)
	if err != nil {
		return false, fmt.Errorf("failed to ensure tenant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}
