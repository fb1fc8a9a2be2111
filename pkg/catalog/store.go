package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caregrid/accessgate/pkg/observability"
)

// Store handles permission catalog persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsurePermission inserts p unless a permission with the same code exists.
// An existing row is left untouched. Reports whether a row was created.
func (s *Store) EnsurePermission(ctx context.Context, p Permission) (bool, error) {
	if err := ValidateCode(p.Code); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (code, name, category, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO NOTHING
	`, p.Code, p.Name, p.Category, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to ensure permission %s: %w", p.Code, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves a permission by code
func (s *Store) Get(ctx context.Context, code string) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, category FROM permissions WHERE code = $1", code,
	).Scan(&p.Code, &p.Name, &p.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &p, nil
}

// Exists reports whether code is in the catalog
func (s *Store) Exists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permissions WHERE code = $1", code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return n > 0, nil
}

// List returns every permission ordered by category then code
func (s *Store) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT code, name, category FROM permissions ORDER BY category, code")
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Code, &p.Name, &p.Category); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Delete removes a permission from the catalog. Codes still referenced by a role's legacy
// array, a role or user grant, or a menu item are rejected with *InUseError.
func (s *Store) Delete(ctx context.Context, code string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	refs, err := references(ctx, tx, code)
	if err != nil {
		return err
	}
	if refs.total() > 0 {
		return refs
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM permissions WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func references(ctx context.Context, tx *sql.Tx, code string) (*InUseError, error) {
	refs := &InUseError{Code: code}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM role_grants WHERE permission_code = $1", &refs.RoleGrants},
		{"SELECT COUNT(*) FROM user_grants WHERE permission_code = $1", &refs.UserGrants},
		{"SELECT COUNT(*) FROM menu_items WHERE permission_code = $1", &refs.MenuItems},
	}
	for _, c := range counts {
		if err := tx.QueryRowContext(ctx, c.query, code).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count permission references: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, permissions FROM roles")
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var raw string
		if err := rows.Scan(&roleID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan role permissions: %w", err)
		}
		var codes []string
		if err := json.Unmarshal([]byte(raw), &codes); err != nil {
			// An unreadable array may hold the code, so it counts as a reference
			observability.FromContext(ctx).WithError(err).WithField("role_id", roleID).
				Warn("Role has malformed permissions, treating it as referencing the code")
			refs.RoleArrays++
			continue
		}
		for _, c := range codes {
			if c == code {
				refs.RoleArrays++
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}

	return refs, nil
}

// SeedBuiltIns ensures every built-in permission exists
func (s *Store) SeedBuiltIns(ctx context.Context) (int, error) {
	created := 0
	for _, p := range BuiltInPermissions() {
		ok, err := s.EnsurePermission(ctx, p)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}
