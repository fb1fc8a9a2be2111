package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caregrid/accessgate/pkg/storage"
)

// Store handles role, grant and assignment persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = "id, tenant_id, role_key, name, permissions, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var raw string
	if err := row.Scan(&role.ID, &role.TenantID, &role.Key, &role.Name, &raw, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	codes, err := decodePermissions(raw)
	if err != nil {
		return nil, fmt.Errorf("role %d: %w", role.ID, err)
	}
	role.Permissions = codes
	return &role, nil
}

func decodePermissions(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

func encodePermissions(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("failed to encode permissions: %w", err)
	}
	return string(data), nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (tenant_id, role_key, name, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, role.TenantID, role.Key, role.Name, perms, now, now).Scan(&role.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return &DuplicateRoleError{TenantID: role.TenantID, Key: role.Key}
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return nil
}

// EnsureRole creates the role unless (tenant, key) already exists. The stored role is returned
// either way together with whether it was created.
func (s *Store) EnsureRole(ctx context.Context, role *Role) (*Role, bool, error) {
	if err := role.Validate(); err != nil {
		return nil, false, err
	}
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (tenant_id, role_key, name, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, role_key) DO NOTHING
	`, role.TenantID, role.Key, role.Name, perms, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure role %s: %w", role.Key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	stored, err := s.GetRoleByKey(ctx, role.TenantID, role.Key)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByKey retrieves a role by tenant and key
func (s *Store) GetRoleByKey(ctx context.Context, tenantID int64, key string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE tenant_id = $1 AND role_key = $2", tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns the tenant's roles followed by the shared roles
func (s *Store) ListRoles(ctx context.Context, tenantID int64) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE tenant_id = $1 OR tenant_id = $2 ORDER BY tenant_id DESC, role_key",
		tenantID, SharedTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole updates a role's name and legacy permission array. The key is immutable.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, permissions = $2, updated_at = $3
		WHERE id = $4
	`, role.Name, perms, now, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}
	role.UpdatedAt = now
	return nil
}

// DeleteRole removes a role together with its grants and assignments
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM role_grants WHERE role_id = $1",
		"DELETE FROM user_roles WHERE role_id = $1",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete role references: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AssignRole assigns a role to a user in a tenant. Assigning twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID, tenantID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, tenant_id, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id, tenant_id) DO NOTHING
	`, userID, roleID, tenantID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role assignment
func (s *Store) RevokeRole(ctx context.Context, userID, roleID, tenantID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND tenant_id = $3",
		userID, roleID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// AssignedRoles returns the roles assigned to the user in the tenant
func (s *Store) AssignedRoles(ctx context.Context, tenantID, userID int64) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.tenant_id, r.role_key, r.name, r.permissions, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND ur.tenant_id = $2
		ORDER BY r.role_key
	`, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assigned roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GrantedRoleCodes returns the codes granted by role_grants rows for the user's roles
func (s *Store) GrantedRoleCodes(ctx context.Context, tenantID, userID int64) ([]string, error) {
	return s.queryCodes(ctx, `
		SELECT DISTINCT rg.permission_code
		FROM role_grants rg
		JOIN user_roles ur ON ur.role_id = rg.role_id
		WHERE ur.user_id = $1 AND ur.tenant_id = $2 AND rg.is_granted = $3
	`, userID, tenantID, true)
}

// GrantedUserCodes returns the codes granted directly to the user
func (s *Store) GrantedUserCodes(ctx context.Context, userID int64) ([]string, error) {
	return s.queryCodes(ctx,
		"SELECT permission_code FROM user_grants WHERE user_id = $1 AND is_granted = $2",
		userID, true)
}

func (s *Store) queryCodes(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ListUserRoles returns the user's role assignments in the tenant
func (s *Store) ListUserRoles(ctx context.Context, tenantID, userID int64) ([]UserRoleAssignment, error) {
	roles, err := s.AssignedRoles(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]UserRoleAssignment, 0, len(roles))
	for _, r := range roles {
		out = append(out, UserRoleAssignment{UserID: userID, RoleID: r.ID, TenantID: tenantID, RoleKey: r.Key})
	}
	return out, nil
}

func (s *Store) requireCode(ctx context.Context, code string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permissions WHERE code = $1", code).Scan(&n); err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, code)
	}
	return nil
}

// SetRoleGrant creates or overwrites the grant of code to the role
func (s *Store) SetRoleGrant(ctx context.Context, grant RoleGrant) error {
	if err := s.requireCode(ctx, grant.PermissionCode); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_grants (role_id, permission_code, is_granted, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, permission_code) DO UPDATE SET
			is_granted = excluded.is_granted,
			updated_at = excluded.updated_at
	`, grant.RoleID, grant.PermissionCode, grant.IsGranted, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set role grant: %w", err)
	}
	return nil
}

// EnsureRoleGrant inserts a granted row unless one exists for (role, code). An existing row,
// including one an administrator set to not granted, is left untouched. Reports whether a row
// was created.
func (s *Store) EnsureRoleGrant(ctx context.Context, roleID int64, code string) (bool, error) {
	if err := s.requireCode(ctx, code); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO role_grants (role_id, permission_code, is_granted, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, permission_code) DO NOTHING
	`, roleID, code, true, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to ensure role grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListRoleGrants returns every grant row of the role
func (s *Store) ListRoleGrants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id, permission_code, is_granted FROM role_grants WHERE role_id = $1 ORDER BY permission_code",
		roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	grants := []RoleGrant{}
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.RoleID, &g.PermissionCode, &g.IsGranted); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetUserGrant creates or overwrites a direct grant to the user
func (s *Store) SetUserGrant(ctx context.Context, grant UserGrant) error {
	if err := s.requireCode(ctx, grant.PermissionCode); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_grants (user_id, permission_code, is_granted, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission_code) DO UPDATE SET
			is_granted = excluded.is_granted,
			updated_at = excluded.updated_at
	`, grant.UserID, grant.PermissionCode, grant.IsGranted, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set user grant: %w", err)
	}
	return nil
}

// ListUserGrants returns every direct grant row of the user
func (s *Store) ListUserGrants(ctx context.Context, userID int64) ([]UserGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, permission_code, is_granted FROM user_grants WHERE user_id = $1 ORDER BY permission_code",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user grants: %w", err)
	}
	defer rows.Close()

	grants := []UserGrant{}
	for rows.Next() {
		var g UserGrant
		if err := rows.Scan(&g.UserID, &g.PermissionCode, &g.IsGranted); err != nil {
			return nil, fmt.Errorf("failed to scan user grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListSubjects returns the distinct users holding at least one role in the tenant
func (s *Store) ListSubjects(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM user_roles WHERE tenant_id = $1 ORDER BY user_id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
