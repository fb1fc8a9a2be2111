package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/contextkeys"
)

// SharedTenantID marks a role usable in every tenant
const SharedTenantID int64 = 0

// Identity is the resolved caller handed over by the session layer
type Identity struct {
	TenantID        int64 `json:"tenant_id"`
	UserID          int64 `json:"user_id"`
	IsAdmin         bool  `json:"is_admin,omitempty"`
	IsPlatformAdmin bool  `json:"is_platform_admin,omitempty"`
	IsTenantAdmin   bool  `json:"is_tenant_admin,omitempty"`
}

// Valid reports whether both tenant and user are known
func (i Identity) Valid() bool {
	return i.TenantID > 0 && i.UserID > 0
}

// HasAdminFlag reports whether any admin bypass flag is set
func (i Identity) HasAdminFlag() bool {
	return i.IsAdmin || i.IsPlatformAdmin || i.IsTenantAdmin
}

// WithIdentity stores identity in the context together with the tenant and user IDs used for logging
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	ctx = contextkeys.WithTenantID(ctx, identity.TenantID)
	return contextkeys.WithUserID(ctx, identity.UserID)
}

// IdentityFromContext returns the identity stored by WithIdentity
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(Identity)
	if !ok || !identity.Valid() {
		return Identity{}, false
	}
	return identity, true
}

// Role is a named bundle of permissions. TenantID 0 is a shared role.
type Role struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleGrant links a role to a permission code
type RoleGrant struct {
	RoleID         int64  `json:"role_id"`
	PermissionCode string `json:"permission_code"`
	IsGranted      bool   `json:"is_granted"`
}

// UserGrant links a user directly to a permission code
type UserGrant struct {
	UserID         int64  `json:"user_id"`
	PermissionCode string `json:"permission_code"`
	IsGranted      bool   `json:"is_granted"`
}

// UserRoleAssignment assigns a role to a user inside a tenant
type UserRoleAssignment struct {
	UserID   int64  `json:"user_id"`
	RoleID   int64  `json:"role_id"`
	TenantID int64  `json:"tenant_id"`
	RoleKey  string `json:"role_key,omitempty"`
}

var (
	// ErrMissingIdentity is returned when a resolution is attempted without tenant or user
	ErrMissingIdentity = errors.New("missing identity")

	// ErrRoleNotFound is returned when a role does not exist in the caller's scope
	ErrRoleNotFound = errors.New("role not found")

	// ErrDuplicateRole is returned when a role key is already used in the tenant
	ErrDuplicateRole = errors.New("duplicate role key")

	// ErrUnknownPermission is returned when a grant names a code missing from the catalog
	ErrUnknownPermission = errors.New("unknown permission code")

	// ErrInvalidRole is returned for roles without key or name, or with malformed permission codes
	ErrInvalidRole = errors.New("invalid role")
)

// DuplicateRoleError names the conflicting role key
type DuplicateRoleError struct {
	TenantID int64
	Key      string
}

func (e *DuplicateRoleError) Error() string {
	return fmt.Sprintf("role key %q already exists in tenant %d", e.Key, e.TenantID)
}

// Unwrap lets errors.Is match ErrDuplicateRole
func (e *DuplicateRoleError) Unwrap() error {
	return ErrDuplicateRole
}

// Validate checks role fields before they are written
func (r *Role) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRole)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	for _, code := range r.Permissions {
		if code == catalog.Wildcard {
			continue
		}
		if err := catalog.ValidateCode(code); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRole, err)
		}
	}
	return nil
}

// PermissionSet is a resolved set of permission codes. Callers must treat it as read-only.
type PermissionSet map[string]struct{}

// NewPermissionSet creates a set holding codes
func NewPermissionSet(codes ...string) PermissionSet {
	s := make(PermissionSet, len(codes))
	s.Add(codes...)
	return s
}

// Add inserts codes, ignoring empty strings
func (s PermissionSet) Add(codes ...string) {
	for _, code := range codes {
		if code != "" {
			s[code] = struct{}{}
		}
	}
}

// Contains reports exact membership
func (s PermissionSet) Contains(code string) bool {
	_, ok := s[code]
	return ok
}

// IsWildcard reports whether the set holds "*"
func (s PermissionSet) IsWildcard() bool {
	return s.Contains(catalog.Wildcard)
}

// Allows reports whether code is granted directly or through the wildcard
func (s PermissionSet) Allows(code string) bool {
	return s.Contains(code) || s.IsWildcard()
}

// Codes returns the codes in ascending order
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// MarshalJSON encodes the set as a sorted array
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Codes())
}

// UnmarshalJSON decodes an array of codes
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewPermissionSet(codes...)
	return nil
}
