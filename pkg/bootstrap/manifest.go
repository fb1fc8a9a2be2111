package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/caregrid/accessgate/pkg/rbac"
)

// ErrInvalidManifest is returned for manifests that fail validation
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes the reference data an installation must contain. Applying it only ever
// inserts what is missing; rows edited by administrators are left alone.
type Manifest struct {
	Permissions []PermissionSpec `yaml:"permissions"`
	Modules     []ModuleSpec     `yaml:"modules"`
	Tenants     []TenantSpec     `yaml:"tenants"`
	Roles       []RoleSpec       `yaml:"roles"`
	Menu        []MenuSpec       `yaml:"menu"`
}

// PermissionSpec is a catalog entry
type PermissionSpec struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// ModuleSpec is a feature module
type ModuleSpec struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	Inactive bool   `yaml:"inactive"`
}

// TenantSpec seeds a tenant row, mostly for development installs
type TenantSpec struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Industry string `yaml:"industry"`
}

// RoleSpec is a role with its legacy permission array and role grants.
// Tenant 0 makes the role shared across tenants.
type RoleSpec struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Tenant      int64    `yaml:"tenant"`
	Permissions []string `yaml:"permissions"`
	Grants      []string `yaml:"grants"`
}

// MenuSpec is a menu item and its children
type MenuSpec struct {
	Key        string     `yaml:"key"`
	Label      string     `yaml:"label"`
	URL        string     `yaml:"url"`
	Icon       string     `yaml:"icon"`
	Module     string     `yaml:"module"`
	Permission string     `yaml:"permission"`
	SortOrder  int        `yaml:"sort_order"`
	Global     bool       `yaml:"global"`
	Modules    []string   `yaml:"modules"`
	Children   []MenuSpec `yaml:"children"`
}

// LoadManifest reads and validates a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for missing keys and duplicates
func (m *Manifest) Validate() error {
	seen := make(map[string]bool)
	for _, p := range m.Permissions {
		if p.Code == "" {
			return fmt.Errorf("%w: permission without code", ErrInvalidManifest)
		}
		if seen[p.Code] {
			return fmt.Errorf("%w: duplicate permission %s", ErrInvalidManifest, p.Code)
		}
		seen[p.Code] = true
	}

	seen = make(map[string]bool)
	for _, mod := range m.Modules {
		if mod.Key == "" {
			return fmt.Errorf("%w: module without key", ErrInvalidManifest)
		}
		if seen[mod.Key] {
			return fmt.Errorf("%w: duplicate module %s", ErrInvalidManifest, mod.Key)
		}
		seen[mod.Key] = true
	}

	for _, t := range m.Tenants {
		if t.ID <= 0 {
			return fmt.Errorf("%w: tenant %q needs a positive id", ErrInvalidManifest, t.Name)
		}
	}

	seen = make(map[string]bool)
	for _, r := range m.Roles {
		id := fmt.Sprintf("%d/%s", r.Tenant, r.Key)
		if seen[id] {
			return fmt.Errorf("%w: duplicate role %s", ErrInvalidManifest, r.Key)
		}
		seen[id] = true
		role := rbac.Role{Key: r.Key, Name: r.Name, Permissions: r.Permissions}
		if err := role.Validate(); err != nil {
			return fmt.Errorf("%w: role %s: %v", ErrInvalidManifest, r.Key, err)
		}
	}

	return validateMenu(m.Menu, make(map[string]bool))
}

func validateMenu(items []MenuSpec, seen map[string]bool) error {
	for _, item := range items {
		if item.Key == "" || item.Label == "" {
			return fmt.Errorf("%w: menu item needs key and label", ErrInvalidManifest)
		}
		if seen[item.Key] {
			return fmt.Errorf("%w: duplicate menu key %s", ErrInvalidManifest, item.Key)
		}
		seen[item.Key] = true
		if err := validateMenu(item.Children, seen); err != nil {
			return err
		}
	}
	return nil
}
