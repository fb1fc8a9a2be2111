package modules

import (
	"errors"
	"sort"
)

// Module is a functional area such as "hms" or "crm"
type Module struct {
	Key      string `json:"key" yaml:"key"`
	Name     string `json:"name" yaml:"name"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// Entitlement records whether a tenant subscribes to a module
type Entitlement struct {
	TenantID  int64  `json:"tenant_id"`
	ModuleKey string `json:"module_key"`
	Enabled   bool   `json:"enabled"`
}

// Tenant is the subset of tenant data the gate reads
type Tenant struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

var (
	// ErrModuleNotFound is returned when a module key is not registered
	ErrModuleNotFound = errors.New("module not found")

	// ErrInvalidModule is returned for modules without key or name
	ErrInvalidModule = errors.New("invalid module")
)

// ModuleSet is a set of module keys
type ModuleSet map[string]struct{}

// NewModuleSet creates a set holding keys
func NewModuleSet(keys ...string) ModuleSet {
	s := make(ModuleSet, len(keys))
	for _, k := range keys {
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// Contains reports membership
func (s ModuleSet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the keys in ascending order
func (s ModuleSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
