package catalog

import (
	"errors"
	"fmt"
	"regexp"
)

// Wildcard grants every permission
const Wildcard = "*"

// Permission is a catalog entry
type Permission struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

var (
	// ErrNotFound is returned when a permission code is not in the catalog
	ErrNotFound = errors.New("permission not found")

	// ErrInvalidCode is returned for codes that are not of the form resource:action
	ErrInvalidCode = errors.New("invalid permission code")

	// ErrPermissionInUse is returned when deleting a code that is still referenced
	ErrPermissionInUse = errors.New("permission is still referenced")
)

// InUseError reports where a permission code is still referenced
type InUseError struct {
	Code       string
	RoleArrays int
	RoleGrants int
	UserGrants int
	MenuItems  int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("permission %q is still referenced by %d role arrays, %d role grants, %d user grants and %d menu items",
		e.Code, e.RoleArrays, e.RoleGrants, e.UserGrants, e.MenuItems)
}

// Unwrap lets errors.Is match ErrPermissionInUse
func (e *InUseError) Unwrap() error {
	return ErrPermissionInUse
}

func (e *InUseError) total() int {
	return e.RoleArrays + e.RoleGrants + e.UserGrants + e.MenuItems
}

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*:[a-z][a-z0-9_]*$`)

// ValidateCode checks that code is a storable permission code. The wildcard is not storable.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// ModuleViewCode returns the permission code that overrides the module gate for moduleKey
func ModuleViewCode(moduleKey string) string {
	return moduleKey + ":view"
}
