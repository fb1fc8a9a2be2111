package menu

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RootParent is the parent sentinel meaning "no parent"
const RootParent = "root"

// GeneralGroup collects items that belong to no module
const GeneralGroup = "general"

// MenuItem is one row of the registry
type MenuItem struct {
	ID             int64     `json:"id"`
	Key            string    `json:"key"`
	Label          string    `json:"label"`
	URL            *string   `json:"url"`
	Icon           string    `json:"icon,omitempty"`
	ModuleKey      *string   `json:"module_key"`
	PermissionCode *string   `json:"permission_code"`
	ParentID       *int64    `json:"parent_id"`
	SortOrder      int       `json:"sort_order"`
	IsGlobal       bool      `json:"is_global"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MenuItemInput is a create or update request. Parent and SortOrder accept loosely typed values
// as sent by admin clients: Parent takes "root", "", null, a number or a numeric string, and
// SortOrder takes a number, string, bool or null.
type MenuItemInput struct {
	ID             *int64      `json:"id,omitempty"`
	Key            string      `json:"key"`
	Label          string      `json:"label"`
	URL            *string     `json:"url"`
	Icon           string      `json:"icon"`
	ModuleKey      *string     `json:"module_key"`
	PermissionCode *string     `json:"permission_code"`
	Parent         interface{} `json:"parent_id"`
	SortOrder      interface{} `json:"sort_order"`
	IsGlobal       bool        `json:"is_global"`
}

var (
	// ErrNotFound is returned when a menu item does not exist
	ErrNotFound = errors.New("menu item not found")

	// ErrDuplicateKey is returned when another item already uses the key
	ErrDuplicateKey = errors.New("duplicate menu item key")

	// ErrHasChildren is returned when deleting an item that still has children
	ErrHasChildren = errors.New("menu item has children")

	// ErrParentNotFound is returned when the parent does not exist
	ErrParentNotFound = errors.New("parent menu item not found")

	// ErrCycle is returned when the parent is the item itself or one of its descendants
	ErrCycle = errors.New("menu item parent would create a cycle")

	// ErrUnknownPermission is returned when permission_code is not in the catalog
	ErrUnknownPermission = errors.New("unknown permission code")

	// ErrUnknownModule is returned when module_key is not registered
	ErrUnknownModule = errors.New("unknown module")

	// ErrInvalidItem is returned for missing fields or an unparsable parent
	ErrInvalidItem = errors.New("invalid menu item")
)

// DuplicateKeyError names the key that is already taken
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("menu item key %q already exists", e.Key)
}

// Unwrap lets errors.Is match ErrDuplicateKey
func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// HasChildrenError reports a delete blocked by the parent constraint
type HasChildrenError struct {
	ID       int64
	Children int
}

func (e *HasChildrenError) Error() string {
	return fmt.Sprintf("menu item %d has %d child item(s): parent_id constraint prevents deletion", e.ID, e.Children)
}

// Unwrap lets errors.Is match ErrHasChildren
func (e *HasChildrenError) Unwrap() error {
	return ErrHasChildren
}

// ParseParent converts a loosely typed parent reference to an id. nil means root.
func ParseParent(v interface{}) (*int64, error) {
	var id int64
	switch p := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(p)
		if s == "" || strings.EqualFold(s, RootParent) {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parent %q is not an id", ErrInvalidItem, p)
		}
		id = n
	case json.Number:
		n, err := p.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: parent %q is not an id", ErrInvalidItem, p.String())
		}
		id = n
	case float64:
		if p != math.Trunc(p) {
			return nil, fmt.Errorf("%w: parent %v is not an id", ErrInvalidItem, p)
		}
		id = int64(p)
	case int:
		id = int64(p)
	case int64:
		id = p
	case *int64:
		if p == nil {
			return nil, nil
		}
		id = *p
	default:
		return nil, fmt.Errorf("%w: unsupported parent type %T", ErrInvalidItem, v)
	}
	if id <= 0 {
		return nil, fmt.Errorf("%w: parent id must be positive", ErrInvalidItem)
	}
	return &id, nil
}

// CoerceSortOrder converts a loosely typed sort order to int. Missing or unparsable values are 0.
func CoerceSortOrder(v interface{}) int {
	switch s := v.(type) {
	case int:
		return s
	case int64:
		return int(s)
	case float64:
		return int(s)
	case json.Number:
		if n, err := s.Int64(); err == nil {
			return int(n)
		}
		if f, err := s.Float64(); err == nil {
			return int(f)
		}
	case string:
		t := strings.TrimSpace(s)
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return int(f)
		}
	case bool:
		if s {
			return 1
		}
	}
	return 0
}

// IntegrityIssue describes a registry row that can never be shown correctly
type IntegrityIssue struct {
	Kind   string `json:"kind"`
	ItemID int64  `json:"item_id"`
	Key    string `json:"key"`
	Detail string `json:"detail"`
}

// Integrity issue kinds
const (
	IssueDanglingParent    = "dangling_parent"
	IssueCycle             = "cycle"
	IssueUnknownPermission = "unknown_permission"
	IssueUnknownModule     = "unknown_module"
)

// Node is a visible item in a built menu
type Node struct {
	ID             int64   `json:"id"`
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	URL            *string `json:"url"`
	Icon           string  `json:"icon,omitempty"`
	ModuleKey      string  `json:"module_key,omitempty"`
	PermissionCode *string `json:"permission_code,omitempty"`
	SortOrder      int     `json:"sort_order"`
	Children       []*Node `json:"children,omitempty"`
}

// Group holds the visible roots of one module
type Group struct {
	ModuleKey  string  `json:"module_key"`
	ModuleName string  `json:"module_name"`
	Items      []*Node `json:"items"`
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
