package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzRoleCreate       EventType = "authz.role_create"
	EventTypeAuthzRoleUpdate       EventType = "authz.role_update"
	EventTypeAuthzRoleDelete       EventType = "authz.role_delete"
	EventTypeAuthzRoleAssign       EventType = "authz.role_assign"
	EventTypeAuthzRoleRevoke       EventType = "authz.role_revoke"
	EventTypeAuthzRoleGrant        EventType = "authz.role_grant"
	EventTypeAuthzUserGrant        EventType = "authz.user_grant"
	EventTypeAuthzPermissionDelete EventType = "authz.permission_delete"

	// Module entitlement events
	EventTypeEntitlementChange EventType = "module.entitlement_change"

	// Menu events
	EventTypeMenuItemCreate EventType = "menu.item_create"
	EventTypeMenuItemUpdate EventType = "menu.item_update"
	EventTypeMenuItemDelete EventType = "menu.item_delete"

	// Report events
	EventTypeAccessMatrixExport EventType = "report.access_matrix_export"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed or accessed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeModule     ResourceType = "module"
	ResourceTypeMenuItem   ResourceType = "menu_item"
	ResourceTypeRoute      ResourceType = "route"
	ResourceTypeTenant     ResourceType = "tenant"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	TenantID *int64 `json:"tenant_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows an audit log query
type SearchFilter struct {
	TenantID   *int64
	EventTypes []EventType
	Limit      int
}
