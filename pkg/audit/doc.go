// Package audit records who changed authorization data and who was turned away.
//
// Every menu, role, grant and entitlement mutation writes one AuditEvent, as does every request
// rejected by a permission or module guard. Events land in the audit_logs table through
// DBLogger; components constructed without a logger fall back to a no-op implementation.
//
//	logger := audit.NewDBLogger(db)
//	logger.Log(ctx, &audit.AuditEvent{
//		EventType:    audit.EventTypeMenuItemDelete,
//		Status:       audit.EventStatusSuccess,
//		ResourceType: audit.ResourceTypeMenuItem,
//		ResourceID:   "42",
//	})
//
// Events never influence permission resolution.
package audit
