package audit

import (
	"context"
	"time"

	"github.com/caregrid/accessgate/pkg/contextkeys"
	"github.com/caregrid/accessgate/pkg/observability"
)

// Logger writes audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return noOpLogger{}
}

// Record fills request-scoped fields the caller left empty and writes the event.
// Failures are logged, never returned: an audit outage must not fail the request.
func Record(ctx context.Context, logger Logger, event *AuditEvent) {
	if logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.TenantID == nil {
		if id := contextkeys.GetTenantID(ctx); id != 0 {
			event.TenantID = &id
		}
	}
	if event.UserID == nil {
		if id := contextkeys.GetUserID(ctx); id != 0 {
			event.UserID = &id
		}
	}

	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", event.EventType).
			Warn("Failed to write audit event")
	}
}

// NoOpLogger returns a Logger that discards events
func NoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }
