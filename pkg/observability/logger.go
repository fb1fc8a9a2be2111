package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/contextkeys"
)

// NewLogger creates a JSON logrus logger at the given level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func NewLogger(level string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(ParseLevel(level))
	return logger
}

// ParseLevel converts a level name to a logrus level
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger retrieves the logger from context, or the logrus standard logger
func GetLogger(ctx context.Context) logrus.FieldLogger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger); ok {
		return logger
	}
	return logrus.StandardLogger()
}

// FromContext returns the context logger annotated with request, tenant, user and trace identifiers
func FromContext(ctx context.Context) logrus.FieldLogger {
	logger := GetLogger(ctx)

	fields := traceFields(ctx)
	if fields == nil {
		fields = logrus.Fields{}
	}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	if tenantID := contextkeys.GetTenantID(ctx); tenantID != 0 {
		fields["tenant_id"] = tenantID
	}
	if userID := contextkeys.GetUserID(ctx); userID != 0 {
		fields["user_id"] = userID
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.WithFields(fields)
}
