package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/caregrid/accessgate/pkg/contextkeys"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", &buf)

	logger.WithField("module", "hms").Debug("gate evaluated")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gate evaluated", entry["msg"])
	assert.Equal(t, "hms", entry["module"])
	assert.Equal(t, "debug", entry["level"])
}

func TestFromContext_AddsRequestFields(t *testing.T) {
	logger, hook := test.NewNullLogger()

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = contextkeys.WithTenantID(ctx, 7)
	ctx = contextkeys.WithUserID(ctx, 42)

	FromContext(ctx).Info("resolved")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, "req-123", entry.Data["request_id"])
	assert.Equal(t, int64(7), entry.Data["tenant_id"])
	assert.Equal(t, int64(42), entry.Data["user_id"])
}

func TestFromContext_DefaultsToStandardLogger(t *testing.T) {
	assert.Equal(t, logrus.StandardLogger(), FromContext(context.Background()))
}

func TestFromContext_AddsTraceFields(t *testing.T) {
	logger, hook := test.NewNullLogger()

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(WithLogger(context.Background(), logger), spanCtx)

	FromContext(ctx).Info("menu built")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, spanCtx.TraceID().String(), entry.Data["trace_id"])
	assert.Equal(t, spanCtx.SpanID().String(), entry.Data["span_id"])
}
