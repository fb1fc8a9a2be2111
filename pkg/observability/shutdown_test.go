package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsStepsInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	for _, name := range []string{"background", "telemetry", "audit"} {
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"background", "telemetry", "audit"}, order)
}

func TestShutdownManager_ContinuesAfterFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	closeErr := errors.New("redis close failed")
	ran := false
	sm.Register("redis", func(ctx context.Context) error { return closeErr })
	sm.Register("audit", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), "redis")
	assert.True(t, ran)
}

func TestShutdownManager_SkipsStepsAfterDeadline(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 20*time.Millisecond)

	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	skipped := true
	sm.Register("late", func(ctx context.Context) error {
		skipped = false
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, skipped)
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sm.WaitForShutdown(ctx))
}
