package async

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Optional timeout (zero means none)
// - Error logging
//
// Use this instead of bare `go func()` for background work such as the manifest watcher.
//
// Example:
//
//	async.SafeGo(ctx, logger, 0, "manifest watcher", watcher.Run)
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
	return done
}

// Every runs fn immediately and then on each tick until ctx is cancelled. Panics and errors
// are logged per run and do not stop the loop.
func Every(ctx context.Context, logger logrus.FieldLogger, interval time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	return SafeGo(ctx, logger, 0, taskName, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			<-SafeGo(ctx, logger, interval, taskName, fn)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}
