// Package async runs background tasks with panic recovery and structured logging.
//
// SafeGo: one-off or long-running task
//
//	done := async.SafeGo(ctx, logger, 0, "manifest watcher", watcher.Run)
//	<-done
//
// Every: periodic task, first run immediately
//
//	async.Every(ctx, logger, 15*time.Second, "db stats", func(ctx context.Context) error {
//		metrics.RecordDBStats(db)
//		return nil
//	})
package async
