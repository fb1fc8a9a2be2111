package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher re-applies a manifest file whenever it changes on disk
type Watcher struct {
	path       string
	reconciler *Reconciler
	logger     logrus.FieldLogger
	debounce   time.Duration

	// OnApply, when set, is called after each successful re-apply
	OnApply func(*Report)
}

// NewWatcher creates a manifest watcher
func NewWatcher(path string, reconciler *Reconciler, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		path:       filepath.Clean(path),
		reconciler: reconciler,
		logger:     logger.WithField("manifest", path),
		debounce:   500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched rather than the file so
// editors and config-map updates that replace the file are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("Watching manifest for changes")

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors write in bursts; apply once things settle
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Manifest watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	manifest, err := LoadManifest(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to load changed manifest, keeping current data")
		return
	}
	report, err := w.reconciler.Apply(ctx, manifest)
	if err != nil {
		w.logger.WithError(err).Error("Failed to apply changed manifest")
		return
	}
	if w.OnApply != nil {
		w.OnApply(report)
	}
}
