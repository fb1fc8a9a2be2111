package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReappliesOnChange(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  - key: hms\n    name: Hospital\n"), 0o600))

	var applied int32
	watcher := NewWatcher(path, f.reconciler, quietLogger())
	watcher.debounce = 10 * time.Millisecond
	watcher.OnApply = func(*Report) { atomic.AddInt32(&applied, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	changed := []byte("modules:\n  - key: hms\n    name: Hospital\n  - key: crm\n    name: CRM\n")
	require.Eventually(t, func() bool {
		// Rewrite until the watcher has registered and applied a change
		_ = os.WriteFile(path, changed, 0o600)
		return atomic.LoadInt32(&applied) > 0
	}, 5*time.Second, 50*time.Millisecond)

	crm, err := f.modules.GetModule(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "CRM", crm.Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_IgnoresInvalidManifest(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: []\n"), 0o600))

	watcher := NewWatcher(path, f.reconciler, quietLogger())
	watcher.OnApply = func(*Report) { t.Error("invalid manifest must not be applied") }

	require.NoError(t, os.WriteFile(path, []byte("modules:\n  - name: no key\n"), 0o600))
	watcher.reload(context.Background())

	modules, err := f.modules.ListModules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	f := newFixture(t)
	watcher := NewWatcher(filepath.Join(t.TempDir(), "nope", "manifest.yaml"), f.reconciler, quietLogger())
	assert.Error(t, watcher.Run(context.Background()))
}
