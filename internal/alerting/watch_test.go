package alerting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchThresholds_ReloadsValidFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - kind: CpuUsage\n    metric: cpu\n    threshold: 60\n"), 0o644))

	var current atomic.Pointer[Thresholds]
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchThresholds(ctx, path, func(t *Thresholds) { current.Store(t) })
	}()

	// Keep rewriting until the watcher is registered and picks it up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("rules:\n  - kind: CpuUsage\n    metric: cpu\n    threshold: 70\n"), 0o644)
		th := current.Load()
		return th != nil && th.Rules[0].Threshold == 70
	}, 3*time.Second, 50*time.Millisecond)

	// An invalid rewrite leaves the last good table in place.
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 70.0, current.Load().Rules[0].Threshold)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func rulesBody(threshold int) string {
	return fmt.Sprintf("rules:\n  - kind: CpuUsage\n    metric: cpu\n    threshold: %d\n", threshold)
}

func writeRules(t *testing.T, path string, threshold int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(rulesBody(threshold)), 0o644))
}

func TestWatchThresholds_SurvivesAtomicSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	writeRules(t, path, 70)

	var current atomic.Pointer[Thresholds]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = WatchThresholds(ctx, path, func(t *Thresholds) { current.Store(t) })
	}()

	active := func() float64 {
		if th := current.Load(); th != nil && len(th.Rules) > 0 {
			return th.Rules[0].Threshold
		}
		return 0
	}

	// Replace the file by rename until the watcher is registered.
	require.Eventually(t, func() bool {
		tmp := filepath.Join(dir, "thresholds.yaml.tmp")
		if err := os.WriteFile(tmp, []byte(rulesBody(60)), 0o644); err != nil {
			return false
		}
		if err := os.Rename(tmp, path); err != nil {
			return false
		}
		return active() == 60
	}, 3*time.Second, 50*time.Millisecond)

	// An in-place write after the replacement is still seen.
	writeRules(t, path, 50)
	assert.Eventually(t, func() bool { return active() == 50 }, 3*time.Second, 20*time.Millisecond)

	// Other files in the directory are ignored.
	writeRules(t, filepath.Join(dir, "other.yaml"), 10)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 50.0, active())
}

func TestWatchThresholds_MissingFile(t *testing.T) {
	err := WatchThresholds(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), func(*Thresholds) {})
	assert.Error(t, err)
}
