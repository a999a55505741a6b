package alerting

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/NikhilSetiya/servermon/pkg/logging"
)

// WatchThresholds reloads the rule table at path whenever it is written or
// replaced and hands it to onChange. Invalid files are logged and the
// previous table stays active. It runs until ctx is cancelled.
func WatchThresholds(ctx context.Context, path string, onChange func(*Thresholds)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched because an atomic save replaces the file
	// and drops any watch held on it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger := logging.GetLogger()
	logger.Info("Watching alert thresholds", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			t, err := LoadThresholds(path)
			if err != nil {
				logger.Error("Threshold reload failed, keeping previous table", "path", path, "error", err)
				continue
			}

			logger.Info("Alert thresholds reloaded", "path", path, "rules", len(t.Rules))
			onChange(t)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Threshold watcher error", "error", err)
		}
	}
}
