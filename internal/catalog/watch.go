package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the override file whenever it changes. It blocks until ctx is done.
// Without an override file it returns immediately.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.overridePath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory and filter by name.
	target := filepath.Clean(c.overridePath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	slog.Info("Catalog.Watch: watching override file", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.Reload(); err != nil {
				slog.Warn("Catalog.Watch: reload failed, keeping previous messages", "error", err)
				continue
			}
			slog.Info("Catalog.Watch: override reloaded", "path", target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Catalog.Watch: watcher error", "error", err)
		}
	}
}
