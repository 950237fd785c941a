package config

import (
	"context"
	"path/filepath"
	"time"

	"tickerd/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch re-loads the config file after each write and hands the result
// to onChange. Editors replace files instead of writing in place, so the
// parent directory is watched and events are filtered by name. Reload
// failures keep the previous config; the watcher never kills the daemon.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		pending := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			case <-pending:
				cfg, err := Load(abs)
				if err != nil {
					logger.Warnf("[config] reload failed, keeping previous config: %v", err)
					continue
				}
				logger.Event("config_reloaded", "path", abs)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("[config] watcher error: %v", err)
			}
		}
	}()
	return nil
}
