package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// WatchFile re-reads the config file whenever it changes and hands the
// result to apply. The watcher runs until ctx is cancelled; the returned
// stop function blocks until the goroutine has drained. A config file
// that fails to parse leaves the previous config in effect.
//
// Watching is best-effort: if the file (or its directory) cannot be
// watched, WatchFile reports the error and the caller keeps running on
// the config it already loaded.
func WatchFile(ctx context.Context, path string, apply func(*Config)) (stop func(), err error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors that rename-over the
	// file would otherwise silently detach the watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer fsw.Close()

		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadDebounce, func() {
					cfg, err := Load(path)
					if err != nil {
						slog.Warn("config reload skipped", "path", path, "error", err)
						return
					}
					apply(cfg)
					slog.Info("config reloaded", "path", path)
				})

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "path", path, "error", err)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}
