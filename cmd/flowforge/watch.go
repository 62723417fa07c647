package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// settingsWatcher reloads the settings file when it changes on disk and
// hands each differing configuration to apply.
type settingsWatcher struct {
	path    string
	flags   *flag.FlagSet
	current Config
	apply   func(Config, configDiff)
	logger  *slog.Logger
}

// run blocks until ctx is done. The settings directory is watched rather
// than the file so editors that replace the file are still seen.
func (w *settingsWatcher) run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("settings watcher disabled", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Error("settings watcher disabled", slog.String("error", err.Error()))
		return
	}
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("settings watcher disabled", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}

	triggers := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) || !event.Op.Has(triggers) {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *settingsWatcher) reload() {
	next, err := loadConfig(w.path, w.flags)
	if err != nil {
		w.logger.Warn("settings reload failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	d := diffConfigs(w.current, next)
	if !d.LogLevelChanged && !d.MetricsChanged && len(d.RestartNeeded) == 0 {
		return
	}
	w.current = next
	if len(d.RestartNeeded) > 0 {
		w.logger.Warn("settings changed, restart to apply", slog.Any("keys", d.RestartNeeded))
	}
	w.apply(next, d)
}
