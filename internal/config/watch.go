package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "countdown/internal/log"
)

// reloadDelay coalesces the burst of events an editor or Save produces.
const reloadDelay = 200 * time.Millisecond

// Watch re-reads path whenever it changes and passes every config that
// parses and validates to onChange. Broken edits are logged and skipped.
// It returns once the watcher is set up; watching ends with ctx.
//
// The parent directory is watched rather than the file because Save
// replaces the file by rename.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()

		timer := time.NewTimer(reloadDelay)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				timer.Reset(reloadDelay)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				appLog.Warn("config watcher error", "path", abs, "err", err)

			case <-timer.C:
				cfg, err := read(abs)
				if err != nil {
					appLog.Error("config reload failed", err, "path", abs)
					continue
				}
				cfg.ApplyEnv()
				if err := cfg.Validate(); err != nil {
					appLog.Error("config reload rejected", err, "path", abs)
					continue
				}
				appLog.Info("config reloaded", "path", abs)
				onChange(cfg)
			}
		}
	}()

	return nil
}
