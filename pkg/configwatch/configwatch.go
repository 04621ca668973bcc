// Package configwatch reloads othala.yaml whenever it changes on disk,
// so a running orchestrator picks up new repo entries or review policy
// tweaks without a restart.
package configwatch

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/othala-run/othala/pkg/config"
)

// Watcher reloads a Config on every write/create/rename event for
// <dir>/othala.yaml and hands the fresh Config to OnReload.
type Watcher struct {
	dir      string
	OnReload func(*config.Config)
	OnError  func(error)
}

func New(dir string) *Watcher {
	return &Watcher{dir: dir}
}

// Run blocks until ctx is canceled, reloading and dispatching on every
// relevant filesystem event. A reload that fails to load or validate is
// reported via OnError and does not replace the last-known-good config.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	target := filepath.Join(w.dir, "othala.yaml")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(target) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := config.Load(w.dir)
			if err != nil {
				slog.Warn("config reload failed, keeping previous configuration", "error", err)
				if w.OnError != nil {
					w.OnError(err)
				}
				continue
			}
			slog.Info("configuration reloaded", "repos", len(cfg.Repos))
			if w.OnReload != nil {
				w.OnReload(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}
