package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the policy file for changes and triggers hot-reload.
type Reloader struct {
	watcher *fsnotify.Watcher
	reload  func() error
	log     *slog.Logger
	paths   []string
}

// NewReloader creates a file watcher for the given paths. Paths that do not
// exist yet are skipped.
func NewReloader(reload func() error, log *slog.Logger, paths ...string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{
		watcher: watcher,
		reload:  reload,
		log:     log,
		paths:   watched,
	}, nil
}

// Watched returns the paths under watch.
func (r *Reloader) Watched() []string {
	return r.paths
}

// Run watches for file changes and reloads policy. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after the last write before reloading. Editors
	// often produce bursts of write events per save.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.reload(); err != nil {
						r.log.Error("hot-reload failed", "err", err)
					} else {
						r.log.Info("hot-reload: policy reloaded")
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Error("file watcher error", "err", err)
		}
	}
}
