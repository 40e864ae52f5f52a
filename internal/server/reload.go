package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the reloader waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches the config file for changes and triggers hot-reload.
type Reloader struct {
	watcher  *fsnotify.Watcher
	reload   func() error
	path     string
	debounce time.Duration
	log      io.Writer
}

// NewReloader creates a file watcher for path. The parent directory is
// watched so editors that replace the file by rename are still seen.
func NewReloader(path string, reload func() error, log io.Writer) (*Reloader, error) {
	if log == nil {
		log = os.Stderr
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("server: resolve %q: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("server: watch %q: %w", filepath.Dir(abs), err)
	}
	return &Reloader{
		watcher:  watcher,
		reload:   reload,
		path:     abs,
		debounce: DefaultDebounce,
		log:      log,
	}, nil
}

// WithDebounce overrides the debounce interval.
func (r *Reloader) WithDebounce(d time.Duration) *Reloader {
	r.debounce = d
	return r
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

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
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() {
					if err := r.reload(); err != nil {
						fmt.Fprintf(r.log, "hot-reload failed: %v\n", err)
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(r.log, "file watcher error: %v\n", err)
		}
	}
}
