// Package watcher reports changes to the demote config file.
//
// The parent directory is watched rather than the file itself so that
// editors which save by writing a temp file and renaming it over the
// original are still seen. Bursts of events are collapsed into one
// callback after a quiet period.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/demote/pkg/demote/logging"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 250 * time.Millisecond

var log = logging.Get("watcher")

// Watcher watches a single file for changes.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// New watches path. The file may not exist yet; its directory must.
func New(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{path: abs, debounce: debounce, fsw: fsw}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// relevant reports whether ev may have changed the watched file's content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Run delivers change notifications to onChange until ctx is cancelled or
// the watcher is closed. onChange runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			log.Debug("config event", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange(w.path)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// Close stops watching. Later calls are no-ops.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}
