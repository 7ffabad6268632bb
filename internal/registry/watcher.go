package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits an event when anything under the agents root changes. It
// watches the root and its immediate child directories (plus their scripts
// dirs) and debounces bursts, so one save of a multi-file package produces
// one reload.
type Watcher struct {
	root   string
	logger *slog.Logger
	events chan struct{}
}

func NewWatcher(root string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:   root,
		logger: logger,
		events: make(chan struct{}, 4),
	}
}

// Events delivers one element per debounced change burst. The channel closes
// when the watcher stops.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	addDir := func(dir string) {
		if err := fsw.Add(dir); err != nil {
			if os.IsNotExist(err) {
				return
			}
			w.logger.Warn("agents watcher: add failed", "dir", dir, "error", err)
		}
	}

	addDir(w.root)
	if entries, err := os.ReadDir(w.root); err == nil {
		for _, ent := range entries {
			if !ent.IsDir() {
				continue
			}
			child := filepath.Join(w.root, ent.Name())
			addDir(child)
			if fi, err := os.Stat(filepath.Join(child, "scripts")); err == nil && fi.IsDir() {
				addDir(filepath.Join(child, "scripts"))
			}
		}
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(w.events)
		}()

		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			select {
			case w.events <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// A new package directory needs its own watch.
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						addDir(ev.Name)
					}
				}
				pending = true
				if timer == nil {
					timer = time.NewTimer(250 * time.Millisecond)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(250 * time.Millisecond)
				}
			case <-timerC:
				flush()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("agents watcher error", "error", err)
			}
		}
	}()

	return nil
}
