// Package watch re-triggers engine runs when declared source inputs
// change on disk. Only declared paths are observed: an undeclared influence
// is outside the engine's guarantee, so it is outside watch mode too.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/staleguard/internal/ctxlog"
)

// DefaultDebounce coalesces bursts of filesystem events (editors typically
// emit several per save) into one trigger.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes a fixed set of declared file paths.
type Watcher struct {
	fsw      *fsnotify.Watcher
	declared map[string]struct{}
	debounce time.Duration
}

// New creates a watcher over the given declared paths. Parent directories
// are watched rather than the files themselves so that delete-and-recreate
// (the common editor save strategy) keeps working.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fsw:      fsw,
		declared: make(map[string]struct{}, len(paths)),
		debounce: debounce,
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		clean := filepath.Clean(p)
		w.declared[clean] = struct{}{}
		dirs[filepath.Dir(clean)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return w, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks, invoking onChange (debounced) every time a declared path
// changes, until the context is canceled or the watcher fails. Errors from
// onChange are logged, not fatal: a broken build must not stop the loop
// that will rebuild it after the next edit.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context) error) error {
	logger := ctxlog.FromContext(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if _, declared := w.declared[filepath.Clean(event.Name)]; !declared {
				continue
			}
			logger.Debug("Declared input changed.", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("filesystem watcher: %w", err)
		case <-fire:
			timer = nil
			fire = nil
			if err := onChange(ctx); err != nil {
				logger.Error("Rebuild after change failed.", "error", err)
			}
		}
	}
}
