package perms

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	watchDebounce = 250 * time.Millisecond
	pollInterval  = 2 * time.Second
)

// Watch reloads the engine whenever one of its documents changes on disk
// and reports each reload outcome to onReload. Writes made by SetRole are
// not reported. It blocks until ctx is done.
// The parent directories are watched so that editors replacing the file by
// rename are noticed too. Without a working watcher it falls back to polling.
func (e *Engine) Watch(ctx context.Context, onReload func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		e.log.Warn("fsnotify unavailable, polling documents", zap.Error(err))
		return e.poll(ctx, onReload)
	}
	defer func() { _ = w.Close() }()

	for _, dir := range e.watchDirs() {
		if err := w.Add(dir); err != nil {
			e.log.Warn("cannot watch directory, polling documents", zap.String("dir", dir), zap.Error(err))
			return e.poll(ctx, onReload)
		}
	}

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !e.isDocument(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			// editors often write in several steps
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("document watcher", zap.Error(err))
		case <-fire:
			fire = nil
			if e.unchanged() {
				// our own SetRole writes, or a save without edits
				e.log.Debug("documents unchanged, reload skipped")
				continue
			}
			onReload(e.Reload())
		}
	}
}

// poll compares modification times on a ticker.
func (e *Engine) poll(ctx context.Context, onReload func(error)) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()

	last := e.modTimes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			cur := e.modTimes()
			if cur != last {
				last = cur
				if !e.unchanged() {
					onReload(e.Reload())
				}
			}
		}
	}
}

func (e *Engine) modTimes() [2]time.Time {
	var out [2]time.Time
	for i, p := range []string{e.rolesPath, e.usersPath} {
		if fi, err := os.Stat(p); err == nil {
			out[i] = fi.ModTime()
		}
	}
	return out
}

func (e *Engine) watchDirs() []string {
	a := filepath.Dir(e.rolesPath)
	b := filepath.Dir(e.usersPath)
	if filepath.Clean(a) == filepath.Clean(b) {
		return []string{a}
	}
	return []string{a, b}
}

func (e *Engine) isDocument(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(e.rolesPath) || name == filepath.Clean(e.usersPath)
}
