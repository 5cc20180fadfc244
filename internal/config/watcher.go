package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/squidgo/proxycore/internal/obslog"
)

// Loader parses the configuration file(s) rooted at path into a fresh
// Snapshot. No parser ships in this module; the caller of NewWatcher
// supplies one (tests supply a stub).
type Loader func(path string) (*Snapshot, error)

// Watcher debounces filesystem change events against a directory and
// reloads the Store through Loader, the same shape nabbar-golib's
// fsnotify-driven config reload uses: one watcher goroutine, a short
// debounce window to coalesce editor save bursts, and a single Swap per
// settled burst.
type Watcher struct {
	store    *Store
	load     Loader
	path     string
	debounce time.Duration
	log      *obslog.Logger

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a Watcher for path (a file or directory), reloading
// store via load whenever path changes. debounce of 0 defaults to
// 250ms.
func NewWatcher(store *Store, load Loader, path string, debounce time.Duration, log *obslog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watchDir := filepath.Dir(path)
	if err := fw.Add(watchDir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		store:    store,
		load:     load,
		path:     path,
		debounce: debounce,
		log:      log,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
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
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", "error", err)

		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous snapshot", "path", w.path, "error", err)
		return
	}
	w.store.Swap(next)
	w.log.Info("config reloaded", "path", w.path, "generation", next.Generation)
}

// Close stops the watcher goroutine and releases the fsnotify handle.
func (w *Watcher) Close() error {
	close(w.stop)
	<-w.done
	return w.watcher.Close()
}
