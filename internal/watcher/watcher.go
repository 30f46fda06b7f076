// Package watcher reports changes to files written by other processes, such
// as the Google token saved by the login command.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"granny-companion/internal/observability"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 250 * time.Millisecond

// ChangeCallback is called once per burst of changes to a watched file.
type ChangeCallback func(path string, exists bool)

// Watcher monitors individual files through their parent directories.
type Watcher struct {
	mu       sync.Mutex
	files    map[string]*fileWatcher // cleaned path → watcher
	callback ChangeCallback
	debounce time.Duration
	logger   *slog.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// New creates a watcher that reports to callback.
func New(callback ChangeCallback) *Watcher {
	return &Watcher{
		files:    make(map[string]*fileWatcher),
		callback: callback,
		debounce: debounceInterval,
		logger:   observability.Component("watcher"),
	}
}

// Watch starts reporting changes to path. The parent directory is created
// if needed so the file can be watched before it first appears.
func (w *Watcher) Watch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	_, watching := w.files[path]
	w.mu.Unlock()
	if watching {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return err
	}

	fw := &fileWatcher{
		path:      path,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}

	w.mu.Lock()
	w.files[path] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	path, _ = filepath.Abs(path)

	w.mu.Lock()
	fw, ok := w.files[path]
	if ok {
		delete(w.files, path)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop filters directory events down to the watched file and
// debounces them.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.notify(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", fw.path, "error", err)
		}
	}
}

func (w *Watcher) notify(fw *fileWatcher) {
	select {
	case <-fw.cancel:
		return
	default:
	}

	_, err := os.Stat(fw.path)
	exists := err == nil
	w.logger.Debug("watched file changed", "path", fw.path, "exists", exists)
	if w.callback != nil {
		w.callback(fw.path, exists)
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
