package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay batches rapid file system events (editors often write a
// config file several times in quick succession).
const DebounceDelay = 100 * time.Millisecond

// Watcher monitors one configuration file and reloads it on change.
// Notifications are debounced; a reload that fails to parse is logged and
// dropped, keeping the previous configuration in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// Watch starts watching path and invokes onChange with every successfully
// reloaded configuration. The file's directory is watched (not the file
// itself) so atomic-rename writes are detected.
func Watch(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.eventLoop()
	return w, nil
}

// Close stops the watcher. No notifications are delivered after it returns.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", "error", err)
			}
		case <-w.done:
			return
		}
	}
}

// scheduleReload arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DebounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("config reloaded", "path", w.path)
	}
	w.onChange(cfg)
}
