package store

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events a rename-over produces.
const reloadDebounce = 100 * time.Millisecond

// FileWatcher keeps the store in step with its history file. Appends from
// other processes are hydrated; a file replaced by pushroute prune, delete
// or clear triggers a reload.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	store    *Store
	filePath string
	logger   *slog.Logger
	done     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewFileWatcher creates a new file watcher for the store's persistence file.
func NewFileWatcher(store *Store, filePath string, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher:  watcher,
		store:    store,
		filePath: filePath,
		logger:   logger.With("component", "history-watcher"),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching the file for changes.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = true
	fw.mu.Unlock()

	// Watch the directory: rename-over replaces the inode
	dir := filepath.Dir(fw.filePath)
	if err := fw.watcher.Add(dir); err != nil {
		return err
	}

	go fw.watch()
	return nil
}

// watch is the main watch loop.
func (fw *FileWatcher) watch() {
	defer close(fw.stopped)

	filename := filepath.Base(fw.filePath)

	var timer *time.Timer
	var fire <-chan time.Time
	replaced := false

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				replaced = true
			case event.Has(fsnotify.Write):
			default:
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if replaced {
				replaced = false
				fw.logger.Debug("history file replaced, reloading store", "file", fw.filePath)
				if err := fw.store.Reload(); err != nil {
					fw.logger.Warn("failed to reload store", "error", err)
				}
				continue
			}
			if err := fw.store.Hydrate(); err != nil {
				fw.logger.Warn("failed to hydrate store", "error", err)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", "error", err)

		case <-fw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Stop stops the file watcher and waits for the loop to exit.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	close(fw.done)
	fw.mu.Unlock()

	err := fw.watcher.Close()
	<-fw.stopped
	return err
}
