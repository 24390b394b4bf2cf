package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/pushroute/internal/config"
)

// configDebounce coalesces the write bursts editors produce on save.
const configDebounce = 200 * time.Millisecond

// ConfigWatcher watches the daemon config file and revalidates it on change.
// A file that fails validation is reported and the current config is kept.
type ConfigWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	configPath string
	watcher    *fsnotify.Watcher

	onReloadCallback func(newConfig *config.Config)
	onErrorCallback  func(err error)

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewConfigWatcher creates a ConfigWatcher for path. An empty path means
// the default config location.
func NewConfigWatcher(path string, logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = config.ConfigPath()
	}
	return &ConfigWatcher{
		logger:     logger.With("component", "config-watcher"),
		configPath: filepath.Clean(path),
	}
}

// SetReloadCallback sets the callback invoked with each valid new config.
func (w *ConfigWatcher) SetReloadCallback(callback func(newConfig *config.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReloadCallback = callback
}

// SetErrorCallback sets the callback invoked when a changed file is rejected.
func (w *ConfigWatcher) SetErrorCallback(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onErrorCallback = callback
}

// Start begins watching. The config directory must exist.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors and atomic saves replace the inode
	if err := watcher.Add(filepath.Dir(w.configPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.watchLoop(ctx)

	w.logger.Debug("config watcher started", "path", w.configPath)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Debug("failed to close config watcher", "error", err)
	}
	w.logger.Debug("config watcher stopped")
}

func (w *ConfigWatcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(configDebounce)
			} else {
				debounce.Reset(configDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload loads and validates the config file and reports the outcome.
func (w *ConfigWatcher) reload() {
	w.mu.RLock()
	reloadCallback := w.onReloadCallback
	errorCallback := w.onErrorCallback
	w.mu.RUnlock()

	w.logger.Debug("config file changed", "path", w.configPath)

	newConfig, err := config.LoadConfig(w.configPath)
	if err != nil {
		w.logger.Warn("config file changed but validation failed", "error", err)
		if errorCallback != nil {
			errorCallback(err)
		}
		return
	}

	w.logger.Info("config reloaded")
	if reloadCallback != nil {
		reloadCallback(newConfig)
	}
}
