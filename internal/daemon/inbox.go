package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/pushroute/internal/dbus"
	"github.com/jmylchreest/pushroute/internal/model"
)

const (
	inboxExt      = ".json"
	inboxBadExt   = ".bad"
	inboxDebounce = 100 * time.Millisecond
)

// DeliverFunc hands a raw payload to the dispatcher.
type DeliverFunc func(ctx context.Context, payload []byte, source string) (string, error)

// Inbox watches a spool directory for payload files. Each *.json file is
// delivered and removed; a file that does not parse is renamed to *.bad.
// Writers should create files under another name and rename them into place.
type Inbox struct {
	dir     string
	deliver DeliverFunc
	logger  *slog.Logger

	onReject func(file string, err error)
}

// NewInbox creates an Inbox for dir.
func NewInbox(dir string, deliver DeliverFunc, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:     dir,
		deliver: deliver,
		logger:  logger.With("component", "inbox"),
	}
}

// OnReject sets the function called for every rejected file.
func (in *Inbox) OnReject(fn func(file string, err error)) {
	in.onReject = fn
}

// Run drains files already in the spool, then watches it until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0700); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	in.logger.Info("watching inbox", "dir", in.dir)

	in.Drain(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != inboxExt {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(inboxDebounce)
			} else {
				timer.Reset(inboxDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			in.Drain(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

// Drain delivers every *.json file in the spool, oldest name first.
// It returns the number of files delivered.
func (in *Inbox) Drain(ctx context.Context) int {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("failed to read inbox", "dir", in.dir, "error", err)
		return 0
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != inboxExt || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	delivered := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if in.process(ctx, filepath.Join(in.dir, name)) {
			delivered++
		}
	}
	return delivered
}

// process delivers one file and reports whether it was delivered.
func (in *Inbox) process(ctx context.Context, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			in.logger.Warn("failed to read inbox file", "file", path, "error", err)
		}
		return false
	}

	id, err := in.deliver(ctx, data, model.SourceInbox)
	switch {
	case errors.Is(err, dbus.ErrInvalidPayload):
		in.reject(path, err)
		return false
	case err != nil:
		// Left in place for the next start
		in.logger.Warn("failed to deliver inbox file", "file", path, "error", err)
		return false
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.logger.Warn("failed to remove delivered inbox file", "file", path, "error", err)
	}
	in.logger.Debug("inbox file delivered", "file", path, "id", id)
	return true
}

func (in *Inbox) reject(path string, cause error) {
	in.logger.Warn("rejected inbox file", "file", path, "error", cause)

	bad := strings.TrimSuffix(path, inboxExt) + inboxBadExt
	if err := os.Rename(path, bad); err != nil {
		in.logger.Warn("failed to quarantine inbox file", "file", path, "error", err)
	}
	if in.onReject != nil {
		in.onReject(filepath.Base(path), cause)
	}
}
