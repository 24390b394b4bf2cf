package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmylchreest/pushroute/internal/model"
)

// DefaultIcon is the icon reference attached to every notification unless configured.
const DefaultIcon = "/icons/Icon-192.png"

// Options configures a Dispatcher.
type Options struct {
	DefaultTitle string // Title when the payload has none (default "Notification")
	Icon         string // Icon reference attached to every notification
}

// Dispatcher implements Handler on top of the injected capabilities.
type Dispatcher struct {
	logger  *slog.Logger
	surface NotificationSurface

	mu      sync.RWMutex
	windows WindowEnumerator
	opts    Options
}

// New creates a Dispatcher. windows may be nil, in which case clicks
// only close their notification.
func New(surface NotificationSurface, windows WindowEnumerator, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:  logger,
		surface: surface,
		windows: windows,
		opts:    normalizeOptions(opts),
	}
}

// SetWindows swaps the window backend, e.g. after a config reload.
func (d *Dispatcher) SetWindows(windows WindowEnumerator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = windows
}

// SetOptions swaps the display options.
func (d *Dispatcher) SetOptions(opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = normalizeOptions(opts)
}

func (d *Dispatcher) snapshot() (WindowEnumerator, Options) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windows, d.opts
}

func normalizeOptions(opts Options) Options {
	if opts.DefaultTitle == "" {
		opts.DefaultTitle = model.DefaultTitle
	}
	if opts.Icon == "" {
		opts.Icon = DefaultIcon
	}
	return opts
}

// HandleBackgroundMessage resolves title and body through the fallback
// chain and asks the surface to show the notification with the payload's
// data attached.
func (d *Dispatcher) HandleBackgroundMessage(e ExtendableEvent, payload *model.Payload) {
	_, opts := d.snapshot()

	if payload.IsEmpty() {
		d.logger.Debug("background message carries no notification or data", "title", opts.DefaultTitle)
	}

	title := payload.ResolveTitle(opts.DefaultTitle)
	show := NotificationOptions{
		Body: payload.ResolveBody(),
		Icon: opts.Icon,
		Data: payload.AttachedData(),
	}
	if payload != nil {
		show.Tag = payload.Meta.ID
		show.Source = payload.Meta.Source
	}

	d.logger.Debug("received background message", "title", title, "source", show.Source)

	e.WaitUntil(func(ctx context.Context) error {
		if err := d.surface.ShowNotification(ctx, title, show); err != nil {
			d.logger.Warn("failed to show notification", "title", title, "error", err)
		}
		return nil
	})
}

// HandleNotificationClick closes the clicked notification, then focuses
// the first open window whose URL equals the target URL, or opens one.
func (d *Dispatcher) HandleNotificationClick(e ExtendableEvent, click *ClickEvent) {
	var data map[string]string
	if click != nil && click.Notification != nil {
		data = click.Notification.Data()
		click.Notification.Close()
	}
	target := model.TargetURL(data)

	e.WaitUntil(func(ctx context.Context) error {
		d.route(ctx, target)
		return nil
	})
}

// route focuses or opens a window for target. Host API failures are logged
// and swallowed.
func (d *Dispatcher) route(ctx context.Context, target string) {
	windows, _ := d.snapshot()
	if windows == nil {
		d.logger.Debug("no window backend, click ignored", "url", target)
		return
	}

	clients, err := windows.MatchAll(ctx, ClientQuery{Type: ClientTypeWindow, IncludeUncontrolled: true})
	if err != nil {
		d.logger.Warn("failed to enumerate windows", "url", target, "error", err)
		return
	}

	for _, client := range clients {
		if client == nil || client.URL() != target {
			continue
		}
		focuser, ok := client.(Focuser)
		if !ok {
			continue
		}
		if err := focuser.Focus(ctx); err != nil {
			d.logger.Warn("failed to focus window", "url", target, "error", err)
		} else {
			d.logger.Debug("focused existing window", "url", target)
		}
		return
	}

	opener, ok := windows.(WindowOpener)
	if !ok {
		d.logger.Debug("no matching window and no opener", "url", target, "windows", len(clients))
		return
	}
	if _, err := opener.OpenWindow(ctx, target); err != nil {
		d.logger.Warn("failed to open window", "url", target, "error", err)
		return
	}
	d.logger.Debug("opened new window", "url", target)
}

var _ Handler = (*Dispatcher)(nil)
