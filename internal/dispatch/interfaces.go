// Package dispatch implements the notification dispatcher: it turns push
// payloads into notifications and routes notification clicks to
// application windows.
//
// The dispatcher never talks to the desktop directly. Everything it needs
// from the host platform is injected as one of the capability interfaces
// below, so each backend (D-Bus, DevTools, xdg-open) and each test double
// plugs in the same way.
package dispatch

import (
	"context"

	"github.com/jmylchreest/pushroute/internal/model"
)

// Handler is the callback contract the host invokes for each event.
type Handler interface {
	// HandleBackgroundMessage shows a notification for an inbound payload.
	HandleBackgroundMessage(e ExtendableEvent, payload *model.Payload)

	// HandleNotificationClick routes a click on a shown notification.
	HandleNotificationClick(e ExtendableEvent, click *ClickEvent)
}

// ExtendableEvent lets a handler keep the host alive until asynchronous
// work finishes.
type ExtendableEvent interface {
	WaitUntil(fn func(ctx context.Context) error)
}

// NotificationOptions are the display options passed to the surface.
type NotificationOptions struct {
	Body string
	Icon string
	Data map[string]string

	// Tag is the record ID to use for the shown notification (empty = generate).
	Tag string
	// Source identifies where the payload came from.
	Source string
}

// NotificationSurface renders OS-level notifications.
type NotificationSurface interface {
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) error
}

// ShownNotification is a notification previously shown by the surface,
// as handed back on interaction.
type ShownNotification interface {
	// Data returns the data attached when the notification was shown.
	Data() map[string]string
	// Close dismisses the notification. Calling it more than once is a no-op.
	Close()
}

// ClickEvent is a user interaction with a shown notification.
type ClickEvent struct {
	Notification ShownNotification
	Action       string // Action key reported by the surface ("default" for a body click)
}

// ClientType filters window enumeration.
type ClientType string

// ClientTypeWindow selects top-level application windows.
const ClientTypeWindow ClientType = "window"

// ClientQuery is the filter passed to WindowEnumerator.MatchAll.
type ClientQuery struct {
	Type                ClientType
	IncludeUncontrolled bool
}

// WindowClient is an open application window.
type WindowClient interface {
	URL() string
}

// Focuser is implemented by window clients that can be focused.
type Focuser interface {
	Focus(ctx context.Context) error
}

// WindowEnumerator lists open application windows in platform order.
type WindowEnumerator interface {
	MatchAll(ctx context.Context, query ClientQuery) ([]WindowClient, error)
}

// WindowOpener is implemented by enumerators that can open a new window.
// The returned client may be nil when the platform cannot report it.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) (WindowClient, error)
}
