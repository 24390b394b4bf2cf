package dbus

import (
	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/pushroute/internal/model"
)

// org.freedesktop.Notifications, the desktop notification server we talk to.
const (
	NotificationsInterface = "org.freedesktop.Notifications"
	NotificationsPath      = "/org/freedesktop/Notifications"

	methodNotify            = NotificationsInterface + ".Notify"
	methodCloseNotification = NotificationsInterface + ".CloseNotification"
	signalActionInvoked     = NotificationsInterface + ".ActionInvoked"
	signalNotificationClose = NotificationsInterface + ".NotificationClosed"
)

// io.github.jmylchreest.PushRoute, the service pushrouted exports.
const (
	ServiceName      = "io.github.jmylchreest.PushRoute"
	ServiceInterface = "io.github.jmylchreest.PushRoute"
	ServicePath      = "/io/github/jmylchreest/PushRoute"

	errInvalidPayload = ServiceInterface + ".Error.InvalidPayload"
	errNotFound       = ServiceInterface + ".Error.NotFound"
	errUnavailable    = ServiceInterface + ".Error.Unavailable"
)

// Action keys and hint names.
const (
	// DefaultActionKey is the action key reported when the notification body is clicked.
	DefaultActionKey   = "default"
	defaultActionLabel = "Open"

	HintUrgency      = "urgency"
	HintDesktopEntry = "desktop-entry"
	HintURL          = "x-pushroute-url"
	HintRecordID     = "x-pushroute-id"
)

// CloseReason represents the reason for closing a notification.
// These values are defined by the freedesktop.org notification specification.
type CloseReason uint32

const (
	// CloseReasonExpired indicates the notification expired (timeout reached).
	CloseReasonExpired CloseReason = 1
	// CloseReasonDismissed indicates the user dismissed the notification.
	CloseReasonDismissed CloseReason = 2
	// CloseReasonClosed indicates the notification was closed via CloseNotification.
	CloseReasonClosed CloseReason = 3
	// CloseReasonUndefined is reserved/undefined by freedesktop.org.
	CloseReasonUndefined CloseReason = 4
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonExpired:
		return "expired"
	case CloseReasonDismissed:
		return "dismissed"
	case CloseReasonClosed:
		return "closed"
	case CloseReasonUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// RecordReason maps the reason onto the close reason stored in history.
func (r CloseReason) RecordReason() string {
	switch r {
	case CloseReasonExpired:
		return model.CloseReasonExpired
	case CloseReasonDismissed:
		return model.CloseReasonDismissed
	case CloseReasonClosed:
		return model.CloseReasonClosed
	default:
		return model.CloseReasonUnknown
	}
}

// NotifyRequest holds the arguments of an org.freedesktop.Notifications.Notify call.
type NotifyRequest struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string // Alternating key, label pairs
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // -1 = server default, 0 = never expire
}

// args returns the request in Notify(susssasa{sv}i) argument order.
func (r *NotifyRequest) args() []any {
	actions := r.Actions
	if actions == nil {
		actions = []string{}
	}
	hints := r.Hints
	if hints == nil {
		hints = map[string]dbus.Variant{}
	}
	return []any{r.AppName, r.ReplacesID, r.AppIcon, r.Summary, r.Body, actions, hints, r.ExpireTimeout}
}

// buildHints returns the hints attached to every pushroute notification.
func buildHints(urgency byte, desktopEntry, targetURL, recordID string) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		HintUrgency: dbus.MakeVariant(urgency),
		HintURL:     dbus.MakeVariant(targetURL),
	}
	if desktopEntry != "" {
		hints[HintDesktopEntry] = dbus.MakeVariant(desktopEntry)
	}
	if recordID != "" {
		hints[HintRecordID] = dbus.MakeVariant(recordID)
	}
	return hints
}

// parseActionInvoked extracts (id, action_key) from an ActionInvoked signal.
func parseActionInvoked(sig *dbus.Signal) (uint32, string, bool) {
	if sig == nil || sig.Name != signalActionInvoked || len(sig.Body) < 2 {
		return 0, "", false
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return 0, "", false
	}
	key, ok := sig.Body[1].(string)
	if !ok {
		return 0, "", false
	}
	return id, key, true
}

// parseNotificationClosed extracts (id, reason) from a NotificationClosed signal.
func parseNotificationClosed(sig *dbus.Signal) (uint32, CloseReason, bool) {
	if sig == nil || sig.Name != signalNotificationClose || len(sig.Body) < 2 {
		return 0, 0, false
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return 0, 0, false
	}
	reason, ok := sig.Body[1].(uint32)
	if !ok {
		return 0, 0, false
	}
	return id, CloseReason(reason), true
}

// Status is the daemon status reported over the service interface.
type Status struct {
	Pending   uint32 `json:"pending"`   // Event chains still running in the worker host
	Active    uint32 `json:"active"`    // Notifications currently on screen
	Delivered uint32 `json:"delivered"` // Payloads delivered since start
}
