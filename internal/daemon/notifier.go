package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotificationLevel indicates the severity of an internal notification.
type NotificationLevel int

const (
	// NotificationLevelInfo is for informational messages (low urgency).
	NotificationLevelInfo NotificationLevel = iota
	// NotificationLevelWarning is for warning messages (normal urgency).
	NotificationLevelWarning
	// NotificationLevelError is for error messages (critical urgency).
	NotificationLevelError
)

// urgency maps the level onto the freedesktop urgency byte.
func (l NotificationLevel) urgency() byte {
	switch l {
	case NotificationLevelInfo:
		return 0
	case NotificationLevelError:
		return 2
	default:
		return 1
	}
}

// icon returns the themed icon name for the level.
func (l NotificationLevel) icon() string {
	switch l {
	case NotificationLevelInfo:
		return "dialog-information"
	case NotificationLevelError:
		return "dialog-error"
	default:
		return "dialog-warning"
	}
}

// InternalSender shows a notification that is not part of the history.
type InternalSender interface {
	NotifyInternal(ctx context.Context, summary, body, icon string, urgency byte) error
}

// InternalNotifier tells the user about pushrouted's own events, such as a
// rejected config reload. Repeats of the same key are rate limited.
type InternalNotifier struct {
	mu     sync.Mutex
	logger *slog.Logger
	sender InternalSender

	lastNotifyTime map[string]time.Time
	minInterval    time.Duration

	enabled bool
}

// NewInternalNotifier creates a new InternalNotifier. sender may be nil.
func NewInternalNotifier(sender InternalSender, logger *slog.Logger) *InternalNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalNotifier{
		logger:         logger,
		sender:         sender,
		lastNotifyTime: make(map[string]time.Time),
		minInterval:    5 * time.Second,
		enabled:        true,
	}
}

// SetEnabled enables or disables internal notifications.
func (n *InternalNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetMinInterval sets the minimum interval between notifications with the same key.
func (n *InternalNotifier) SetMinInterval(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minInterval = interval
}

// Notify sends an internal notification unless the key was used within the
// minimum interval. It reports whether the notification was sent.
func (n *InternalNotifier) Notify(key, summary, body string, level NotificationLevel) bool {
	n.mu.Lock()
	if !n.enabled {
		n.mu.Unlock()
		return false
	}
	if n.sender == nil {
		n.mu.Unlock()
		n.logger.Debug("internal notification skipped: no sender", "summary", summary)
		return false
	}
	if last, ok := n.lastNotifyTime[key]; ok && time.Since(last) < n.minInterval {
		n.mu.Unlock()
		n.logger.Debug("internal notification rate-limited", "key", key, "summary", summary)
		return false
	}
	n.lastNotifyTime[key] = time.Now()
	sender := n.sender
	n.mu.Unlock()

	n.logger.Debug("sending internal notification", "key", key, "summary", summary, "level", level)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.NotifyInternal(ctx, summary, body, level.icon(), level.urgency()); err != nil {
		n.logger.Debug("failed to send internal notification", "key", key, "error", err)
		return false
	}
	return true
}

// NotifyConfigReloaded reports a successful config reload.
func (n *InternalNotifier) NotifyConfigReloaded() {
	n.Notify(
		"config-reload",
		"Configuration Reloaded",
		"pushrouted configuration has been reloaded.",
		NotificationLevelInfo,
	)
}

// NotifyConfigError reports a config file that failed validation.
func (n *InternalNotifier) NotifyConfigError(err error) {
	n.Notify(
		"config-error",
		"Configuration Error",
		"Failed to reload configuration: "+err.Error(),
		NotificationLevelWarning,
	)
}

// NotifyInboxError reports a spooled payload that could not be parsed.
func (n *InternalNotifier) NotifyInboxError(file string, err error) {
	n.Notify(
		"inbox-error",
		"Rejected Payload",
		file+": "+err.Error(),
		NotificationLevelWarning,
	)
}
