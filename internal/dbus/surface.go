package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/pushroute/internal/dispatch"
	"github.com/jmylchreest/pushroute/internal/model"
)

// Surface errors.
var (
	ErrNoSessionBus          = errors.New("no session bus connection")
	ErrUnknownNotification   = errors.New("unknown notification")
	ErrSurfaceAlreadyStarted = errors.New("surface listener already started")
)

// HistoryRecorder receives the lifecycle of shown notifications.
// *store.Store satisfies it.
type HistoryRecorder interface {
	Add(r model.Record) error
	Get(id string) (*model.Record, error)
	SetSurfaceID(id string, surfaceID uint32) error
	MarkClicked(id string) error
	MarkClosed(id, reason string) error
}

// ClickFunc receives clicks on notifications this surface has shown.
type ClickFunc func(click *dispatch.ClickEvent)

// SurfaceOptions configures how notifications are rendered.
type SurfaceOptions struct {
	AppName            string        // app_name passed to the server
	DesktopEntry       string        // desktop-entry hint (empty = omitted)
	Urgency            byte          // 0 low, 1 normal, 2 critical
	ExpireTimeout      time.Duration // 0 = server default
	FallbackNotifySend bool          // Use notify-send when the bus is unavailable
}

// expireTimeoutMs converts the timeout to the Notify expire_timeout argument,
// saturating at the largest value the int32 argument can carry.
func (o SurfaceOptions) expireTimeoutMs() int32 {
	if o.ExpireTimeout <= 0 {
		return -1
	}
	ms := o.ExpireTimeout / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(ms)
}

// Surface shows notifications through org.freedesktop.Notifications and
// reports clicks back as dispatch.ClickEvent values.
type Surface struct {
	logger   *slog.Logger
	conn     *dbus.Conn
	registry *Registry
	history  HistoryRecorder

	signal    chan *dbus.Signal
	interrupt chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	opts    SurfaceOptions
	onClick ClickFunc

	// notifySend is swapped out in tests.
	notifySend func(ctx context.Context, appName, icon, title, body string) error
}

// NewSurface connects to the session bus. A missing bus is not fatal: the
// surface falls back to notify-send when enabled.
func NewSurface(opts SurfaceOptions, history HistoryRecorder, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Warn("couldn't connect to session bus, proceeding without it", "error", err)
		conn = nil
	}

	return newSurface(conn, opts, history, logger)
}

func newSurface(conn *dbus.Conn, opts SurfaceOptions, history HistoryRecorder, logger *slog.Logger) *Surface {
	return &Surface{
		logger:     logger,
		conn:       conn,
		registry:   NewRegistry(),
		history:    history,
		signal:     make(chan *dbus.Signal, 16),
		interrupt:  make(chan struct{}),
		opts:       opts,
		notifySend: execNotifySend,
	}
}

// SetOptions replaces the rendering options for subsequent notifications.
func (s *Surface) SetOptions(opts SurfaceOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// OnClick sets the function that receives clicks.
func (s *Surface) OnClick(fn ClickFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick = fn
}

func (s *Surface) options() (SurfaceOptions, ClickFunc) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts, s.onClick
}

// Registry returns the registry of notifications currently on screen.
func (s *Surface) Registry() *Registry {
	return s.registry
}

// ShowNotification implements dispatch.NotificationSurface. The record is
// written to history before display so a failed display is still recorded.
func (s *Surface) ShowNotification(ctx context.Context, title string, opts dispatch.NotificationOptions) error {
	surfaceOpts, _ := s.options()

	record, err := s.newRecord(title, opts)
	if err != nil {
		return err
	}
	s.recordShown(record)

	target := model.TargetURL(record.Data)

	if s.conn == nil {
		if !surfaceOpts.FallbackNotifySend {
			return ErrNoSessionBus
		}
		return s.notifySend(ctx, surfaceOpts.AppName, record.Icon, title, record.Body)
	}

	req := &NotifyRequest{
		AppName:       surfaceOpts.AppName,
		AppIcon:       record.Icon,
		Summary:       title,
		Body:          record.Body,
		Actions:       []string{DefaultActionKey, defaultActionLabel},
		Hints:         buildHints(surfaceOpts.Urgency, surfaceOpts.DesktopEntry, target, record.ID),
		ExpireTimeout: surfaceOpts.expireTimeoutMs(),
	}

	var surfaceID uint32
	obj := s.conn.Object(NotificationsInterface, NotificationsPath)
	call := obj.CallWithContext(ctx, methodNotify, 0, req.args()...)
	if err := call.Store(&surfaceID); err != nil {
		s.logger.Debug("notify call failed", "id", record.ID, "error", err)
		if surfaceOpts.FallbackNotifySend {
			return s.notifySend(ctx, surfaceOpts.AppName, record.Icon, title, record.Body)
		}
		return fmt.Errorf("failed to send notification: %w", err)
	}

	var expiresAt time.Time
	if surfaceOpts.ExpireTimeout > 0 {
		expiresAt = time.Now().Add(surfaceOpts.ExpireTimeout)
	}
	s.registry.Register(record.ID, surfaceID, title, record.Data, expiresAt)

	if s.history != nil {
		if err := s.history.SetSurfaceID(record.ID, surfaceID); err != nil {
			s.logger.Debug("failed to record surface id", "id", record.ID, "error", err)
		}
	}

	s.logger.Debug("notification shown", "id", record.ID, "surface_id", surfaceID, "url", target)
	return nil
}

// NotifyInternal shows a transient notification about the daemon itself.
// It is not recorded in history and cannot be clicked.
func (s *Surface) NotifyInternal(ctx context.Context, summary, body, icon string, urgency byte) error {
	surfaceOpts, _ := s.options()

	if s.conn == nil {
		if !surfaceOpts.FallbackNotifySend {
			return ErrNoSessionBus
		}
		return s.notifySend(ctx, surfaceOpts.AppName, icon, summary, body)
	}

	hints := map[string]dbus.Variant{
		HintUrgency: dbus.MakeVariant(urgency),
		"transient": dbus.MakeVariant(true),
		"category":  dbus.MakeVariant("device"),
	}
	if surfaceOpts.DesktopEntry != "" {
		hints[HintDesktopEntry] = dbus.MakeVariant(surfaceOpts.DesktopEntry)
	}
	req := &NotifyRequest{
		AppName:       surfaceOpts.AppName,
		AppIcon:       icon,
		Summary:       summary,
		Body:          body,
		Hints:         hints,
		ExpireTimeout: 5000,
	}

	obj := s.conn.Object(NotificationsInterface, NotificationsPath)
	if call := obj.CallWithContext(ctx, methodNotify, 0, req.args()...); call.Err != nil {
		return fmt.Errorf("failed to send internal notification: %w", call.Err)
	}
	return nil
}

func (s *Surface) newRecord(title string, opts dispatch.NotificationOptions) (*model.Record, error) {
	source := opts.Source
	if source == "" {
		source = model.SourceDBus
	}

	record, err := model.NewRecord(source)
	if err != nil {
		return nil, err
	}
	if opts.Tag != "" {
		record.ID = opts.Tag
	}
	record.Title = title
	record.Body = opts.Body
	record.Icon = opts.Icon
	for k, v := range opts.Data {
		record.Data[k] = v
	}
	return record, nil
}

func (s *Surface) recordShown(record *model.Record) {
	if s.history == nil {
		return
	}
	if err := s.history.Add(*record); err != nil {
		s.logger.Warn("failed to record notification", "id", record.ID, "error", err)
	}
}

// Listen receives notification server signals until Interrupt is called.
func (s *Surface) Listen() error {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return ErrSurfaceAlreadyStarted
	}

	if s.conn != nil {
		if err := s.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(NotificationsPath),
			dbus.WithMatchInterface(NotificationsInterface),
		); err != nil {
			return fmt.Errorf("failed to subscribe to notification signals: %w", err)
		}
		s.conn.Signal(s.signal)
	} else {
		s.logger.Warn("no session bus, clicks on notifications will not be routed")
	}

	for {
		select {
		case sig := <-s.signal:
			s.handleSignal(sig)
		case <-s.interrupt:
			return nil
		}
	}
}

// Interrupt stops Listen and releases the signal subscription.
func (s *Surface) Interrupt(_ error) {
	s.stopOnce.Do(func() {
		close(s.interrupt)

		if s.conn == nil {
			return
		}
		s.conn.RemoveSignal(s.signal)
		if err := s.conn.RemoveMatchSignal(
			dbus.WithMatchObjectPath(NotificationsPath),
			dbus.WithMatchInterface(NotificationsInterface),
		); err != nil {
			s.logger.Debug("failed to remove signal match", "error", err)
		}
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("failed to close session bus connection", "error", err)
		}
	})
}

func (s *Surface) handleSignal(sig *dbus.Signal) {
	if id, key, ok := parseActionInvoked(sig); ok {
		s.handleAction(id, key)
		return
	}
	if id, reason, ok := parseNotificationClosed(sig); ok {
		s.handleClosed(id, reason)
	}
}

// handleAction turns an ActionInvoked signal for one of our ids into a click.
// Signals for other applications' notifications are ignored.
func (s *Surface) handleAction(surfaceID uint32, key string) {
	entry, ok := s.registry.GetBySurfaceID(surfaceID)
	if !ok {
		return
	}
	s.logger.Debug("notification clicked", "id", entry.RecordID, "surface_id", surfaceID, "action", key)
	s.click(entry, key)
}

// handleClosed records why one of our notifications left the screen.
func (s *Surface) handleClosed(surfaceID uint32, reason CloseReason) {
	entry, ok := s.registry.RemoveBySurfaceID(surfaceID)
	if !ok {
		return
	}
	s.logger.Debug("notification closed", "id", entry.RecordID, "surface_id", surfaceID, "reason", reason.String())
	s.markClosed(entry.RecordID, reason.RecordReason())
}

// Click simulates a click on a notification by record ID or by notification
// server id. Records no longer on screen are clicked from history.
func (s *Surface) Click(ref string) error {
	if entry, ok := s.registry.GetByRecordID(ref); ok {
		s.click(entry, DefaultActionKey)
		return nil
	}
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		if entry, ok := s.registry.GetBySurfaceID(uint32(n)); ok {
			s.click(entry, DefaultActionKey)
			return nil
		}
	}

	if s.history == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNotification, ref)
	}
	record, err := s.history.Get(ref)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownNotification, ref)
	}
	s.click(Entry{
		RecordID: record.ID,
		Title:    record.Title,
		Data:     record.Data,
		Status:   EntryStatusClosed,
	}, DefaultActionKey)
	return nil
}

func (s *Surface) click(entry Entry, key string) {
	_, onClick := s.options()

	if entry.Status == EntryStatusActive {
		s.registry.SetStatus(entry.RecordID, EntryStatusClicked)
	}
	if s.history != nil {
		if err := s.history.MarkClicked(entry.RecordID); err != nil {
			s.logger.Debug("failed to record click", "id", entry.RecordID, "error", err)
		}
	}

	if onClick == nil {
		s.logger.Debug("no click handler, closing notification", "id", entry.RecordID)
		s.closeNotification(entry)
		return
	}
	onClick(&dispatch.ClickEvent{
		Notification: &shownNotification{surface: s, entry: entry},
		Action:       key,
	})
}

// closeNotification removes a clicked notification from the screen.
func (s *Surface) closeNotification(entry Entry) {
	removed, onScreen := s.registry.Remove(entry.RecordID)
	s.markClosed(entry.RecordID, model.CloseReasonClicked)

	if !onScreen || s.conn == nil || removed.SurfaceID == 0 {
		return
	}
	obj := s.conn.Object(NotificationsInterface, NotificationsPath)
	if call := obj.Call(methodCloseNotification, 0, removed.SurfaceID); call.Err != nil {
		s.logger.Debug("failed to close notification", "id", entry.RecordID, "surface_id", removed.SurfaceID, "error", call.Err)
	}
}

func (s *Surface) markClosed(recordID, reason string) {
	if s.history == nil {
		return
	}
	if err := s.history.MarkClosed(recordID, reason); err != nil {
		s.logger.Debug("failed to record close", "id", recordID, "error", err)
	}
}

// ActiveCount returns the number of notifications still on screen.
func (s *Surface) ActiveCount() int {
	return s.registry.ActiveCount()
}

// Sweep forgets notifications the server never reported closed.
func (s *Surface) Sweep(now time.Time, grace, maxAge time.Duration) int {
	removed := s.registry.Sweep(now, grace, maxAge)
	for _, e := range removed {
		s.markClosed(e.RecordID, model.CloseReasonExpired)
	}
	return len(removed)
}

// shownNotification is the dispatch.ShownNotification handed to the click handler.
type shownNotification struct {
	surface *Surface
	entry   Entry
	once    sync.Once
}

// ID returns the history record ID of the notification.
func (n *shownNotification) ID() string {
	return n.entry.RecordID
}

func (n *shownNotification) Data() map[string]string {
	data := make(map[string]string, len(n.entry.Data))
	for k, v := range n.entry.Data {
		data[k] = v
	}
	return data
}

func (n *shownNotification) Close() {
	n.once.Do(func() {
		n.surface.closeNotification(n.entry)
	})
}

// execNotifySend shows a notification with the notify-send binary.
// Clicks cannot be observed on this path.
func execNotifySend(ctx context.Context, appName, icon, title, body string) error {
	args := []string{}
	if appName != "" {
		args = append(args, "--app-name="+appName)
	}
	if icon != "" {
		args = append(args, "--icon="+icon)
	}
	args = append(args, title, body)

	cmd := exec.CommandContext(ctx, "notify-send", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to run notify-send: %w (output: %s)", err, string(out))
	}
	return nil
}

var _ dispatch.NotificationSurface = (*Surface)(nil)
