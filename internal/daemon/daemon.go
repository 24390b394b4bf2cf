package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/run"

	"github.com/jmylchreest/pushroute/internal/adapter/input"
	"github.com/jmylchreest/pushroute/internal/config"
	"github.com/jmylchreest/pushroute/internal/core"
	"github.com/jmylchreest/pushroute/internal/dbus"
	"github.com/jmylchreest/pushroute/internal/dispatch"
	"github.com/jmylchreest/pushroute/internal/model"
	"github.com/jmylchreest/pushroute/internal/store"
	"github.com/jmylchreest/pushroute/internal/windows"
	"github.com/jmylchreest/pushroute/internal/worker"
)

// Event names passed to the worker host.
const (
	eventMessage = "message"
	eventClick   = "notificationclick"
)

// Housekeeping job names.
const (
	jobPrune = "prune"
	jobSweep = "sweep"
)

const (
	// sweepSchedule is how often stale on-screen entries are forgotten.
	sweepSchedule = "@every 1m"
	// sweepGrace is added to a notification's expiry before it is swept.
	sweepGrace = time.Minute
	// sweepMaxAge bounds entries for notifications that never expire.
	sweepMaxAge = 24 * time.Hour
	// pendingClickWait bounds how long a click waits for its notification
	// to reach the screen.
	pendingClickWait = 5 * time.Second
)

// Surface is the notification surface as the daemon drives it.
// *dbus.Surface satisfies it.
type Surface interface {
	dispatch.NotificationSurface
	InternalSender
	OnClick(fn dbus.ClickFunc)
	SetOptions(opts dbus.SurfaceOptions)
	Click(ref string) error
	ActiveCount() int
	Sweep(now time.Time, grace, maxAge time.Duration) int
	Listen() error
	Interrupt(err error)
}

// signaler announces deliveries and clicks to bus listeners.
type signaler interface {
	EmitDelivered(id, title string) error
	EmitClicked(id, url string) error
}

// Options configures New.
type Options struct {
	ConfigPath string // Watched for hot reload (empty = default path)
	Logger     *slog.Logger
}

// Daemon wires the dispatcher to the desktop: payloads arrive over D-Bus
// or the inbox, are shown through the notification surface, and clicks are
// routed to the configured window backend.
type Daemon struct {
	logger     *slog.Logger
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	host       *worker.Host
	dispatcher *dispatch.Dispatcher
	surface    Surface
	service    *dbus.Service
	signals    signaler
	history    *store.Store
	notifier   *InternalNotifier
	scheduler  *Scheduler

	// Deliveries accepted but not yet shown, by record ID
	pendingMu sync.Mutex
	pending   map[string]chan struct{}

	stateMu      sync.Mutex
	state        *store.DaemonState
	statePath    string
	persistState bool
}

// New builds a daemon from cfg. It connects to the session bus but does
// not start listening; see Register.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var history *store.Store
	var recorder dbus.HistoryRecorder
	if cfg.History.Enabled {
		s, err := store.Open(cfg.HistoryFile(), logger.With("component", "history"))
		if err != nil {
			return nil, err
		}
		history, recorder = s, s
		logger.Info("history store initialized", "path", cfg.HistoryFile(), "count", s.Count())
	}

	win, err := windows.New(cfg, logger.With("component", "windows"))
	if err != nil {
		if history != nil {
			_ = history.Close()
		}
		return nil, err
	}

	surface := dbus.NewSurface(surfaceOptions(cfg), recorder, logger.With("component", "surface"))

	d := newDaemon(cfg, surface, win, history, logger)
	d.configPath = opts.ConfigPath
	d.service = dbus.NewService(d, 10*time.Second, logger.With("component", "service"))
	d.signals = d.service
	return d, nil
}

// newDaemon assembles a daemon from already constructed parts.
func newDaemon(cfg *config.Config, surface Surface, win dispatch.WindowEnumerator, history *store.Store, logger *slog.Logger) *Daemon {
	d := &Daemon{
		logger:    logger,
		cfg:       cfg,
		host:      worker.NewHost(logger.With("component", "host")),
		surface:   surface,
		history:   history,
		notifier:  NewInternalNotifier(surface, logger.With("component", "notifier")),
		scheduler: NewScheduler(logger),
		state:     store.NewDaemonState(),
		statePath: store.StatePath(cfg.HistoryFile()),
		pending:   make(map[string]chan struct{}),
	}
	d.applyNotifierConfig(cfg)
	d.dispatcher = dispatch.New(surface, win, dispatchOptions(cfg), logger.With("component", "dispatcher"))
	surface.OnClick(d.onClick)
	return d
}

func (d *Daemon) applyNotifierConfig(cfg *config.Config) {
	d.notifier.SetEnabled(cfg.Notify.Internal)
	d.notifier.SetMinInterval(cfg.Notify.InternalInterval.Duration())
}

func surfaceOptions(cfg *config.Config) dbus.SurfaceOptions {
	return dbus.SurfaceOptions{
		AppName:            cfg.App.Name,
		DesktopEntry:       cfg.App.DesktopEntry,
		Urgency:            cfg.UrgencyLevel(),
		ExpireTimeout:      cfg.Notify.ExpireTimeout.Duration(),
		FallbackNotifySend: cfg.Notify.FallbackNotifySend,
	}
}

func dispatchOptions(cfg *config.Config) dispatch.Options {
	return dispatch.Options{
		DefaultTitle: cfg.App.DefaultTitle,
		Icon:         cfg.IconPath(),
	}
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Deliver parses a JSON payload and dispatches it as a background message.
// It returns the ID of the history record the notification is shown under.
func (d *Daemon) Deliver(_ context.Context, payload []byte, source string) (string, error) {
	p, err := input.ParsePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", dbus.ErrInvalidPayload, err)
	}
	if source == "" {
		source = model.SourceDBus
	}
	p.Meta.Source = source
	return d.DeliverPayload(p)
}

// DeliverPayload dispatches an already parsed payload.
//
// The notification is shown asynchronously, so it may not be on screen when
// the ID is returned. Click waits for a pending delivery of the same ID.
func (d *Daemon) DeliverPayload(p *model.Payload) (string, error) {
	if p == nil {
		p = &model.Payload{}
	}
	if p.Meta.ID == "" {
		id, err := model.NewID()
		if err != nil {
			return "", err
		}
		p.Meta.ID = id
	}
	if p.Meta.Source == "" {
		p.Meta.Source = model.SourceDBus
	}

	ev := &trackedEvent{done: d.trackPending(p.Meta.ID)}
	err := d.host.Dispatch(eventMessage, func(e *worker.Event) {
		ev.ExtendableEvent = e
		d.dispatcher.HandleBackgroundMessage(ev, p)
	})
	if err != nil || !ev.extended {
		ev.done()
	}
	if err != nil {
		return "", fmt.Errorf("failed to dispatch message: %w", err)
	}

	d.updateState(func(s *store.DaemonState) { s.RecordDelivery() })

	title := p.ResolveTitle(d.Config().App.DefaultTitle)
	d.logger.Info("payload delivered", "id", p.Meta.ID, "source", p.Meta.Source, "title", title)
	d.emit(func(s signaler) error { return s.EmitDelivered(p.Meta.ID, title) })
	return p.Meta.ID, nil
}

// trackedEvent marks a delivery shown once the work it was extended with
// has finished.
type trackedEvent struct {
	dispatch.ExtendableEvent
	done     func()
	extended bool
}

func (e *trackedEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.extended = true
	e.ExtendableEvent.WaitUntil(func(ctx context.Context) error {
		defer e.done()
		return fn(ctx)
	})
}

// trackPending registers a delivery for id and returns the func that
// releases it. The returned func is safe to call more than once.
func (d *Daemon) trackPending(id string) func() {
	ch := make(chan struct{})
	d.pendingMu.Lock()
	d.pending[id] = ch
	d.pendingMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.pendingMu.Lock()
			if d.pending[id] == ch {
				delete(d.pending, id)
			}
			d.pendingMu.Unlock()
			close(ch)
		})
	}
}

// awaitShown blocks while a delivery with record ID id is still being
// shown, up to pendingClickWait.
func (d *Daemon) awaitShown(ctx context.Context, id string) {
	d.pendingMu.Lock()
	ch, ok := d.pending[id]
	d.pendingMu.Unlock()
	if !ok {
		return
	}

	timer := time.NewTimer(pendingClickWait)
	defer timer.Stop()
	select {
	case <-ch:
	case <-ctx.Done():
	case <-timer.C:
		d.logger.Debug("notification still not shown, clicking anyway", "id", id)
	}
}

// Click simulates a click on a notification. ref is a record ID, a unique
// record ID prefix, or a notification server id. A click on a delivery
// that is still being shown waits for it.
func (d *Daemon) Click(ctx context.Context, ref string) error {
	d.awaitShown(ctx, ref)

	err := d.surface.Click(ref)
	if !errors.Is(err, dbus.ErrUnknownNotification) || d.history == nil {
		return err
	}

	r, rerr := core.Resolve(d.history.All(), ref)
	if rerr != nil {
		return fmt.Errorf("%w: %w", dbus.ErrUnknownNotification, rerr)
	}
	if r.ID == ref {
		return err
	}
	return d.surface.Click(r.ID)
}

// Status reports the daemon counters.
func (d *Daemon) Status() dbus.Status {
	d.stateMu.Lock()
	delivered := d.state.Delivered
	d.stateMu.Unlock()

	return dbus.Status{
		Pending:   uint32(d.host.Pending()),
		Active:    uint32(d.surface.ActiveCount()),
		Delivered: uint32(delivered),
	}
}

// onClick hands a click from the surface to the dispatcher.
func (d *Daemon) onClick(click *dispatch.ClickEvent) {
	var id string
	if n, ok := click.Notification.(interface{ ID() string }); ok {
		id = n.ID()
	}
	target := model.TargetURL(click.Notification.Data())

	if err := d.host.Dispatch(eventClick, func(e *worker.Event) {
		d.dispatcher.HandleNotificationClick(e, click)
	}); err != nil {
		d.logger.Warn("click dropped", "id", id, "error", err)
		click.Notification.Close()
		return
	}

	d.updateState(func(s *store.DaemonState) { s.RecordClick() })
	d.logger.Info("notification clicked", "id", id, "url", target)
	d.emit(func(s signaler) error { return s.EmitClicked(id, target) })
}

func (d *Daemon) emit(fn func(s signaler) error) {
	if d.signals == nil {
		return
	}
	if err := fn(d.signals); err != nil {
		d.logger.Debug("failed to emit signal", "error", err)
	}
}

// ApplyConfig swaps in a reloaded configuration. The window backend,
// display options and internal notification settings take effect
// immediately; the history and inbox
// locations only change on restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) error {
	win, err := windows.New(cfg, d.logger.With("component", "windows"))
	if err != nil {
		return fmt.Errorf("failed to create window backend: %w", err)
	}

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	d.dispatcher.SetWindows(win)
	d.dispatcher.SetOptions(dispatchOptions(cfg))
	d.surface.SetOptions(surfaceOptions(cfg))
	d.applyNotifierConfig(cfg)

	if err := d.scheduler.Schedule(jobPrune, d.pruneSchedule(cfg), d.pruneHistory); err != nil {
		d.logger.Warn("failed to reschedule prune", "error", err)
	}

	if old.HistoryFile() != cfg.HistoryFile() || old.History.Enabled != cfg.History.Enabled {
		d.logger.Info("history settings changed, restart pushrouted to apply them")
	}
	if old.InboxDir() != cfg.InboxDir() || old.Inbox.Enabled != cfg.Inbox.Enabled {
		d.logger.Info("inbox settings changed, restart pushrouted to apply them")
	}

	d.logger.Info("configuration applied", "backend", cfg.Windows.Backend)
	return nil
}

func (d *Daemon) onConfigReload(cfg *config.Config) {
	if err := d.ApplyConfig(cfg); err != nil {
		d.logger.Warn("config reload rejected", "error", err)
		d.notifier.NotifyConfigError(err)
		return
	}
	d.notifier.NotifyConfigReloaded()
}

func (d *Daemon) pruneSchedule(cfg *config.Config) string {
	if d.history == nil || !cfg.History.Enabled {
		return ""
	}
	if cfg.History.Retention == 0 && cfg.History.MaxRecords == 0 {
		return ""
	}
	return cfg.History.PruneSchedule
}

// pruneHistory applies the retention policy to the history.
func (d *Daemon) pruneHistory() {
	if d.history == nil {
		return
	}
	cfg := d.Config()

	// Pick up records other processes appended
	if err := d.history.Hydrate(); err != nil {
		d.logger.Debug("failed to refresh history before prune", "error", err)
	}

	removed, err := d.history.Prune(store.PruneOptions{
		OlderThan: cfg.History.Retention.Duration(),
		Keep:      cfg.History.MaxRecords,
	})
	if err != nil {
		d.logger.Warn("failed to prune history", "error", err)
		return
	}

	d.updateState(func(s *store.DaemonState) { s.RecordPrune(len(removed)) })
	if len(removed) > 0 {
		d.logger.Info("history pruned", "removed", len(removed), "remaining", d.history.Count())
	}
}

func (d *Daemon) sweep() {
	if n := d.surface.Sweep(time.Now(), sweepGrace, sweepMaxAge); n > 0 {
		d.logger.Debug("forgot stale notifications", "count", n)
	}
}

func (d *Daemon) updateState(fn func(s *store.DaemonState)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	fn(d.state)
	if !d.persistState {
		return
	}
	if err := store.SaveDaemonState(d.statePath, d.state); err != nil {
		d.logger.Debug("failed to save daemon state", "error", err)
	}
}

// Register adds the daemon's actors to g: the surface listener, the D-Bus
// service, the history watcher, the inbox, the config watcher and the
// housekeeping scheduler. Call Shutdown once g.Run returns.
func (d *Daemon) Register(g *run.Group) error {
	cfg := d.Config()

	d.stateMu.Lock()
	d.persistState = true
	d.stateMu.Unlock()
	d.updateState(func(*store.DaemonState) {})

	// Notification server signals
	g.Add(d.surface.Listen, d.surface.Interrupt)

	// io.github.jmylchreest.PushRoute
	if d.service != nil {
		stop := make(chan struct{})
		g.Add(func() error {
			if err := d.service.Start(); err != nil {
				if !errors.Is(err, dbus.ErrNoSessionBus) {
					return err
				}
				d.logger.Warn("D-Bus service unavailable, payloads are only accepted from the inbox", "error", err)
			}
			<-stop
			return nil
		}, func(error) {
			close(stop)
			if err := d.service.Stop(); err != nil {
				d.logger.Debug("failed to stop service", "error", err)
			}
		})
	}

	// History rewrites by the CLI
	if d.history != nil {
		hw, err := store.NewFileWatcher(d.history, cfg.HistoryFile(), d.logger)
		if err != nil {
			return fmt.Errorf("failed to create history watcher: %w", err)
		}
		stop := make(chan struct{})
		g.Add(func() error {
			if err := hw.Start(); err != nil {
				d.logger.Warn("history watcher unavailable", "error", err)
			}
			<-stop
			return nil
		}, func(error) {
			close(stop)
			if err := hw.Stop(); err != nil {
				d.logger.Debug("failed to stop history watcher", "error", err)
			}
		})
	}

	// Spool directory
	if cfg.Inbox.Enabled {
		inbox := NewInbox(cfg.InboxDir(), d.Deliver, d.logger)
		inbox.OnReject(d.notifier.NotifyInboxError)
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return inbox.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Hot reload
	{
		cw := NewConfigWatcher(d.configPath, d.logger)
		cw.SetReloadCallback(d.onConfigReload)
		cw.SetErrorCallback(d.notifier.NotifyConfigError)
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			if err := cw.Start(ctx); err != nil {
				d.logger.Warn("config hot reload disabled", "error", err)
			}
			<-ctx.Done()
			cw.Stop()
			return nil
		}, func(error) {
			cancel()
		})
	}

	// Housekeeping
	if err := d.scheduler.Schedule(jobPrune, d.pruneSchedule(cfg), d.pruneHistory); err != nil {
		return err
	}
	if err := d.scheduler.Schedule(jobSweep, sweepSchedule, d.sweep); err != nil {
		return err
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			d.scheduler.Start()
			<-stop
			return nil
		}, func(error) {
			close(stop)
			ctx := d.scheduler.Stop()
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				d.logger.Warn("housekeeping job still running at shutdown")
			}
		})
	}

	return nil
}

// Shutdown drains pending dispatcher work, then closes the history and
// records the stop in the state file.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error

	if err := d.host.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain pending work: %w", err))
	}
	d.logger.Debug("worker host drained", "handled", d.host.Handled(), "failed", d.host.Failed())

	if d.history != nil {
		if err := d.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}

	d.updateState(func(s *store.DaemonState) { s.StoppedAt = time.Now().Unix() })
	return errors.Join(errs...)
}
