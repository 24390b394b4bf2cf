package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// ErrInvalidPayload is wrapped by Backend.Deliver for payloads that cannot be parsed.
var ErrInvalidPayload = errors.New("invalid payload")

// Backend performs the work behind the exported service methods.
type Backend interface {
	Deliver(ctx context.Context, payload []byte, source string) (string, error)
	Click(ctx context.Context, ref string) error
	Status() Status
}

// Service exports io.github.jmylchreest.PushRoute on the session bus so the
// CLI and other local processes can hand payloads to the running daemon.
type Service struct {
	conn    *dbus.Conn
	logger  *slog.Logger
	backend Backend
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// NewService creates a Service. timeout bounds each backend call.
func NewService(backend Backend, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		logger:  logger,
		backend: backend,
		timeout: timeout,
	}
}

// Start connects to the session bus, exports the object and claims the name.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service already running")
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSessionBus, err)
	}
	s.conn = conn

	if err := conn.Export(s, ServicePath, ServiceInterface); err != nil {
		return fmt.Errorf("failed to export object: %w", err)
	}

	node := &introspect.Node{
		Name: ServicePath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    ServiceInterface,
				Methods: serviceMethods(),
				Signals: serviceSignals(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ServicePath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken, is another pushrouted running?", ServiceName)
	}

	s.running = true
	s.logger.Info("D-Bus service started", "name", ServiceName, "path", ServicePath)
	return nil
}

// Stop releases the bus name.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.conn != nil {
		if _, err := s.conn.ReleaseName(ServiceName); err != nil {
			s.logger.Warn("failed to release bus name", "error", err)
		}
		// Don't close the connection as it's shared (SessionBus)
	}

	s.logger.Info("D-Bus service stopped")
	return nil
}

// Deliver accepts a JSON push payload and returns the record ID it was shown under.
// D-Bus method: Deliver(s) -> s
func (s *Service) Deliver(payload string) (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	id, err := s.backend.Deliver(ctx, []byte(payload), "")
	if err != nil {
		s.logger.Debug("Deliver failed", "error", err)
		return "", toDBusError(err)
	}
	s.logger.Debug("Deliver called", "id", id)
	return id, nil
}

// Click routes a click on a notification by record ID or notification server id.
// D-Bus method: Click(s) -> nothing
func (s *Service) Click(ref string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.backend.Click(ctx, ref); err != nil {
		s.logger.Debug("Click failed", "ref", ref, "error", err)
		return toDBusError(err)
	}
	return nil
}

// Status reports the daemon counters.
// D-Bus method: Status() -> (uuu)
func (s *Service) Status() (uint32, uint32, uint32, *dbus.Error) {
	st := s.backend.Status()
	return st.Pending, st.Active, st.Delivered, nil
}

// EmitDelivered emits the Delivered signal once a payload has been shown.
func (s *Service) EmitDelivered(id, title string) error {
	return s.emit("Delivered", id, title)
}

// EmitClicked emits the Clicked signal once a click has been routed.
func (s *Service) EmitClicked(id, url string) error {
	return s.emit("Clicked", id, url)
}

func (s *Service) emit(name string, args ...any) error {
	s.mu.Lock()
	conn, running := s.conn, s.running
	s.mu.Unlock()

	if !running || conn == nil {
		return fmt.Errorf("not connected to D-Bus")
	}
	if err := conn.Emit(ServicePath, ServiceInterface+"."+name, args...); err != nil {
		return fmt.Errorf("failed to emit %s signal: %w", name, err)
	}
	return nil
}

// toDBusError maps backend errors onto named D-Bus errors.
func toDBusError(err error) *dbus.Error {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return dbus.NewError(errInvalidPayload, []any{err.Error()})
	case errors.Is(err, ErrUnknownNotification):
		return dbus.NewError(errNotFound, []any{err.Error()})
	default:
		return dbus.NewError(errUnavailable, []any{err.Error()})
	}
}

func serviceMethods() []introspect.Method {
	return []introspect.Method{
		{
			Name: "Deliver",
			Args: []introspect.Arg{
				{Name: "payload", Type: "s", Direction: "in"},
				{Name: "id", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "Click",
			Args: []introspect.Arg{
				{Name: "id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "Status",
			Args: []introspect.Arg{
				{Name: "pending", Type: "u", Direction: "out"},
				{Name: "active", Type: "u", Direction: "out"},
				{Name: "delivered", Type: "u", Direction: "out"},
			},
		},
	}
}

func serviceSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "Delivered",
			Args: []introspect.Arg{
				{Name: "id", Type: "s"},
				{Name: "title", Type: "s"},
			},
		},
		{
			Name: "Clicked",
			Args: []introspect.Arg{
				{Name: "id", Type: "s"},
				{Name: "url", Type: "s"},
			},
		},
	}
}
