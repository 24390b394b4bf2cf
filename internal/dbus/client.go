package dbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrDaemonNotRunning is returned when no process owns the service name.
var ErrDaemonNotRunning = errors.New("pushrouted is not running")

// Client calls the service exported by a running pushrouted.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewClient opens a private session bus connection.
func NewClient() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Client{
		conn: conn,
		obj:  conn.Object(ServiceName, ServicePath),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Running reports whether the daemon currently owns the service name.
func (c *Client) Running(ctx context.Context) (bool, error) {
	var owned bool
	call := c.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, ServiceName)
	if err := call.Store(&owned); err != nil {
		return false, fmt.Errorf("failed to query bus name owner: %w", err)
	}
	return owned, nil
}

// Deliver hands a JSON payload to the daemon and returns the record ID.
func (c *Client) Deliver(ctx context.Context, payload []byte) (string, error) {
	if err := c.ensureRunning(ctx); err != nil {
		return "", err
	}

	var id string
	call := c.obj.CallWithContext(ctx, ServiceInterface+".Deliver", 0, string(payload))
	if err := call.Store(&id); err != nil {
		return "", fromDBusError(err)
	}
	return id, nil
}

// Click asks the daemon to route a click on the given notification.
func (c *Client) Click(ctx context.Context, ref string) error {
	if err := c.ensureRunning(ctx); err != nil {
		return err
	}

	call := c.obj.CallWithContext(ctx, ServiceInterface+".Click", 0, ref)
	if call.Err != nil {
		return fromDBusError(call.Err)
	}
	return nil
}

// Status returns the daemon counters.
func (c *Client) Status(ctx context.Context) (Status, error) {
	if err := c.ensureRunning(ctx); err != nil {
		return Status{}, err
	}

	var st Status
	call := c.obj.CallWithContext(ctx, ServiceInterface+".Status", 0)
	if err := call.Store(&st.Pending, &st.Active, &st.Delivered); err != nil {
		return Status{}, fromDBusError(err)
	}
	return st, nil
}

func (c *Client) ensureRunning(ctx context.Context) error {
	running, err := c.Running(ctx)
	if err != nil {
		return err
	}
	if !running {
		return ErrDaemonNotRunning
	}
	return nil
}

// fromDBusError maps named D-Bus errors back onto package errors.
func fromDBusError(err error) error {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		var dbusErrPtr *dbus.Error
		if !errors.As(err, &dbusErrPtr) {
			return err
		}
		dbusErr = *dbusErrPtr
	}

	msg := dbusErr.Error()
	switch dbusErr.Name {
	case errInvalidPayload:
		return fmt.Errorf("%w: %s", ErrInvalidPayload, msg)
	case errNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownNotification, msg)
	default:
		return fmt.Errorf("daemon error: %s", msg)
	}
}
