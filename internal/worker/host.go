// Package worker provides the background execution context that runs
// dispatcher events.
//
// Events are handled one at a time. A handler may hand asynchronous
// follow-up work to Event.WaitUntil; the host keeps itself alive until
// every such chain has returned, and Drain blocks shutdown on them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrHostClosed is returned when an event is dispatched after Drain started.
var ErrHostClosed = errors.New("worker host is draining")

// Host runs events and tracks their pending asynchronous work.
type Host struct {
	logger *slog.Logger

	// runMu serializes the synchronous part of event handlers.
	runMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	inflight atomic.Int64
	handled  atomic.Uint64
	failed   atomic.Uint64
}

// NewHost creates a new Host.
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Event is the per-invocation handle given to a handler.
type Event struct {
	host *Host
	name string
}

// Name returns the event type, e.g. "message" or "notificationclick".
func (e *Event) Name() string {
	return e.name
}

// WaitUntil extends the lifetime of the event until fn returns.
// fn runs on its own goroutine with the host context. Returned errors
// and panics are logged, never propagated.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	h := e.host
	h.pending.Add(1)
	h.inflight.Add(1)

	go func() {
		defer func() {
			h.inflight.Add(-1)
			h.pending.Done()
		}()

		if err := h.safeRun(e.name, func() error { return fn(h.ctx) }); err != nil {
			h.failed.Add(1)
			h.logger.Warn("event work failed", "event", e.name, "error", err)
		}
	}()
}

// Dispatch runs handler for a new event of the given name.
// The synchronous part of handler runs before Dispatch returns; work
// registered through WaitUntil keeps running afterwards.
func (h *Host) Dispatch(name string, handler func(e *Event)) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	// Hold a pending slot for the synchronous part so WaitUntil calls made
	// by the handler never race a concurrent Drain.
	h.pending.Add(1)
	h.mu.Unlock()
	defer h.pending.Done()

	h.runMu.Lock()
	defer h.runMu.Unlock()

	e := &Event{host: h, name: name}
	h.handled.Add(1)
	if err := h.safeRun(name, func() error { handler(e); return nil }); err != nil {
		h.failed.Add(1)
		h.logger.Error("event handler failed", "event", name, "error", err)
	}
	return nil
}

// Drain stops accepting events and waits for all pending work.
// If ctx expires first, the host context is cancelled so pending work
// can abort, and ctx's error is returned.
func (h *Host) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.logger.Warn("drain timed out, cancelling pending work", "pending", h.Pending())
		h.cancel()
		return ctx.Err()
	}
}

// Pending returns the number of WaitUntil chains still running.
func (h *Host) Pending() int {
	return int(h.inflight.Load())
}

// Handled returns the number of events dispatched so far.
func (h *Host) Handled() uint64 {
	return h.handled.Load()
}

// Failed returns the number of handlers or chains that failed or panicked.
func (h *Host) Failed() uint64 {
	return h.failed.Load()
}

// safeRun calls fn and turns a panic into an error.
func (h *Host) safeRun(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in event", "event", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}
