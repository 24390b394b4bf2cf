package dbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/pushroute/internal/dispatch"
	"github.com/jmylchreest/pushroute/internal/model"
)

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]*model.Record
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]*model.Record)}
}

func (h *fakeHistory) Add(r model.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[r.ID] = r.Clone()
	return nil
}

func (h *fakeHistory) Get(id string) (*model.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s not found", id)
	}
	return r.Clone(), nil
}

func (h *fakeHistory) SetSurfaceID(id string, surfaceID uint32) error {
	return h.update(id, func(r *model.Record) { r.SurfaceID = surfaceID })
}

func (h *fakeHistory) MarkClicked(id string) error {
	return h.update(id, func(r *model.Record) { r.MarkClicked() })
}

func (h *fakeHistory) MarkClosed(id, reason string) error {
	return h.update(id, func(r *model.Record) { r.MarkClosed(reason) })
}

func (h *fakeHistory) update(id string, fn func(r *model.Record)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	fn(r)
	return nil
}

func newTestSurface(t *testing.T, opts SurfaceOptions) (*Surface, *fakeHistory) {
	t.Helper()
	history := newFakeHistory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newSurface(nil, opts, history, logger), history
}

func captureClicks(s *Surface) *[]*dispatch.ClickEvent {
	var clicks []*dispatch.ClickEvent
	s.OnClick(func(click *dispatch.ClickEvent) {
		clicks = append(clicks, click)
	})
	return &clicks
}

func TestSurface_ShowWithoutBus(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{AppName: "pushroute"})

	err := s.ShowNotification(context.Background(), "Promo", dispatch.NotificationOptions{
		Body: "50% off",
		Data: map[string]string{"url": "/sale"},
		Tag:  "rec-1",
	})
	assert.ErrorIs(t, err, ErrNoSessionBus)

	// The delivery is recorded even though display failed
	r, err := history.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Promo", r.Title)
	assert.Equal(t, model.SourceDBus, r.Source)
	assert.Equal(t, "/sale", r.Data["url"])
}

func TestSurface_ShowFallsBackToNotifySend(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{AppName: "pushroute", FallbackNotifySend: true})

	var got []string
	s.notifySend = func(_ context.Context, appName, icon, title, body string) error {
		got = []string{appName, icon, title, body}
		return nil
	}

	err := s.ShowNotification(context.Background(), "Hi", dispatch.NotificationOptions{
		Body:   "there",
		Icon:   "/icons/Icon-192.png",
		Source: model.SourceInbox,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pushroute", "/icons/Icon-192.png", "Hi", "there"}, got)

	require.Len(t, history.records, 1)
	for _, r := range history.records {
		assert.Equal(t, model.SourceInbox, r.Source)
		assert.Equal(t, uint32(0), r.SurfaceID)
	}
	assert.Equal(t, 0, s.ActiveCount(), "notify-send notifications cannot be tracked")
}

func TestSurface_ActionInvokedForOurNotification(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{})
	clicks := captureClicks(s)

	require.NoError(t, history.Add(model.Record{ID: "rec-1", Source: model.SourceDBus, Title: "Promo", ShownAt: 1}))
	s.registry.Register("rec-1", 42, "Promo", map[string]string{"url": "/sale"}, time.Time{})

	s.handleSignal(&dbus.Signal{Name: signalActionInvoked, Body: []any{uint32(42), "default"}})

	require.Len(t, *clicks, 1)
	click := (*clicks)[0]
	assert.Equal(t, "default", click.Action)
	assert.Equal(t, map[string]string{"url": "/sale"}, click.Notification.Data())
	assert.Equal(t, 0, s.ActiveCount(), "clicked notification is no longer active")

	r, _ := history.Get("rec-1")
	assert.True(t, r.IsClicked())
	assert.False(t, r.IsClosed())

	click.Notification.Close()
	click.Notification.Close()

	r, _ = history.Get("rec-1")
	assert.True(t, r.IsClosed())
	assert.Equal(t, model.CloseReasonClicked, r.CloseReason)
	assert.Equal(t, 0, s.registry.Count())
}

func TestSurface_IgnoresForeignSignals(t *testing.T) {
	s, _ := newTestSurface(t, SurfaceOptions{})
	clicks := captureClicks(s)

	s.handleSignal(&dbus.Signal{Name: signalActionInvoked, Body: []any{uint32(99), "default"}})
	s.handleSignal(&dbus.Signal{Name: signalNotificationClose, Body: []any{uint32(99), uint32(1)}})
	s.handleSignal(&dbus.Signal{Name: "org.example.Other", Body: []any{uint32(99)}})

	assert.Empty(t, *clicks)
}

func TestSurface_NotificationClosed(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{})

	require.NoError(t, history.Add(model.Record{ID: "rec-1", Source: model.SourceDBus, Title: "Promo", ShownAt: 1}))
	s.registry.Register("rec-1", 42, "Promo", nil, time.Time{})

	s.handleSignal(&dbus.Signal{Name: signalNotificationClose, Body: []any{uint32(42), uint32(CloseReasonDismissed)}})

	r, _ := history.Get("rec-1")
	assert.Equal(t, model.CloseReasonDismissed, r.CloseReason)
	assert.Equal(t, 0, s.registry.Count())
}

func TestSurface_Click(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{})
	clicks := captureClicks(s)

	require.NoError(t, history.Add(model.Record{ID: "live", Source: model.SourceDBus, Title: "a", ShownAt: 1}))
	require.NoError(t, history.Add(model.Record{
		ID: "past", Source: model.SourceDBus, Title: "b", ShownAt: 1,
		Data: map[string]string{"url": "/old"},
	}))
	s.registry.Register("live", 7, "a", map[string]string{"url": "/live"}, time.Time{})

	require.NoError(t, s.Click("live"))
	require.NoError(t, s.Click("7"))
	require.NoError(t, s.Click("past"))

	err := s.Click("missing")
	assert.ErrorIs(t, err, ErrUnknownNotification)

	require.Len(t, *clicks, 3)
	assert.Equal(t, "/live", (*clicks)[0].Notification.Data()["url"])
	assert.Equal(t, "/live", (*clicks)[1].Notification.Data()["url"])
	assert.Equal(t, "/old", (*clicks)[2].Notification.Data()["url"])

	r, _ := history.Get("past")
	assert.True(t, r.IsClicked())
}

func TestSurface_ClickWithoutHandlerCloses(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{})

	require.NoError(t, history.Add(model.Record{ID: "rec-1", Source: model.SourceDBus, Title: "a", ShownAt: 1}))
	s.registry.Register("rec-1", 1, "a", nil, time.Time{})

	require.NoError(t, s.Click("rec-1"))
	assert.Equal(t, 0, s.registry.Count())

	r, _ := history.Get("rec-1")
	assert.Equal(t, model.CloseReasonClicked, r.CloseReason)
}

func TestSurface_Sweep(t *testing.T) {
	s, history := newTestSurface(t, SurfaceOptions{})

	require.NoError(t, history.Add(model.Record{ID: "rec-1", Source: model.SourceDBus, Title: "a", ShownAt: 1}))
	s.registry.Register("rec-1", 1, "a", nil, time.Now().Add(-time.Hour))

	assert.Equal(t, 1, s.Sweep(time.Now(), time.Minute, 0))
	r, _ := history.Get("rec-1")
	assert.Equal(t, model.CloseReasonExpired, r.CloseReason)
}

func TestSurface_ListenInterrupt(t *testing.T) {
	s, _ := newTestSurface(t, SurfaceOptions{})

	done := make(chan error, 1)
	go func() { done <- s.Listen() }()

	s.Interrupt(nil)
	s.Interrupt(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after Interrupt")
	}

	assert.ErrorIs(t, s.Listen(), ErrSurfaceAlreadyStarted)
}

func TestExpireTimeoutMs(t *testing.T) {
	assert.Equal(t, int32(-1), SurfaceOptions{}.expireTimeoutMs())
	assert.Equal(t, int32(10000), SurfaceOptions{ExpireTimeout: 10 * time.Second}.expireTimeoutMs())

	// 600h does not fit in int32 milliseconds
	assert.Equal(t, int32(math.MaxInt32), SurfaceOptions{ExpireTimeout: 600 * time.Hour}.expireTimeoutMs())
	assert.Equal(t, int32(math.MaxInt32), SurfaceOptions{ExpireTimeout: math.MaxInt32 * time.Millisecond}.expireTimeoutMs())
}

func TestDBusErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid payload", fmt.Errorf("%w: bad json", ErrInvalidPayload), ErrInvalidPayload},
		{"not found", fmt.Errorf("%w: x", ErrUnknownNotification), ErrUnknownNotification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbusErr := toDBusError(tt.err)
			assert.ErrorIs(t, fromDBusError(*dbusErr), tt.want)
			assert.ErrorIs(t, fromDBusError(dbusErr), tt.want)
		})
	}

	other := toDBusError(fmt.Errorf("boom"))
	assert.Equal(t, errUnavailable, other.Name)
	assert.Contains(t, fromDBusError(other).Error(), "boom")
}
