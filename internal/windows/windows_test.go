package windows

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/pushroute/internal/config"
	"github.com/jmylchreest/pushroute/internal/dispatch"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestResolveURL(t *testing.T) {
	origin := mustURL(t, "https://shop.example.com")

	tests := []struct {
		name   string
		origin *url.URL
		target string
		want   string
		err    bool
	}{
		{"relative path", origin, "/offers", "https://shop.example.com/offers", false},
		{"root", origin, "/", "https://shop.example.com/", false},
		{"query and fragment", origin, "/a?b=1#c", "https://shop.example.com/a?b=1#c", false},
		{"absolute unchanged", origin, "https://other.example.org/x", "https://other.example.org/x", false},
		{"relative without origin", nil, "/offers", "", true},
		{"absolute without origin", nil, "https://x.test/", "https://x.test/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(tt.origin, tt.target)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelativeTo(t *testing.T) {
	origin := mustURL(t, "http://localhost:8080")

	tests := []struct {
		raw  string
		want string
	}{
		{"http://localhost:8080/offers", "/offers"},
		{"http://localhost:8080", "/"},
		{"http://LOCALHOST:8080/a?x=1#top", "/a?x=1#top"},
		{"http://localhost:9090/offers", "http://localhost:9090/offers"},
		{"https://localhost:8080/offers", "https://localhost:8080/offers"},
		{"chrome://newtab/", "chrome://newtab/"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativeTo(origin, tt.raw))
		})
	}

	assert.Equal(t, "http://a/b", RelativeTo(nil, "http://a/b"))
}

// devtools is a fake DevTools HTTP endpoint.
type devtools struct {
	mu        sync.Mutex
	targets   string
	activated []string
	opened    []string
	failList  bool
}

func (d *devtools) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /json/list", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.Lock()
		fail := d.failList
		d.mu.Unlock()
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, d.targets)
	})
	mux.HandleFunc("GET /json/activate/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.activated = append(d.activated, r.PathValue("id"))
		d.mu.Unlock()
		_, _ = io.WriteString(w, "Target activated")
	})
	mux.HandleFunc("PUT /json/new", func(w http.ResponseWriter, r *http.Request) {
		target, _ := url.PathUnescape(r.URL.RawQuery)
		d.mu.Lock()
		d.opened = append(d.opened, target)
		d.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"NEW","type":"page","url":"`+target+`"}`)
	})
	return mux
}

func (d *devtools) snapshot() (activated, opened []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.activated...), append([]string(nil), d.opened...)
}

func newDevtools(t *testing.T, targets string) (*devtools, *CDP) {
	t.Helper()
	d := &devtools{targets: targets}
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)

	cdp, err := NewCDP(srv.URL, "http://localhost:8080", time.Second, discard)
	require.NoError(t, err)
	return d, cdp
}

const targetList = `[
	{"id":"A","type":"page","title":"Home","url":"http://localhost:8080/"},
	{"id":"SW","type":"service_worker","url":"http://localhost:8080/sw.js"},
	{"id":"B","type":"page","title":"Offers","url":"http://localhost:8080/offers"},
	{"id":"C","type":"page","title":"Elsewhere","url":"https://example.org/offers"}
]`

func TestCDP_MatchAll(t *testing.T) {
	_, cdp := newDevtools(t, targetList)

	clients, err := cdp.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow, IncludeUncontrolled: true})
	require.NoError(t, err)
	require.Len(t, clients, 3, "non-page targets are skipped")

	urls := make([]string, len(clients))
	for i, c := range clients {
		urls[i] = c.URL()
	}
	assert.Equal(t, []string{"/", "/offers", "https://example.org/offers"}, urls)

	_, ok := clients[0].(dispatch.Focuser)
	assert.True(t, ok)
}

func TestCDP_MatchAllErrors(t *testing.T) {
	d, cdp := newDevtools(t, `not json`)

	_, err := cdp.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow})
	assert.Error(t, err)

	d.mu.Lock()
	d.failList = true
	d.mu.Unlock()
	_, err = cdp.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow})
	assert.ErrorContains(t, err, "500")
}

func TestCDP_Focus(t *testing.T) {
	d, cdp := newDevtools(t, targetList)

	clients, err := cdp.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow})
	require.NoError(t, err)

	require.NoError(t, clients[1].(dispatch.Focuser).Focus(context.Background()))
	activated, _ := d.snapshot()
	assert.Equal(t, []string{"B"}, activated)
}

func TestCDP_OpenWindow(t *testing.T) {
	d, cdp := newDevtools(t, `[]`)

	client, err := cdp.OpenWindow(context.Background(), "/offers?x=1")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "/offers?x=1", client.URL())
	_, opened := d.snapshot()
	assert.Equal(t, []string{"http://localhost:8080/offers?x=1"}, opened)
}

func TestCDP_DispatcherFocusesMatchingTab(t *testing.T) {
	d, cdp := newDevtools(t, targetList)

	disp := dispatch.New(nil, cdp, dispatch.Options{}, discard)
	ev := &syncEvent{}
	disp.HandleNotificationClick(ev, &dispatch.ClickEvent{Notification: staticNotification{"url": "/offers"}})

	activated, opened := d.snapshot()
	assert.Equal(t, []string{"B"}, activated)
	assert.Empty(t, opened)
}

func TestCDP_Unreachable(t *testing.T) {
	cdp, err := NewCDP("http://127.0.0.1:1", "", 200*time.Millisecond, discard)
	require.NoError(t, err)

	_, err = cdp.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow})
	assert.Error(t, err)
}

func TestNewCDP_InvalidConfig(t *testing.T) {
	_, err := NewCDP("not a url", "", 0, nil)
	assert.Error(t, err)

	_, err = NewCDP("http://127.0.0.1:9222", "/relative", 0, nil)
	assert.Error(t, err)
}

func TestXDG_OpenWindow(t *testing.T) {
	x, err := NewXDG("http://localhost:8080", []string{"missing-opener", "xdg-open"}, discard)
	require.NoError(t, err)

	var started [][]string
	x.start = func(_ context.Context, name string, args ...string) error {
		if name == "missing-opener" {
			return errors.New("executable file not found")
		}
		started = append(started, append([]string{name}, args...))
		return nil
	}

	clients, err := x.MatchAll(context.Background(), dispatch.ClientQuery{Type: dispatch.ClientTypeWindow})
	require.NoError(t, err)
	assert.Empty(t, clients)

	client, err := x.OpenWindow(context.Background(), "/offers")
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.Equal(t, [][]string{{"xdg-open", "http://localhost:8080/offers"}}, started)
}

func TestXDG_AllCommandsFail(t *testing.T) {
	x, err := NewXDG("http://localhost:8080", nil, discard)
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenCommands, x.commands)

	x.start = func(_ context.Context, _ string, _ ...string) error {
		return errors.New("nope")
	}

	_, err = x.OpenWindow(context.Background(), "/")
	assert.ErrorContains(t, err, "xdg-open")
	assert.ErrorContains(t, err, "x-www-browser")
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		check   func(t *testing.T, w dispatch.WindowEnumerator)
	}{
		{config.BackendCDP, func(t *testing.T, w dispatch.WindowEnumerator) {
			_, ok := w.(*CDP)
			assert.True(t, ok)
		}},
		{config.BackendXDG, func(t *testing.T, w dispatch.WindowEnumerator) {
			_, ok := w.(dispatch.WindowOpener)
			assert.True(t, ok)
		}},
		{config.BackendNone, func(t *testing.T, w dispatch.WindowEnumerator) {
			_, ok := w.(dispatch.WindowOpener)
			assert.False(t, ok, "none backend must not open windows")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Windows.Backend = tt.backend
			w, err := New(cfg, discard)
			require.NoError(t, err)
			tt.check(t, w)
		})
	}

	cfg := config.DefaultConfig()
	cfg.Windows.Backend = "carrier-pigeon"
	_, err := New(cfg, discard)
	assert.Error(t, err)
}

// syncEvent runs WaitUntil work inline.
type syncEvent struct{}

func (syncEvent) WaitUntil(fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

type staticNotification map[string]string

func (n staticNotification) Data() map[string]string { return n }
func (n staticNotification) Close()                   {}
