package windows

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/pushroute/internal/dispatch"
)

// targetTypePage is the DevTools target type of a browser tab or window.
const targetTypePage = "page"

// CDP enumerates, focuses and opens browser windows through a
// Chromium-family browser's DevTools HTTP endpoint (--remote-debugging-port).
type CDP struct {
	endpoint *url.URL
	origin   *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// NewCDP creates a DevTools backend. timeout bounds each HTTP request.
func NewCDP(endpoint, origin string, timeout time.Duration, logger *slog.Logger) (*CDP, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ep, err := url.Parse(endpoint)
	if err != nil || ep.Scheme == "" || ep.Host == "" {
		return nil, fmt.Errorf("invalid DevTools endpoint %q", endpoint)
	}
	o, err := parseOrigin(origin)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &CDP{
		endpoint: ep,
		origin:   o,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// cdpTarget is one entry of /json/list.
type cdpTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// MatchAll returns the browser's page targets in the order DevTools lists them.
func (c *CDP) MatchAll(ctx context.Context, query dispatch.ClientQuery) ([]dispatch.WindowClient, error) {
	if query.Type != "" && query.Type != dispatch.ClientTypeWindow {
		return nil, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/json/list", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	var targets []cdpTarget
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("failed to decode target list: %w", err)
	}

	clients := make([]dispatch.WindowClient, 0, len(targets))
	for _, t := range targets {
		if t.Type != targetTypePage {
			continue
		}
		clients = append(clients, &cdpClient{backend: c, target: t})
	}
	c.logger.Debug("enumerated windows", "targets", len(targets), "pages", len(clients))
	return clients, nil
}

// OpenWindow opens url in a new tab. Relative URLs resolve against the origin.
func (c *CDP) OpenWindow(ctx context.Context, target string) (dispatch.WindowClient, error) {
	abs, err := ResolveURL(c.origin, target)
	if err != nil {
		return nil, err
	}

	// Chrome 111+ rejects GET on /json/new
	body, err := c.do(ctx, http.MethodPut, "/json/new", url.PathEscape(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", abs, err)
	}

	var created cdpTarget
	if err := json.Unmarshal(body, &created); err != nil {
		// The tab is open, only the description is unreadable
		c.logger.Debug("failed to decode new target", "url", abs, "error", err)
		return nil, nil
	}
	return &cdpClient{backend: c, target: created}, nil
}

// activate brings the target's tab and window to the front.
func (c *CDP) activate(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodGet, "/json/activate/"+url.PathEscape(id), ""); err != nil {
		return fmt.Errorf("failed to activate target %s: %w", id, err)
	}
	return nil
}

func (c *CDP) do(ctx context.Context, method, path, rawQuery string) ([]byte, error) {
	u := *c.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// cdpClient is a page target reported to the dispatcher.
type cdpClient struct {
	backend *CDP
	target  cdpTarget
}

// URL returns the target URL, relative when it is on the configured origin.
func (w *cdpClient) URL() string {
	return RelativeTo(w.backend.origin, w.target.URL)
}

// Focus activates the target.
func (w *cdpClient) Focus(ctx context.Context) error {
	return w.backend.activate(ctx, w.target.ID)
}

var (
	_ dispatch.WindowEnumerator = (*CDP)(nil)
	_ dispatch.WindowOpener     = (*CDP)(nil)
	_ dispatch.Focuser          = (*cdpClient)(nil)
)
