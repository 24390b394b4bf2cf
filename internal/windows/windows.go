// Package windows provides the window backends the dispatcher routes clicks to.
package windows

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jmylchreest/pushroute/internal/config"
	"github.com/jmylchreest/pushroute/internal/dispatch"
)

// New returns the window backend selected by cfg.Windows.Backend.
func New(cfg *config.Config, logger *slog.Logger) (dispatch.WindowEnumerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "windows", "backend", cfg.Windows.Backend)

	switch cfg.Windows.Backend {
	case config.BackendCDP:
		cdp, err := NewCDP(cfg.Windows.CDPEndpoint, cfg.App.Origin, cfg.Windows.RequestTimeout.Duration(), logger)
		if err != nil {
			return nil, err
		}
		return cdp, nil
	case config.BackendXDG:
		xdg, err := NewXDG(cfg.App.Origin, cfg.Windows.OpenCommands, logger)
		if err != nil {
			return nil, err
		}
		return xdg, nil
	case config.BackendNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown window backend %q", cfg.Windows.Backend)
	}
}

// ResolveURL turns a target URL into an absolute URL. Relative targets
// resolve against origin; absolute targets are returned unchanged.
func ResolveURL(origin *url.URL, target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("failed to parse target url %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if origin == nil {
		return "", fmt.Errorf("relative target url %q with no origin configured", target)
	}
	return origin.ResolveReference(ref).String(), nil
}

// RelativeTo reports a window URL the way target URLs are written: windows
// on origin become path+query+fragment, anything else stays absolute.
func RelativeTo(origin *url.URL, raw string) string {
	if origin == nil {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !sameOrigin(origin, u) {
		return raw
	}

	rel := u.EscapedPath()
	if rel == "" {
		rel = "/"
	}
	if u.RawQuery != "" || u.ForceQuery {
		rel += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rel += "#" + u.EscapedFragment()
	}
	return rel
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func parseOrigin(origin string) (*url.URL, error) {
	if origin == "" {
		return nil, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse origin %q: %w", origin, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}
	return u, nil
}

// None is the backend for setups without a controllable browser: it
// reports no windows and cannot open any, so clicks only close.
type None struct{}

// MatchAll returns no windows.
func (None) MatchAll(_ context.Context, _ dispatch.ClientQuery) ([]dispatch.WindowClient, error) {
	return nil, nil
}
