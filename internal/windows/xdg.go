package windows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"

	"github.com/jmylchreest/pushroute/internal/dispatch"
)

// DefaultOpenCommands are tried in order when none are configured.
var DefaultOpenCommands = []string{"xdg-open", "x-www-browser"}

// XDG opens target URLs with the desktop's URL handler. It cannot see
// existing windows, so every click opens a new one.
type XDG struct {
	origin   *url.URL
	commands []string
	logger   *slog.Logger

	// start launches a command without waiting for it; swapped out in tests.
	start func(ctx context.Context, name string, args ...string) error
}

// NewXDG creates an opener-only backend.
func NewXDG(origin string, commands []string, logger *slog.Logger) (*XDG, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o, err := parseOrigin(origin)
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		commands = DefaultOpenCommands
	}
	return &XDG{
		origin:   o,
		commands: commands,
		logger:   logger,
		start:    startCommand,
	}, nil
}

// MatchAll returns no windows.
func (x *XDG) MatchAll(_ context.Context, _ dispatch.ClientQuery) ([]dispatch.WindowClient, error) {
	return nil, nil
}

// OpenWindow hands the absolute URL to the first open command that starts.
// The new window is not reported.
func (x *XDG) OpenWindow(ctx context.Context, target string) (dispatch.WindowClient, error) {
	abs, err := ResolveURL(x.origin, target)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, cmd := range x.commands {
		if err := x.start(ctx, cmd, abs); err != nil {
			x.logger.Debug("open command failed", "command", cmd, "url", abs, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cmd, err))
			continue
		}
		x.logger.Debug("opened url", "command", cmd, "url", abs)
		return nil, nil
	}
	return nil, fmt.Errorf("failed to open %s: %w", abs, errors.Join(errs...))
}

// startCommand starts the command detached from ctx: the browser must
// outlive the click's event chain.
func startCommand(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

var (
	_ dispatch.WindowEnumerator = (*XDG)(nil)
	_ dispatch.WindowOpener     = (*XDG)(nil)
	_ dispatch.WindowEnumerator = None{}
)
