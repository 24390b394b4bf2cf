// Package main is the entry point for the pushrouted notification daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/jmylchreest/pushroute/internal/config"
	"github.com/jmylchreest/pushroute/internal/daemon"
)

// drainTimeout bounds how long shutdown waits for in-flight clicks and deliveries.
const drainTimeout = 10 * time.Second

var (
	// Build-time variables
	version = "dev"
)

// errSignal is returned by the signal actor so the group stops.
type errSignal struct {
	sig os.Signal
}

func (e errSignal) Error() string {
	return fmt.Sprintf("received signal %s", e.sig)
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Path to config file (default ~/.config/pushroute/pushrouted.toml)")
	flag.Parse()

	if *showVersion {
		fmt.Println("pushrouted version", version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := runDaemon(*configPath, logger); err != nil {
		logger.Error("pushrouted failed", "error", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string, logger *slog.Logger) error {
	logger.Info("starting pushrouted", "version", version)

	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.EnsureDataDir(); err != nil {
		logger.Warn("failed to create data directory", "error", err)
	}

	d, err := daemon.New(cfg, daemon.Options{ConfigPath: configPath, Logger: logger})
	if err != nil {
		return err
	}

	var g run.Group

	// listen for signals
	{
		cancel := make(chan struct{})
		g.Add(func() error {
			return listenSignals(cancel)
		}, func(error) {
			close(cancel)
		})
	}

	if err := d.Register(&g); err != nil {
		return err
	}

	logger.Info("pushrouted ready",
		"origin", cfg.App.Origin,
		"backend", cfg.Windows.Backend,
		"inbox", cfg.Inbox.Enabled,
		"history", cfg.History.Enabled,
	)

	runErr := g.Run()
	var sigErr errSignal
	if errors.As(runErr, &sigErr) {
		logger.Info("received signal, shutting down", "signal", sigErr.sig)
		runErr = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		logger.Warn("unclean shutdown", "error", err)
	}

	logger.Info("pushrouted stopped")
	return runErr
}

func listenSignals(cancel <-chan struct{}) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		return errSignal{sig: sig}
	case <-cancel:
		return nil
	}
}
