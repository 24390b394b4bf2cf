package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/dbus"
	"github.com/jmylchreest/pushroute/internal/store"
)

var statusOpts struct {
	json bool
}

// StatusReport is the output of `pushroute status`.
type StatusReport struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
	StoppedAt int64  `json:"stopped_at,omitempty"`
	Pending   uint32 `json:"pending"`
	Active    uint32 `json:"active"`
	Delivered uint64 `json:"delivered"`
	Clicked   uint64 `json:"clicked"`

	LastDeliveryAt   int64 `json:"last_delivery_at,omitempty"`
	LastPruneAt      int64 `json:"last_prune_at,omitempty"`
	LastPruneRemoved int   `json:"last_prune_removed,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pushrouted status",
	Long: `Show whether pushrouted is running and what it has done.

Live counters (pending work, notifications on screen) come from the daemon
over D-Bus. Totals come from the state file the daemon keeps next to the
history, so they are available even after it stopped.

Examples:
  pushroute status
  pushroute status --json | jq .delivered`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOpts.json, "json", false,
		"Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := store.LoadDaemonState(store.StatePath(cfg.HistoryFile()))
	if err != nil {
		logger.Warn("failed to load daemon state", "error", err)
		state = &store.DaemonState{}
	}

	live, err := queryDaemon(ctx)
	if err != nil && !errors.Is(err, dbus.ErrDaemonNotRunning) {
		logger.Debug("failed to query daemon", "error", err)
	}

	report := buildStatusReport(state, live)
	if statusOpts.json {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	writeStatus(cmd.OutOrStdout(), report, time.Now())
	return nil
}

// queryDaemon returns the live counters, or nil when the daemon is unreachable.
func queryDaemon(ctx context.Context) (*dbus.Status, error) {
	client, err := dbus.NewClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	st, err := client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// buildStatusReport merges the persisted state with the live counters.
func buildStatusReport(state *store.DaemonState, live *dbus.Status) StatusReport {
	report := StatusReport{
		PID:              state.PID,
		StartedAt:        state.StartedAt,
		StoppedAt:        state.StoppedAt,
		Delivered:        state.Delivered,
		Clicked:          state.Clicked,
		LastDeliveryAt:   state.LastDeliveryAt,
		LastPruneAt:      state.LastPruneAt,
		LastPruneRemoved: state.LastPruneRemoved,
	}
	if live != nil {
		report.Running = true
		report.StoppedAt = 0
		report.Pending = live.Pending
		report.Active = live.Active
		if uint64(live.Delivered) > report.Delivered {
			report.Delivered = uint64(live.Delivered)
		}
	}
	return report
}

func writeStatus(w io.Writer, r StatusReport, now time.Time) {
	ago := func(ts int64) string {
		if ts == 0 {
			return "never"
		}
		return humanize.RelTime(time.Unix(ts, 0), now, "ago", "from now")
	}

	switch {
	case r.Running:
		fmt.Fprintf(w, "pushrouted: running (pid %d, started %s)\n", r.PID, ago(r.StartedAt))
		fmt.Fprintf(w, "  on screen:  %d\n", r.Active)
		fmt.Fprintf(w, "  pending:    %d\n", r.Pending)
	case r.StoppedAt > 0:
		fmt.Fprintf(w, "pushrouted: stopped %s\n", ago(r.StoppedAt))
	default:
		fmt.Fprintln(w, "pushrouted: not running")
	}

	fmt.Fprintf(w, "  delivered:  %s (last %s)\n", humanize.Comma(int64(r.Delivered)), ago(r.LastDeliveryAt))
	fmt.Fprintf(w, "  clicked:    %s\n", humanize.Comma(int64(r.Clicked)))
	if r.LastPruneAt > 0 {
		fmt.Fprintf(w, "  last prune: %s (%d removed)\n", ago(r.LastPruneAt), r.LastPruneRemoved)
	}
}
