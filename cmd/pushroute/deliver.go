package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/adapter/input"
	"github.com/jmylchreest/pushroute/internal/daemon"
	"github.com/jmylchreest/pushroute/internal/dbus"
	"github.com/jmylchreest/pushroute/internal/model"
)

var deliverOpts struct {
	local   bool
	timeout time.Duration
}

var deliverCmd = &cobra.Command{
	Use:   "deliver [file|-]",
	Short: "Deliver push payloads to pushrouted",
	Long: `Deliver one or more push payloads as desktop notifications.

The input is a JSON object, a JSON array of objects, or one object per line.
FCM envelopes ({"message": {...}}) are unwrapped. With no file or "-" the
payloads are read from stdin.

Payloads go to the running daemon over D-Bus, so clicks on the notifications
are routed. With --local they are shown by this process instead, which
records them in the history but cannot route clicks.

Examples:
  # Deliver a payload file
  pushroute deliver promo.json

  # Deliver from stdin
  echo '{"data":{"title":"Promo","url":"/offers"}}' | pushroute deliver

  # Show without a running daemon
  pushroute deliver --local promo.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeliver,
}

func init() {
	rootCmd.AddCommand(deliverCmd)

	deliverCmd.Flags().BoolVar(&deliverOpts.local, "local", false,
		"Show notifications from this process instead of the daemon")
	deliverCmd.Flags().DurationVar(&deliverOpts.timeout, "timeout", 10*time.Second,
		"Maximum time to wait for delivery")
}

func runDeliver(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliverOpts.timeout)
	defer cancel()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	adapter, err := input.NewAdapter(path)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	payloads, err := adapter.Import(ctx)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return fmt.Errorf("no payloads in %s", adapter.Name())
	}
	logger.Debug("read payloads", "source", adapter.Name(), "count", len(payloads))

	var ids []string
	if deliverOpts.local {
		ids, err = deliverLocal(ctx, payloads)
	} else {
		ids, err = deliverRemote(ctx, payloads)
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return err
}

func deliverRemote(ctx context.Context, payloads []model.Payload) ([]string, error) {
	client, err := dbus.NewClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ids := make([]string, 0, len(payloads))
	for i := range payloads {
		data, err := json.Marshal(&payloads[i])
		if err != nil {
			return ids, fmt.Errorf("failed to encode payload %d: %w", i+1, err)
		}
		id, err := client.Deliver(ctx, data)
		if err != nil {
			return ids, fmt.Errorf("failed to deliver payload %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func deliverLocal(ctx context.Context, payloads []model.Payload) ([]string, error) {
	d, err := daemon.New(cfg, daemon.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payloads))
	var deliverErr error
	for i := range payloads {
		payloads[i].Meta.Source = model.SourceCLI
		id, err := d.DeliverPayload(&payloads[i])
		if err != nil {
			deliverErr = fmt.Errorf("failed to deliver payload %d: %w", i+1, err)
			break
		}
		ids = append(ids, id)
	}

	// Wait for the notifications to reach the surface
	if err := d.Shutdown(ctx); err != nil && deliverErr == nil {
		deliverErr = err
	}
	return ids, deliverErr
}
