package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/dbus"
)

var clickCmd = &cobra.Command{
	Use:   "click <id>",
	Short: "Simulate a click on a notification",
	Long: `Ask pushrouted to route a click on a notification, as if the user had
clicked it. The notification is identified by its history ID, a unique
prefix of that ID, or the notification server's numeric id.

Notifications that are no longer on screen are clicked from the history.

Examples:
  pushroute click 01JA2B3C4D5E6F7G8H9J0KMNPQ
  pushroute click 01JA2B
  pushroute click 42`,
	Args: cobra.ExactArgs(1),
	RunE: runClick,
}

func init() {
	rootCmd.AddCommand(clickCmd)
}

func runClick(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := dbus.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Click(ctx, args[0]); err != nil {
		return err
	}
	logger.Debug("click routed", "ref", args[0])
	return nil
}
