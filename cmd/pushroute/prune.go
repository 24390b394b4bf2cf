package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/core"
	"github.com/jmylchreest/pushroute/internal/store"
)

var pruneOpts struct {
	olderThan string
	keep      int
	dryRun    bool
	all       bool
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old notifications from history",
	Long: `Remove old notifications from the persistent history.

pushrouted also prunes on the schedule set by [history] prune_schedule; a
running daemon picks up the rewritten file automatically.

Examples:
  # Remove notifications older than 7 days
  pushroute prune --older-than 7d

  # Keep only the 100 most recent notifications
  pushroute prune --keep 100

  # Preview what would be removed (dry run)
  pushroute prune --older-than 48h --dry-run

  # Empty the history
  pushroute prune --all`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneOpts.olderThan, "older-than", "",
		"Remove notifications older than this duration (e.g., 48h, 7d, 1w)")
	pruneCmd.Flags().IntVar(&pruneOpts.keep, "keep", 0,
		"Keep only the N most recent notifications (0=unlimited)")
	pruneCmd.Flags().BoolVar(&pruneOpts.dryRun, "dry-run", false,
		"Show what would be removed without actually removing")
	pruneCmd.Flags().BoolVar(&pruneOpts.all, "all", false,
		"Remove every notification")

	pruneCmd.MarkFlagsMutuallyExclusive("all", "older-than")
	pruneCmd.MarkFlagsMutuallyExclusive("all", "keep")
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneOpts.all {
		return runClear(cmd)
	}
	if pruneOpts.olderThan == "" && pruneOpts.keep == 0 {
		return fmt.Errorf("specify --older-than, --keep or --all")
	}
	if pruneOpts.keep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	olderThan, err := core.ParseDuration(pruneOpts.olderThan)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	historyStore, err := openHistory()
	if err != nil {
		return err
	}
	defer historyStore.Close()

	removed, err := historyStore.Prune(store.PruneOptions{
		OlderThan: olderThan,
		Keep:      pruneOpts.keep,
		DryRun:    pruneOpts.dryRun,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(removed) == 0 {
		fmt.Fprintln(out, "No notifications to remove")
		return nil
	}

	if !pruneOpts.dryRun {
		fmt.Fprintf(out, "Removed %d notification(s)\n", len(removed))
		return nil
	}

	fmt.Fprintf(out, "Would remove %d notification(s):\n", len(removed))
	for i, r := range removed {
		if i >= 10 {
			fmt.Fprintf(out, "  ... and %d more\n", len(removed)-10)
			break
		}
		fmt.Fprintf(out, "  - [%s] %s (%s)\n", r.Source, summary(r.Title, r.BodyTruncated(40)), r.RelativeTime())
	}
	return nil
}

func runClear(cmd *cobra.Command) error {
	historyStore, err := openHistory()
	if err != nil {
		return err
	}
	defer historyStore.Close()

	count := historyStore.Count()
	if pruneOpts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would remove %d notification(s)\n", count)
		return nil
	}
	if err := historyStore.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d notification(s)\n", count)
	return nil
}
