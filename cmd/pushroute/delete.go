package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/core"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Remove notifications from history",
	Long: `Remove single notifications from the persistent history. Each notification
is identified by its history ID, a unique prefix of that ID, or the
notification server's numeric id.

A running pushrouted picks up the rewritten file automatically.

Examples:
  pushroute delete 01JA2B
  pushroute delete 01JA2B 01JA2C`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	historyStore, err := openHistory()
	if err != nil {
		return err
	}
	defer historyStore.Close()

	out := cmd.OutOrStdout()
	for _, ref := range args {
		r, err := core.Resolve(historyStore.All(), ref)
		if err != nil {
			return fmt.Errorf("%s: %w", ref, err)
		}
		if err := historyStore.Delete(r.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", r.ID, err)
		}
		fmt.Fprintf(out, "Deleted %s %s\n", r.ID, summary(r.Title, r.BodyTruncated(40)))
	}
	return nil
}

// summary joins a title and a short body for one-line listings.
func summary(title, body string) string {
	switch {
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + ": " + body
	}
}
