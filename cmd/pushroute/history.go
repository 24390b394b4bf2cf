package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/adapter/output"
	"github.com/jmylchreest/pushroute/internal/config"
	"github.com/jmylchreest/pushroute/internal/core"
	"github.com/jmylchreest/pushroute/internal/model"
	"github.com/jmylchreest/pushroute/internal/store"
)

var historyOpts struct {
	// Filter options
	since   string
	source  string
	clicked bool
	limit   int
	search  string
	filter  string

	// Sort options
	sortBy    string
	sortOrder string

	// Output options
	format   string
	field    string
	template string

	follow bool
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Query notification history",
	Long: `Query the notifications pushrouted has shown.

With an ID argument (full ID, unique prefix, or notification server id),
outputs that notification.

Filter expressions combine conditions with commas:
  title~sale          title contains "sale"
  source=inbox        delivered through the inbox
  url=/offers         exact target URL
  clicked=true        the user clicked it
  reason=dismissed    how it left the screen
  shown>1h            shown within the last hour

Examples:
  # Everything from the last day
  pushroute history --since 1d

  # Clicked notifications as JSON
  pushroute history --clicked --format json

  # Target URL of one notification
  pushroute history 01JA2B --field url

  # Custom line format
  pushroute history --template '{{.Record.Title}} -> {{.URL}}'

  # Keep printing notifications as pushrouted shows them
  pushroute history --follow --since 1h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	// Filter flags
	historyCmd.Flags().StringVar(&historyOpts.since, "since", "",
		"Show notifications from the last duration (e.g., 1h, 7d, 1w)")
	historyCmd.Flags().StringVar(&historyOpts.source, "source", "",
		"Filter by source (dbus, inbox, cli)")
	historyCmd.Flags().BoolVar(&historyOpts.clicked, "clicked", false,
		"Only show clicked notifications")
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 0,
		"Maximum number of notifications to show (0=unlimited)")
	historyCmd.Flags().StringVarP(&historyOpts.search, "search", "s", "",
		"Search in title, body and URL")
	historyCmd.Flags().StringVar(&historyOpts.filter, "filter", "",
		"Filter expression (e.g., 'source=inbox,title~sale')")

	// Sort flags
	historyCmd.Flags().StringVar(&historyOpts.sortBy, "sort", "shown",
		"Sort by field (shown, title, source)")
	historyCmd.Flags().StringVar(&historyOpts.sortOrder, "order", "desc",
		"Sort order (asc, desc)")

	// Output flags
	historyCmd.Flags().StringVarP(&historyOpts.format, "format", "f", "plain",
		"Output format (plain, json, yaml, ids)")
	historyCmd.Flags().StringVar(&historyOpts.field, "field", "",
		"Output a single field (id, title, body, url, source, icon, surface_id, reason, all, or a data key)")
	historyCmd.Flags().StringVar(&historyOpts.template, "template", "",
		"Custom Go template for plain output")
	historyCmd.Flags().BoolVarP(&historyOpts.follow, "follow", "F", false,
		"Keep running and print notifications as they are recorded")

	_ = historyCmd.RegisterFlagCompletionFunc("format", completeFormats)
	_ = historyCmd.RegisterFlagCompletionFunc("source", completeSources)
}

func completeFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var formats []string
	for _, f := range output.ValidFormats() {
		formats = append(formats, string(f))
	}
	return formats, cobra.ShellCompDirectiveNoFileComp
}

// completeSources offers the sources recorded in history. Completion runs
// without the root pre-run hook, so config is loaded here.
func completeSources(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	c, err := config.LoadConfig(globalOpts.configPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	path := c.HistoryFile()
	if globalOpts.historyFile != "" {
		path = globalOpts.historyFile
	}

	persistence, err := store.NewJSONLPersistence(path)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer persistence.Close()

	records, err := persistence.Load()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return core.UniqueSources(records), cobra.ShellCompDirectiveNoFileComp
}

func runHistory(cmd *cobra.Command, args []string) error {
	historyStore, err := openHistory()
	if err != nil {
		return err
	}
	defer historyStore.Close()

	records := historyStore.All()
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		if historyOpts.follow {
			return fmt.Errorf("--follow cannot be used with an ID")
		}
		r, err := core.Resolve(records, args[0])
		if err != nil {
			return err
		}
		return outputRecord(out, r)
	}

	records, err = applyFilters(records)
	if err != nil {
		return err
	}
	core.Sort(records, core.SortOptions{
		Field: core.ParseSortField(historyOpts.sortBy),
		Order: core.ParseSortOrder(historyOpts.sortOrder),
	})

	if len(records) == 0 {
		logger.Debug("no notifications to output")
	}
	if err := writeRecords(out, records); err != nil {
		return err
	}

	if !historyOpts.follow {
		return nil
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return followHistory(ctx, out, historyStore)
}

// writeRecords writes records with the --field or --format options.
func writeRecords(w io.Writer, records []model.Record) error {
	if historyOpts.field != "" {
		for i := range records {
			fmt.Fprintln(w, output.FormatField(&records[i], historyOpts.field))
		}
		return nil
	}

	formatter, err := createFormatter(historyOpts.format)
	if err != nil {
		return err
	}
	return formatter.Format(w, records)
}

// followHistory prints records appended to the history until ctx is done.
func followHistory(ctx context.Context, w io.Writer, historyStore *store.Store) error {
	events := historyStore.Subscribe()
	defer historyStore.Unsubscribe(events)

	seen := make(map[string]struct{})
	unseenRecords(historyStore.All(), seen)

	watcher, err := store.NewFileWatcher(historyStore, cfg.HistoryFile(), logger)
	if err != nil {
		return fmt.Errorf("failed to watch history: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch history: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != store.ChangeTypeAdd && ev.Type != store.ChangeTypeReload {
				continue
			}
			fresh, err := applyFilters(unseenRecords(historyStore.All(), seen))
			if err != nil {
				return err
			}
			if len(fresh) == 0 {
				continue
			}
			if err := writeRecords(w, fresh); err != nil {
				return err
			}
		}
	}
}

// unseenRecords returns the records whose IDs are not in seen, oldest first,
// and marks them seen.
func unseenRecords(all []model.Record, seen map[string]struct{}) []model.Record {
	var fresh []model.Record
	for _, r := range all {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		fresh = append(fresh, r)
	}
	core.Sort(fresh, core.SortOptions{Field: core.SortByShown, Order: core.SortAsc})
	return fresh
}

// applyFilters applies the filter flags in order: options, expression, search.
func applyFilters(records []model.Record) ([]model.Record, error) {
	opts := core.FilterOptions{
		ClickedOnly: historyOpts.clicked,
	}

	since, err := core.ParseDuration(historyOpts.since)
	if err != nil {
		return nil, fmt.Errorf("invalid --since: %w", err)
	}
	opts.Since = since

	source, err := core.ParseSource(historyOpts.source)
	if err != nil {
		return nil, err
	}
	opts.Source = source

	records = core.Filter(records, opts)

	if historyOpts.filter != "" {
		expr, err := core.ParseFilter(historyOpts.filter)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter: %w", err)
		}
		records = core.FilterWithExpr(records, expr)
	}

	if historyOpts.search != "" {
		records = core.Search(records, historyOpts.search)
	}

	// Limit last so it counts what is shown
	if historyOpts.limit > 0 && len(records) > historyOpts.limit {
		records = records[:historyOpts.limit]
	}
	return records, nil
}

// outputRecord writes a single record, as JSON unless another format or a field was asked for.
func outputRecord(w io.Writer, r *model.Record) error {
	if historyOpts.field != "" {
		fmt.Fprintln(w, output.FormatField(r, historyOpts.field))
		return nil
	}

	format := historyOpts.format
	if format == string(output.FormatPlain) && historyOpts.template == "" {
		format = string(output.FormatJSON)
	}
	formatter, err := createFormatter(format)
	if err != nil {
		return err
	}
	return formatter.Format(w, []model.Record{*r})
}

// createFormatter creates the output formatter based on options.
func createFormatter(format string) (output.Formatter, error) {
	opts := output.DefaultFormatterOptions()
	opts.Template = historyOpts.template
	return output.NewFormatter(output.FormatType(strings.ToLower(format)), opts)
}
