package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
	"github.com/jamesainslie/sweepcollect/pkg/collect/manifest"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View collection history",
	Long: `View the history of sweep collections.

The manifest stores a record of every collection, including the sweep,
the number of runs, and which files were written or failed.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific collection",
	Long:  `Display detailed information about a collection by its ID or an ID prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getManifest returns a manifest instance with the configured directory.
func getManifest() (*manifest.Manifest, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		// Use default manifest path if config fails to load
		cfg = &config.Config{}
		cfg.Manifest.Path = config.DefaultManifestDir()
		cfg.Manifest.RetentionDays = config.DefaultRetentionDays
	}

	m, err := manifest.New(cfg.Manifest.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize manifest: %w", err)
	}
	return m, cfg, nil
}

// runHistory lists recent collections.
func runHistory(cmd *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	entries, err := m.List(0)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'sweepcollect --project_id P --sweep_id S ...' to collect a sweep.")
		return nil
	}

	total := len(entries)
	if historyLimit > 0 && total > historyLimit {
		entries = entries[:historyLimit]
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%-8s  %-14s  %-32s  %6s  %s\n", "ID", "WHEN", "SWEEP", "RUNS", "STATUS")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, entry := range entries {
		status := "ok"
		if entry.Failed() {
			status = "failed"
		}
		fmt.Fprintf(w, "%-8s  %-14s  %-32s  %6s  %s\n",
			entry.ShortID(),
			humanize.Time(entry.Timestamp),
			truncateString(entry.Sweep, 32),
			humanize.Comma(int64(entry.Runs)),
			status,
		)
	}

	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "\nShowing %d of %d entries. Use --limit to see more.\n", len(entries), total)
	fmt.Fprintln(w, "Use 'sweepcollect history show <id>' for details on a specific entry.")

	return nil
}

// runHistoryShow displays details of a specific collection.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nCollection Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", entry.ID)
	fmt.Fprintf(w, "Timestamp:  %s\n", entry.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Sweep:      %s\n", entry.Sweep)
	if entry.Method != "" {
		fmt.Fprintf(w, "Method:     %s\n", entry.Method)
	}
	fmt.Fprintf(w, "Runs:       %s\n", humanize.Comma(int64(entry.Runs)))
	fmt.Fprintf(w, "Columns:    %d config, %d results\n", entry.ConfigColumns, entry.ResultsColumns)
	fmt.Fprintf(w, "Duration:   %s\n", entry.Duration.Round(time.Millisecond))

	if len(entry.Outputs) > 0 {
		fmt.Fprintln(w, "\nOutputs:")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, o := range entry.Outputs {
			if o.Error != "" {
				fmt.Fprintf(w, "✗ %s: %s\n", o.Target, o.Error)
				continue
			}
			fmt.Fprintf(w, "✓ %s\n", o.Target)
		}
	}

	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, args []string) error {
	m, cfg, err := getManifest()
	if err != nil {
		return err
	}

	retentionDays := cfg.Manifest.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	removed, err := m.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("History cleanup complete: %d removed.", removed)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
