package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sweepcollect/pkg/collect/cache"
	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the history cache",
	Long: `Commands for managing the run history cache.

With --cache (or cache.enabled: true) the histories of finished runs are
stored locally so that collecting the same sweep again does not refetch
them. Cache data is stored in the XDG cache directory (typically
~/.cache/sweepcollect/histories).`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [sweep]",
	Short: "Clear cached histories",
	Long: `Removes cached histories. With a sweep path (entity/project/sweep)
only that sweep is cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheClear,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long:  `Displays the cache location, the number of cached histories, and their size.`,
	RunE:  runCacheStats,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	Long:  `Prints the path to the cache directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cachePath())
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}

// cachePath returns the configured cache directory.
func cachePath() string {
	cfg, err := loadConfig()
	if err != nil {
		return config.DefaultCachePath()
	}
	return cfg.Cache.Path
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	path := cachePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "Cache is already empty.")
		return nil
	}

	c, err := cache.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer c.Close()

	var removed int
	if len(args) == 1 {
		removed, err = c.Clear(args[0])
	} else {
		removed, err = c.ClearAll()
	}
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s histories removed.\n", humanize.Comma(int64(removed)))
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	path := cachePath()
	w := cmd.OutOrStdout()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "Cache: empty (no cache directory)")
		fmt.Fprintf(w, "Cache location: %s\n", path)
		return nil
	}

	c, err := cache.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer c.Close()

	st, err := c.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	fmt.Fprintf(w, "Cache location: %s\n", path)
	fmt.Fprintf(w, "Histories:      %s\n", humanize.Comma(int64(st.Entries)))
	fmt.Fprintf(w, "Sweeps:         %s\n", humanize.Comma(int64(st.Sweeps)))
	fmt.Fprintf(w, "Size:           %s\n", humanize.Bytes(uint64(st.Bytes)))
	return nil
}
