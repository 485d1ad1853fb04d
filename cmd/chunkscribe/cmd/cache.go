package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/cache"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// cacheCmd groups the transcript cache maintenance commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the transcript cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show transcript cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache: %s\n", c.Path())
		if info, err := os.Stat(c.Path()); err == nil {
			fmt.Fprintf(out, "  Size: %s\n", humanize.Bytes(uint64(info.Size())))
		}

		entries := c.Entries()
		fmt.Fprintf(out, "  Entries: %s\n", humanize.Comma(int64(len(entries))))
		if len(entries) == 0 {
			return nil
		}

		var textBytes uint64
		oldest, newest := entries[0].StoredAt, entries[0].StoredAt
		for _, e := range entries {
			textBytes += uint64(len(e.Text))
			if e.StoredAt.Before(oldest) {
				oldest = e.StoredAt
			}
			if e.StoredAt.After(newest) {
				newest = e.StoredAt
			}
		}
		fmt.Fprintf(out, "  Transcript text: %s\n", humanize.Bytes(textBytes))
		fmt.Fprintf(out, "  Oldest entry: %s\n", humanize.Time(oldest))
		fmt.Fprintf(out, "  Newest entry: %s\n", humanize.Time(newest))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached segment transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		n := c.Len()
		c.Clear()
		if err := c.Persist(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s cached segments from %s\n", humanize.Comma(int64(n)), c.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}

// openCache loads the configured cache snapshot
func openCache() (*cache.Cache, error) {
	if appConfig.Cache.Path == "" {
		return nil, scribeerr.Configf("cache path is not configured")
	}
	c := cache.Open(appConfig.Cache.Path)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}
