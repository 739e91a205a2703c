// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/bookbuddy-search/internal/bookcache"
	"github.com/pdiddy/bookbuddy-search/internal/googlebooks"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune the volume detail cache",
	Long: `Cache manages the SQLite file that persists volume detail lookups between
runs (cache.path). Entries older than cache.ttl are never served and can be
removed with prune.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many volumes are cached and how many are stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Stats(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Printf("Persisted volumes: %d\nStale volumes:     %d\n", st.Persisted, st.Stale)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached volumes older than the TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.Prune(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d stale volume(s)\n", n)
		return nil
	},
}

func openCache() (*bookcache.Cache, error) {
	cfg := serviceConfig()
	if cfg.Cache.Path == "" {
		return nil, fmt.Errorf("cache.path is not configured")
	}
	return bookcache.New(bookcache.Config{
		Source: googlebooks.New(cfg.Catalog, logger),
		Path:   cfg.Cache.Path,
		Size:   cfg.Cache.Size,
		TTL:    cfg.Cache.TTL,
		Logger: logger.WithField("component", "bookcache"),
	})
}

func init() {
	cacheStatsCmd.Flags().Bool("json", false, "output stats as JSON")

	cacheCmd.AddCommand(cacheStatsCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
