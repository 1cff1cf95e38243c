package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/promptforge/gateway/pkg/cache/sqlite"
	"github.com/promptforge/gateway/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	openCache := func() (*cachepkg.Cache, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
	}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cached entries and hit rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}

			lookups := stats.Hits + stats.Misses
			fmt.Printf("Cached responses: %d\n", stats.Entries)
			fmt.Printf("Lookups:          %d (%d hits, %d misses)\n", lookups, stats.Hits, stats.Misses)
			if lookups > 0 {
				fmt.Printf("Hit rate:         %.1f%%\n", float64(stats.Hits)/float64(lookups)*100)
			}
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			removed, err := c.Clear(expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("Dropped %d expired responses.\n", removed)
			} else {
				fmt.Printf("Dropped %d cached responses.\n", removed)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only drop expired responses")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
