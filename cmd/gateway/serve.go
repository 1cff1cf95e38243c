package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptforge/gateway/pkg/admission"
	"github.com/promptforge/gateway/pkg/budget"
	cachepkg "github.com/promptforge/gateway/pkg/cache/sqlite"
	"github.com/promptforge/gateway/pkg/config"
	"github.com/promptforge/gateway/pkg/dispatch"
	"github.com/promptforge/gateway/pkg/gateway"
	"github.com/promptforge/gateway/pkg/ledger"
	"github.com/promptforge/gateway/pkg/provider"
	"github.com/promptforge/gateway/pkg/replay"
	"github.com/promptforge/gateway/pkg/strategy"
)

const cacheSweepInterval = 10 * time.Minute

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the execution gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(cfg.Providers) == 0 {
				return fmt.Errorf("no providers configured in %s", configPath)
			}

			led, err := ledger.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init ledger: %w", err)
			}
			defer func() { _ = led.Close() }()

			limiter, err := admission.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init admission: %w", err)
			}
			defer func() { _ = limiter.Close() }()

			guard, err := replay.New(cfg.DBPath, cfg.Replay.ClaimTTL)
			if err != nil {
				return fmt.Errorf("init replay guard: %w", err)
			}
			defer func() { _ = guard.Close() }()

			var enforcer *budget.Enforcer
			if cfg.Budget.Enabled {
				enforcer, err = budget.New(cfg.DBPath, cfg.Budget.Policies)
				if err != nil {
					return fmt.Errorf("init budget: %w", err)
				}
				defer func() { _ = enforcer.Close() }()
			}

			var cache *cachepkg.Cache
			if cfg.Cache.Enabled {
				cache, err = cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = cache.Close() }()
			}

			registry := provider.FromConfig(cfg.Providers)
			selector := strategy.New(cfg.Cache.Enabled)
			dispatcher := dispatch.New(registry, led, enforcer, cache, guard, selector, cfg.Dispatch.CallTimeout)
			srv := gateway.New(cfg, registry, limiter, guard, enforcer, dispatcher, led)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cache != nil {
				go sweepCache(ctx, cache)
			}

			log.Printf("starting gateway with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to config file")
	return cmd
}

// sweepCache drops expired entries periodically so the cache file does not
// grow without bound between restarts.
func sweepCache(ctx context.Context, cache *cachepkg.Cache) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := cache.Clear(true); err != nil {
				log.Printf("cache sweep: %v", err)
			} else if n > 0 {
				log.Printf("cache sweep dropped %d expired entries", n)
			}
		}
	}
}
