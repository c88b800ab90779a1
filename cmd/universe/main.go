// Package main builds the point-in-time universe snapshot and caches it for
// the dataset pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-Swindell/data-engineering/internal/cache"
	"github.com/John-Swindell/data-engineering/internal/config"
	"github.com/John-Swindell/data-engineering/internal/observability"
	"github.com/John-Swindell/data-engineering/internal/sources"
	"github.com/John-Swindell/data-engineering/internal/universe"
)

func main() {
	candidates := flag.Int("candidates", 0, "Candidate pool size (overrides CANDIDATE_SIZE)")
	size := flag.Int("size", 0, "Universe size per month (overrides UNIVERSE_SIZE)")
	flag.Parse()

	logger := log.New(os.Stdout, "[universe] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration error: %v", err)
	}
	if *candidates > 0 {
		cfg.CandidateSize = *candidates
	}
	if *size > 0 {
		cfg.UniverseSize = *size
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, cancelling", sig)
		cancel()
	}()

	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		metrics = observability.NewMetrics("")
		go serveMetrics(logger, cfg.MetricsAddr)
	}

	tiered := openCache(ctx, cfg, logger, metrics)

	gecko := sources.NewCoinGecko(cfg.CoinGeckoAPIKey)
	retry := sources.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Cooldown:    cfg.RateLimitCooldown,
		Metrics:     metrics,
	}

	builder, err := universe.NewBuilder(universe.Options{
		Market:        gecko,
		Cache:         tiered,
		Retry:         retry,
		CandidateSize: cfg.CandidateSize,
		UniverseSize:  cfg.UniverseSize,
		StartDate:     cfg.StartDate,
		PageDelay:     time.Second,
		AssetDelay:    time.Second,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Fatalf("builder setup: %v", err)
	}

	start := time.Now()
	snapshot, err := builder.Build(ctx)
	if err != nil {
		metrics.RecordRun("universe", "error", time.Since(start).Seconds())
		logger.Fatalf("universe build failed: %v", err)
	}
	metrics.RecordRun("universe", "ok", time.Since(start).Seconds())

	periods := snapshot.Periods()
	fmt.Printf("Universe built in %s:\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Periods: %d (%s .. %s)\n", len(periods), periods[0], periods[len(periods)-1])
	fmt.Printf("  Distinct assets: %d\n", len(snapshot.AssetIDs()))
	fmt.Printf("  Cached under: %s\n", universe.SnapshotKey)
}

// openCache sets up the tiered cache, degrading to local-only when the
// remote tier is unreachable.
func openCache(ctx context.Context, cfg *config.Config, logger *log.Logger, metrics *observability.Metrics) *cache.Cache {
	var remote cache.RemoteTier
	if cfg.RedisURL != "" {
		tier, err := cache.NewRedisTier(ctx, cfg.RedisURL)
		if err != nil {
			logger.Printf("WARNING: remote cache unavailable, continuing local-only: %v", err)
		} else {
			remote = tier
		}
	}

	tiered, err := cache.New(cache.Options{Dir: cfg.CacheDir, Remote: remote, Logger: logger, Metrics: metrics})
	if err != nil {
		logger.Fatalf("cache setup: %v", err)
	}
	return tiered
}

func serveMetrics(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("WARNING: metrics server stopped: %v", err)
	}
}
