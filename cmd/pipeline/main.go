// Package main runs the dataset pipeline: load the cached universe snapshot,
// assemble every member asset's multi-source history, and write the final
// panel artifact.
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
	"github.com/John-Swindell/data-engineering/internal/dataset"
	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/history"
	"github.com/John-Swindell/data-engineering/internal/observability"
	"github.com/John-Swindell/data-engineering/internal/sources"
	"github.com/John-Swindell/data-engineering/internal/storage"
	"github.com/John-Swindell/data-engineering/internal/storage/clickhouse"
	"github.com/John-Swindell/data-engineering/internal/storage/memory"
	"github.com/John-Swindell/data-engineering/internal/storage/migrations"
	"github.com/John-Swindell/data-engineering/internal/storage/postgres"
	"github.com/John-Swindell/data-engineering/internal/universe"
)

const (
	protocolMapKey = "maps/llama_protocol_map"
	chainMapKey    = "maps/llama_chain_map"
)

func main() {
	output := flag.String("output", "", "Artifact path (overrides OUTPUT_FILE)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory stores instead of Postgres/ClickHouse")
	flag.Parse()

	logger := log.New(os.Stdout, "[pipeline] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration error: %v", err)
	}
	if *output != "" {
		cfg.OutputFile = *output
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

	var snapshot domain.UniverseSnapshot
	ok, err := tiered.GetJSON(ctx, universe.SnapshotKey, &snapshot)
	if err != nil {
		logger.Fatalf("load universe snapshot: %v", err)
	}
	if !ok || len(snapshot) == 0 {
		logger.Fatalf("no universe snapshot cached under %q; run cmd/universe first", universe.SnapshotKey)
	}
	logger.Printf("universe loaded: %d periods, %d distinct assets", len(snapshot.Periods()), len(snapshot.AssetIDs()))

	gecko := sources.NewCoinGecko(cfg.CoinGeckoAPIKey)
	llama := sources.NewDefiLlama(cfg.DefiLlamaAPIKey)
	lunar := sources.NewLunarCrush(cfg.LunarCrushAPIKey)
	retry := sources.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Cooldown:    cfg.RateLimitCooldown,
		Metrics:     metrics,
	}

	protocolMap := loadReferenceMap(ctx, tiered, logger, protocolMapKey, llama.ProtocolMap)
	chainMap := loadReferenceMap(ctx, tiered, logger, chainMapKey, llama.ChainMap)
	tickers := loadTickers(ctx, logger, gecko, retry, cfg.CandidateSize)

	progressStore, panelStore, closeStores := openStores(ctx, cfg, logger, *useMemory)
	defer closeStores()

	orch, err := history.New(history.Options{
		Cache:     tiered,
		Market:    gecko,
		OnChain:   llama,
		Social:    lunar,
		Retry:     retry,
		Tickers:   tickers,
		Protocols: protocolMap,
		Chains:    chainMap,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Fatalf("orchestrator setup: %v", err)
	}

	assembler, err := dataset.New(dataset.Options{
		History:    orch,
		StartDate:  cfg.StartDate,
		Canonical:  domain.DefaultCanonicalMap(),
		AssetDelay: 100 * time.Millisecond,
		Progress:   progressStore,
		Panel:      panelStore,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Fatalf("assembler setup: %v", err)
	}

	start := time.Now()
	rows, result, err := assembler.Assemble(ctx, snapshot)
	if err != nil {
		metrics.RecordRun("pipeline", "error", time.Since(start).Seconds())
		logger.Fatalf("assembly failed: %v", err)
	}

	if err := dataset.WriteArtifact(cfg.OutputFile, rows); err != nil {
		metrics.RecordRun("pipeline", "error", time.Since(start).Seconds())
		logger.Fatalf("write artifact: %v", err)
	}
	metrics.RecordRun("pipeline", "ok", time.Since(start).Seconds())

	fmt.Printf("Pipeline completed in %s:\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Assets: %d (fetched %d, cache hits %d, skipped %d)\n",
		result.Assets, result.Fetched, result.CacheHits, result.Skipped)
	fmt.Printf("  Periods: %d\n", result.Periods)
	fmt.Printf("  Rows: %d\n", result.Rows)
	fmt.Printf("  Artifact: %s\n", cfg.OutputFile)
}

// loadReferenceMap serves a provider reference map from the cache, fetching
// and caching it on a miss. Failure leaves the map empty: the columns it
// feeds are enrichment, never a reason to abort.
func loadReferenceMap(ctx context.Context, tiered *cache.Cache, logger *log.Logger, key string, fetch func(context.Context) (map[string]string, error)) map[string]string {
	var m map[string]string
	ok, err := tiered.GetJSON(ctx, key, &m)
	if err != nil {
		logger.Fatalf("load %s: %v", key, err)
	}
	if ok {
		return m
	}

	m, err = fetch(ctx)
	if err != nil {
		logger.Printf("WARNING: fetch %s failed, continuing without it: %v", key, err)
		return nil
	}
	if err := tiered.SetJSON(ctx, key, m); err != nil {
		logger.Fatalf("cache %s: %v", key, err)
	}
	return m
}

// loadTickers pages through the candidate pool to map coin ids onto display
// tickers for the social source.
func loadTickers(ctx context.Context, logger *log.Logger, market sources.MarketSource, retry sources.RetryPolicy, candidateSize int) map[string]string {
	const perPage = 250
	pages := (candidateSize + perPage - 1) / perPage

	tickers := make(map[string]string)
	for page := 1; page <= pages; page++ {
		var batch []sources.Candidate
		err := retry.Do(ctx, func() error {
			var ferr error
			batch, ferr = market.Candidates(ctx, page, perPage)
			return ferr
		})
		if err != nil {
			logger.Printf("WARNING: ticker map page %d failed, social coverage reduced: %v", page, err)
			return tickers
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			tickers[c.ID] = c.Ticker
		}
	}
	return tickers
}

// openStores connects the optional progress and panel stores. Either DSN
// being unset simply disables that store.
func openStores(ctx context.Context, cfg *config.Config, logger *log.Logger, useMemory bool) (storage.ProgressStore, storage.PanelStore, func()) {
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if useMemory {
		logger.Printf("using in-memory stores")
		return memory.NewProgressStore(), memory.NewPanelStore(), closeAll
	}

	var progress storage.ProgressStore
	if cfg.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres setup: %v", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			logger.Fatalf("postgres migrations: %v", err)
		}
		closers = append(closers, pool.Close)
		progress = postgres.NewProgressStore(pool)
		logger.Printf("progress store enabled (postgres)")
	}

	var panel storage.PanelStore
	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			logger.Fatalf("clickhouse setup: %v", err)
		}
		closers = append(closers, func() { conn.Close() })
		panel = clickhouse.NewPanelStore(conn)
		logger.Printf("panel store enabled (clickhouse)")
	}

	return progress, panel, closeAll
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
