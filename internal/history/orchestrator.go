// Package history assembles the complete multi-source daily history of a
// single asset. The market source is primary: it defines the asset's date
// index and its failure makes the asset unrecoverable for the run. Every
// other source enriches the history and is allowed to fail or have no
// coverage without losing the asset.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/John-Swindell/data-engineering/internal/cache"
	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/observability"
	"github.com/John-Swindell/data-engineering/internal/sources"
)

// FetchStatus describes how an asset's history was obtained.
type FetchStatus string

const (
	// StatusFetched means the history was assembled from live sources.
	StatusFetched FetchStatus = "fetched"
	// StatusCacheHit means the history was served from the cache.
	StatusCacheHit FetchStatus = "cache_hit"
	// StatusSkipped means the primary source failed or had no data.
	StatusSkipped FetchStatus = "skipped"
)

const historyKeyPrefix = "coin_history/"

// Orchestrator fetches, enriches, and caches per-asset histories.
type Orchestrator struct {
	cache   *cache.Cache
	market  sources.MarketSource
	onchain sources.OnChainSource
	social  sources.SocialSource
	retry   sources.RetryPolicy

	tickers   map[string]string
	protocols map[string]string
	chains    map[string]string

	logger  *log.Logger
	metrics *observability.Metrics
}

// Options configures an Orchestrator. Cache and Market are required;
// the on-chain and social sources and the reference maps are optional
// and simply leave their columns empty when absent.
type Options struct {
	Cache  *cache.Cache
	Market sources.MarketSource

	OnChain sources.OnChainSource
	Social  sources.SocialSource

	Retry sources.RetryPolicy

	// Tickers maps coin id to display ticker for the social source.
	Tickers map[string]string
	// Protocols maps coin id to the on-chain provider's protocol slug.
	Protocols map[string]string
	// Chains maps coin id to the on-chain provider's chain name.
	Chains map[string]string

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil {
		return nil, errors.New("history: cache is required")
	}
	if opts.Market == nil {
		return nil, errors.New("history: market source is required")
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = sources.DefaultRetryPolicy()
		retry.Metrics = opts.Retry.Metrics
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		cache:     opts.Cache,
		market:    opts.Market,
		onchain:   opts.OnChain,
		social:    opts.Social,
		retry:     retry,
		tickers:   opts.Tickers,
		protocols: opts.Protocols,
		chains:    opts.Chains,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// CoinHistory returns the asset's full merged daily history. The cache is
// consulted first; on a miss the history is assembled from the sources and
// cached before returning. A primary-source failure or an asset with no
// market data yields StatusSkipped with no error so the caller can move on.
// Context cancellation is the exception and is always returned.
func (o *Orchestrator) CoinHistory(ctx context.Context, coinID string) ([]domain.DailyObservation, FetchStatus, error) {
	key := historyKeyPrefix + coinID

	rows, ok, err := o.cache.GetTable(ctx, key)
	if err != nil {
		return nil, StatusSkipped, fmt.Errorf("cache lookup for %s: %w", coinID, err)
	}
	if ok {
		return rows, StatusCacheHit, nil
	}

	var market []sources.MarketPoint
	err = o.retry.Do(ctx, func() error {
		var ferr error
		market, ferr = o.market.MarketChart(ctx, coinID)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, StatusSkipped, ctx.Err()
		}
		o.metrics.RecordSourceFetch("market", "error")
		o.logger.Printf("WARNING: skipping %s: market history failed: %v", coinID, err)
		return nil, StatusSkipped, nil
	}
	if len(market) == 0 {
		o.metrics.RecordSourceFetch("market", "empty")
		o.logger.Printf("WARNING: skipping %s: no market history", coinID)
		return nil, StatusSkipped, nil
	}
	o.metrics.RecordSourceFetch("market", "ok")

	ohlc := o.fetchOHLC(ctx, coinID)
	chainTVL := o.fetchChainTVL(ctx, coinID)
	protocol := o.fetchProtocol(ctx, coinID)
	social := o.fetchSocial(ctx, coinID)
	if ctx.Err() != nil {
		return nil, StatusSkipped, ctx.Err()
	}

	merged := mergeHistory(coinID, o.tickers[coinID], market, ohlc, chainTVL, protocol, social)

	if err := o.cache.SetTable(ctx, key, merged); err != nil {
		return nil, StatusSkipped, fmt.Errorf("cache %s history: %w", coinID, err)
	}
	return merged, StatusFetched, nil
}

// fetchOHLC enriches with open/high/low. Best effort.
func (o *Orchestrator) fetchOHLC(ctx context.Context, coinID string) []sources.OHLCPoint {
	var points []sources.OHLCPoint
	err := o.retry.Do(ctx, func() error {
		var ferr error
		points, ferr = o.market.OHLC(ctx, coinID)
		return ferr
	})
	if err != nil {
		o.metrics.RecordSourceFetch("ohlc", "error")
		o.logger.Printf("WARNING: ohlc for %s failed: %v", coinID, err)
		return nil
	}
	o.metrics.RecordSourceFetch("ohlc", "ok")
	return points
}

// fetchChainTVL enriches with the chain's TVL when the asset is a chain's
// native token. Best effort.
func (o *Orchestrator) fetchChainTVL(ctx context.Context, coinID string) []sources.ChainTVLPoint {
	if o.onchain == nil {
		return nil
	}
	chain, ok := o.chains[coinID]
	if !ok {
		return nil
	}

	var points []sources.ChainTVLPoint
	err := o.retry.Do(ctx, func() error {
		var ferr error
		points, ferr = o.onchain.ChainTVL(ctx, chain)
		return ferr
	})
	if err != nil {
		o.metrics.RecordSourceFetch("chain_tvl", "error")
		o.logger.Printf("WARNING: chain tvl for %s (%s) failed: %v", coinID, chain, err)
		return nil
	}
	o.metrics.RecordSourceFetch("chain_tvl", "ok")
	return points
}

// fetchProtocol enriches with protocol TVL and DEX volume when the asset has
// a protocol slug. Best effort.
func (o *Orchestrator) fetchProtocol(ctx context.Context, coinID string) []sources.ProtocolPoint {
	if o.onchain == nil {
		return nil
	}
	slug, ok := o.protocols[coinID]
	if !ok {
		return nil
	}

	var points []sources.ProtocolPoint
	err := o.retry.Do(ctx, func() error {
		var ferr error
		points, ferr = o.onchain.ProtocolSeries(ctx, slug)
		return ferr
	})
	if err != nil {
		o.metrics.RecordSourceFetch("protocol", "error")
		o.logger.Printf("WARNING: protocol series for %s (%s) failed: %v", coinID, slug, err)
		return nil
	}
	o.metrics.RecordSourceFetch("protocol", "ok")
	return points
}

// fetchSocial enriches with social metrics when the asset's ticker is known.
// Best effort.
func (o *Orchestrator) fetchSocial(ctx context.Context, coinID string) []sources.SocialPoint {
	if o.social == nil {
		return nil
	}
	ticker, ok := o.tickers[coinID]
	if !ok || ticker == "" {
		return nil
	}

	var points []sources.SocialPoint
	err := o.retry.Do(ctx, func() error {
		var ferr error
		points, ferr = o.social.SocialSeries(ctx, ticker)
		return ferr
	})
	if err != nil {
		o.metrics.RecordSourceFetch("social", "error")
		o.logger.Printf("WARNING: social series for %s (%s) failed: %v", coinID, ticker, err)
		return nil
	}
	o.metrics.RecordSourceFetch("social", "ok")
	return points
}
