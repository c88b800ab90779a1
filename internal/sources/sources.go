// Package sources contains the external data source adapters. Each adapter
// normalizes one provider's responses into date-keyed partial rows and never
// fails for "asset not covered by this source": missing coverage is an empty
// result, so callers compose sources without special-casing gaps. The only
// retryable condition an adapter surfaces is ErrRateLimited.
package sources

import (
	"context"
	"time"
)

// Candidate is one entry from the market-cap-descending candidate pool.
type Candidate struct {
	ID     string
	Ticker string
}

// MarketPoint is one day of market data from the primary source.
type MarketPoint struct {
	Date      time.Time
	Close     *float64
	Volume    *float64
	MarketCap *float64
}

// OHLCPoint is one day of open/high/low/close data.
type OHLCPoint struct {
	Date time.Time
	Open float64
	High float64
	Low  float64
	// Close is redundant with MarketPoint.Close and dropped on merge.
	Close float64
}

// ChainTVLPoint is one day of total value locked for a chain.
type ChainTVLPoint struct {
	Date time.Time
	TVL  float64
}

// ProtocolPoint is one day of protocol-level TVL and DEX volume.
type ProtocolPoint struct {
	Date        time.Time
	ProtocolTVL *float64
	DEXVolume   *float64
}

// SocialPoint is one day of social metrics.
type SocialPoint struct {
	Date            time.Time
	GalaxyScore     *float64
	AltRank         *float64
	SocialDominance *float64
	Sentiment       *float64
}

// MarketSource is the primary source: candidate discovery plus full market
// history per asset. Every merged history is built on its date index.
type MarketSource interface {
	// Candidates returns one page of the candidate pool ordered by
	// descending market cap.
	Candidates(ctx context.Context, page, perPage int) ([]Candidate, error)

	// MarketChart returns the asset's full daily close/volume/market-cap
	// history. An unknown asset yields an empty result.
	MarketChart(ctx context.Context, coinID string) ([]MarketPoint, error)

	// OHLC returns the asset's daily OHLC history. An unknown asset or one
	// without OHLC coverage yields an empty result.
	OHLC(ctx context.Context, coinID string) ([]OHLCPoint, error)
}

// OnChainSource provides TVL and DEX volume series plus the reference maps
// that translate coin ids into provider slugs.
type OnChainSource interface {
	// ProtocolMap maps coin id to the provider's protocol slug.
	ProtocolMap(ctx context.Context) (map[string]string, error)

	// ChainMap maps coin id to the provider's chain name.
	ChainMap(ctx context.Context) (map[string]string, error)

	// ChainTVL returns the daily TVL series for a chain.
	ChainTVL(ctx context.Context, chain string) ([]ChainTVLPoint, error)

	// ProtocolSeries returns the protocol's daily TVL and DEX volume,
	// outer-merged on date. Either half may be missing throughout.
	ProtocolSeries(ctx context.Context, slug string) ([]ProtocolPoint, error)
}

// SocialSource provides daily social metrics keyed by display ticker.
type SocialSource interface {
	SocialSeries(ctx context.Context, ticker string) ([]SocialPoint, error)
}
