package domain

import (
	"sort"
	"time"
)

// DailyObservation is one row of the merged per-asset history: market data
// from CoinGecko, on-chain TVL/DEX volume from DefiLlama, and social metrics
// from LunarCrush, keyed by (coin_id, date). Every metric field is optional;
// a nil pointer means the source had no value for that day. The schema is
// fixed so merged histories look the same regardless of source coverage.
type DailyObservation struct {
	Date   time.Time `parquet:"date,timestamp(millisecond)"`
	CoinID string    `parquet:"coin_id"`
	Ticker string    `parquet:"ticker,optional"`

	// CoinGecko market data
	Open      *float64 `parquet:"open,optional"`
	High      *float64 `parquet:"high,optional"`
	Low       *float64 `parquet:"low,optional"`
	Close     *float64 `parquet:"close,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	MarketCap *float64 `parquet:"market_cap,optional"`

	// DefiLlama on-chain data
	ChainTVL    *float64 `parquet:"chain_tvl,optional"`
	ProtocolTVL *float64 `parquet:"protocol_tvl,optional"`
	DEXVolume   *float64 `parquet:"dex_volume,optional"`

	// LunarCrush social data
	GalaxyScore     *float64 `parquet:"lc_galaxy_score,optional"`
	AltRank         *float64 `parquet:"lc_alt_rank,optional"`
	SocialDominance *float64 `parquet:"lc_social_dominance,optional"`
	Sentiment       *float64 `parquet:"lc_sentiment,optional"`

	// CanonicalID is set by the dataset assembler; empty in cached histories.
	CanonicalID string `parquet:"canonical_id,optional"`
}

// Day truncates t to UTC midnight. All observation dates are normalized
// through this so that merges across sources key on the same instant.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayFromUnixMilli converts a millisecond timestamp to its UTC day.
func DayFromUnixMilli(ms int64) time.Time {
	return Day(time.UnixMilli(ms))
}

// DayFromUnix converts a second timestamp to its UTC day.
func DayFromUnix(sec int64) time.Time {
	return Day(time.Unix(sec, 0))
}

// SortObservations orders rows by (canonical_id, date) in place, falling back
// to coin_id for rows the assembler has not canonicalized yet.
func SortObservations(rows []DailyObservation) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Key(), rows[j].Key()
		if a != b {
			return a < b
		}
		return rows[i].Date.Before(rows[j].Date)
	})
}

// Key returns the identity the row is grouped under: canonical_id when set,
// otherwise coin_id.
func (o *DailyObservation) Key() string {
	if o.CanonicalID != "" {
		return o.CanonicalID
	}
	return o.CoinID
}
