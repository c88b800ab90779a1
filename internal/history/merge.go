package history

import (
	"sort"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/sources"
)

// mergeHistory outer-joins all per-source series for one asset on the
// calendar day. The union of dates is kept: a day present in only one
// series yields a row with every other source's fields nil.
func mergeHistory(coinID, ticker string, market []sources.MarketPoint, ohlc []sources.OHLCPoint, chain []sources.ChainTVLPoint, protocol []sources.ProtocolPoint, social []sources.SocialPoint) []domain.DailyObservation {
	byDay := make(map[time.Time]*domain.DailyObservation)

	row := func(t time.Time) *domain.DailyObservation {
		day := domain.Day(t)
		r, ok := byDay[day]
		if !ok {
			r = &domain.DailyObservation{Date: day, CoinID: coinID, Ticker: ticker}
			byDay[day] = r
		}
		return r
	}

	for _, p := range market {
		r := row(p.Date)
		r.Close = p.Close
		r.Volume = p.Volume
		r.MarketCap = p.MarketCap
	}
	for _, p := range ohlc {
		r := row(p.Date)
		open, high, low := p.Open, p.High, p.Low
		r.Open = &open
		r.High = &high
		r.Low = &low
	}
	for _, p := range chain {
		tvl := p.TVL
		row(p.Date).ChainTVL = &tvl
	}
	for _, p := range protocol {
		r := row(p.Date)
		r.ProtocolTVL = p.ProtocolTVL
		r.DEXVolume = p.DEXVolume
	}
	for _, p := range social {
		r := row(p.Date)
		r.GalaxyScore = p.GalaxyScore
		r.AltRank = p.AltRank
		r.SocialDominance = p.SocialDominance
		r.Sentiment = p.Sentiment
	}

	rows := make([]domain.DailyObservation, 0, len(byDay))
	for _, r := range byDay {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}
