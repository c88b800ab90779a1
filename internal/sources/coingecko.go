package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

const coingeckoBaseURL = "https://pro-api.coingecko.com/api/v3"

// CoinGecko is the primary market-data adapter. One instance shares a pacer
// across all calls so candidate paging and history fetches respect the same
// provider window.
type CoinGecko struct {
	client  *http.Client
	baseURL string
	apiKey  string
	pacer   *Pacer
}

// CoinGeckoOption configures the adapter.
type CoinGeckoOption func(*CoinGecko)

// WithCoinGeckoBaseURL overrides the API endpoint (used by tests).
func WithCoinGeckoBaseURL(base string) CoinGeckoOption {
	return func(c *CoinGecko) { c.baseURL = base }
}

// WithCoinGeckoHTTPClient overrides the HTTP client.
func WithCoinGeckoHTTPClient(client *http.Client) CoinGeckoOption {
	return func(c *CoinGecko) { c.client = client }
}

// WithCoinGeckoPacer overrides the politeness pacer.
func WithCoinGeckoPacer(p *Pacer) CoinGeckoOption {
	return func(c *CoinGecko) { c.pacer = p }
}

// NewCoinGecko creates the adapter with a one-second politeness delay
// between calls.
func NewCoinGecko(apiKey string, opts ...CoinGeckoOption) *CoinGecko {
	c := &CoinGecko{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: coingeckoBaseURL,
		apiKey:  apiKey,
		pacer:   NewPacer(time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ MarketSource = (*CoinGecko)(nil)

func (c *CoinGecko) headers() map[string]string {
	return map[string]string{"x-cg-pro-api-key": c.apiKey}
}

// Candidates returns one page of the market-cap-descending candidate pool.
func (c *CoinGecko) Candidates(ctx context.Context, page, perPage int) ([]Candidate, error) {
	u := fmt.Sprintf("%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=%d",
		c.baseURL, perPage, page)

	var raw []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := getJSON(ctx, c.client, c.pacer, u, c.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch candidate markets page %d: %w", page, err)
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, coin := range raw {
		if coin.ID == "" {
			continue
		}
		candidates = append(candidates, Candidate{ID: coin.ID, Ticker: strings.ToUpper(coin.Symbol)})
	}
	return candidates, nil
}

// MarketChart returns the full daily close/volume/market-cap history for one
// asset. Timestamps are normalized to UTC days; multiple samples in one day
// collapse to the last.
func (c *CoinGecko) MarketChart(ctx context.Context, coinID string) ([]MarketPoint, error) {
	u := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=max&interval=daily",
		c.baseURL, url.PathEscape(coinID))

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		MarketCaps   [][]float64 `json:"market_caps"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := getJSON(ctx, c.client, c.pacer, u, c.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch market chart for %s: %w", coinID, err)
	}

	points := make(map[time.Time]*MarketPoint)
	at := func(ms float64) *MarketPoint {
		day := domain.DayFromUnixMilli(int64(ms))
		p, ok := points[day]
		if !ok {
			p = &MarketPoint{Date: day}
			points[day] = p
		}
		return p
	}

	for _, pair := range raw.Prices {
		if len(pair) < 2 {
			continue
		}
		v := pair[1]
		at(pair[0]).Close = &v
	}
	for _, pair := range raw.TotalVolumes {
		if len(pair) < 2 {
			continue
		}
		v := pair[1]
		at(pair[0]).Volume = &v
	}
	for _, pair := range raw.MarketCaps {
		if len(pair) < 2 {
			continue
		}
		v := pair[1]
		at(pair[0]).MarketCap = &v
	}

	out := make([]MarketPoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// OHLC returns the asset's daily OHLC history.
func (c *CoinGecko) OHLC(ctx context.Context, coinID string) ([]OHLCPoint, error) {
	u := fmt.Sprintf("%s/coins/%s/ohlc?vs_currency=usd&days=max", c.baseURL, url.PathEscape(coinID))

	var raw [][]float64
	if err := getJSON(ctx, c.client, c.pacer, u, c.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch ohlc for %s: %w", coinID, err)
	}

	out := make([]OHLCPoint, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		out = append(out, OHLCPoint{
			Date:  domain.DayFromUnixMilli(int64(row[0])),
			Open:  row[1],
			High:  row[2],
			Low:   row[3],
			Close: row[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
