package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

const llamaBaseURL = "https://api.llama.fi"

// DefiLlama is the on-chain adapter: reference maps, chain TVL, protocol TVL
// and DEX volume.
type DefiLlama struct {
	client  *http.Client
	baseURL string
	apiKey  string
	pacer   *Pacer
}

// DefiLlamaOption configures the adapter.
type DefiLlamaOption func(*DefiLlama)

// WithLlamaBaseURL overrides the API endpoint (used by tests).
func WithLlamaBaseURL(base string) DefiLlamaOption {
	return func(d *DefiLlama) { d.baseURL = base }
}

// WithLlamaHTTPClient overrides the HTTP client.
func WithLlamaHTTPClient(client *http.Client) DefiLlamaOption {
	return func(d *DefiLlama) { d.client = client }
}

// WithLlamaPacer overrides the politeness pacer.
func WithLlamaPacer(p *Pacer) DefiLlamaOption {
	return func(d *DefiLlama) { d.pacer = p }
}

// NewDefiLlama creates the adapter with a half-second politeness delay.
func NewDefiLlama(apiKey string, opts ...DefiLlamaOption) *DefiLlama {
	d := &DefiLlama{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: llamaBaseURL,
		apiKey:  apiKey,
		pacer:   NewPacer(500 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Compile-time interface check.
var _ OnChainSource = (*DefiLlama)(nil)

func (d *DefiLlama) headers() map[string]string {
	return map[string]string{"api-key": d.apiKey}
}

// ProtocolMap maps coin id to protocol slug for every protocol the provider
// links to a coin id.
func (d *DefiLlama) ProtocolMap(ctx context.Context) (map[string]string, error) {
	var raw []struct {
		GeckoID string `json:"gecko_id"`
		Slug    string `json:"slug"`
	}
	if err := getJSON(ctx, d.client, d.pacer, d.baseURL+"/protocols", d.headers(), &raw); err != nil {
		return nil, fmt.Errorf("fetch protocol list: %w", err)
	}

	m := make(map[string]string)
	for _, p := range raw {
		if p.GeckoID != "" && p.Slug != "" {
			m[p.GeckoID] = p.Slug
		}
	}
	return m, nil
}

// ChainMap maps coin id to chain name for every chain linked to a coin id.
func (d *DefiLlama) ChainMap(ctx context.Context) (map[string]string, error) {
	var raw []struct {
		GeckoID string `json:"gecko_id"`
		Name    string `json:"name"`
	}
	if err := getJSON(ctx, d.client, d.pacer, d.baseURL+"/chains", d.headers(), &raw); err != nil {
		return nil, fmt.Errorf("fetch chain list: %w", err)
	}

	m := make(map[string]string)
	for _, c := range raw {
		if c.GeckoID != "" && c.Name != "" {
			m[c.GeckoID] = c.Name
		}
	}
	return m, nil
}

// tvlEntry tolerates the provider's mixed date encodings: unix seconds as a
// JSON number or as a string.
type tvlEntry struct {
	Date              flexUnix `json:"date"`
	TotalLiquidityUSD float64  `json:"totalLiquidityUSD"`
}

type flexUnix int64

func (f *flexUnix) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(s)
	}
	sec, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return fmt.Errorf("parse unix date %q: %w", n, err)
	}
	*f = flexUnix(int64(sec))
	return nil
}

// ChainTVL returns the daily TVL series for a chain.
func (d *DefiLlama) ChainTVL(ctx context.Context, chain string) ([]ChainTVLPoint, error) {
	u := d.baseURL + "/charts/" + url.PathEscape(chain)

	var raw []tvlEntry
	if err := getJSON(ctx, d.client, d.pacer, u, d.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch chain tvl for %s: %w", chain, err)
	}

	out := make([]ChainTVLPoint, 0, len(raw))
	for _, e := range raw {
		out = append(out, ChainTVLPoint{Date: domain.DayFromUnix(int64(e.Date)), TVL: e.TotalLiquidityUSD})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ProtocolSeries returns the protocol's daily TVL and DEX volume,
// outer-merged on date. A rate limit on either sub-request propagates so the
// caller can retry; any other sub-request failure just leaves that half of
// the series empty.
func (d *DefiLlama) ProtocolSeries(ctx context.Context, slug string) ([]ProtocolPoint, error) {
	tvl, err := d.protocolTVL(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		tvl = nil
	}

	dex, err := d.dexVolume(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		dex = nil
	}

	if len(tvl) == 0 && len(dex) == 0 {
		return nil, nil
	}

	merged := make(map[time.Time]*ProtocolPoint)
	at := func(day time.Time) *ProtocolPoint {
		p, ok := merged[day]
		if !ok {
			p = &ProtocolPoint{Date: day}
			merged[day] = p
		}
		return p
	}
	for day, v := range tvl {
		val := v
		at(day).ProtocolTVL = &val
	}
	for day, v := range dex {
		val := v
		at(day).DEXVolume = &val
	}

	out := make([]ProtocolPoint, 0, len(merged))
	for _, p := range merged {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// protocolTVL aggregates TVL across all chains in a chainTvls response,
// falling back to the flat tvl array for single-chain protocols.
func (d *DefiLlama) protocolTVL(ctx context.Context, slug string) (map[time.Time]float64, error) {
	u := d.baseURL + "/protocol/" + url.PathEscape(slug)

	var raw struct {
		ChainTvls map[string]struct {
			TVL []tvlEntry `json:"tvl"`
		} `json:"chainTvls"`
		TVL []tvlEntry `json:"tvl"`
	}
	if err := getJSON(ctx, d.client, d.pacer, u, d.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch protocol tvl for %s: %w", slug, err)
	}

	daily := make(map[time.Time]float64)
	if len(raw.ChainTvls) > 0 {
		for _, chain := range raw.ChainTvls {
			for _, e := range chain.TVL {
				daily[domain.DayFromUnix(int64(e.Date))] += e.TotalLiquidityUSD
			}
		}
		return daily, nil
	}

	for _, e := range raw.TVL {
		daily[domain.DayFromUnix(int64(e.Date))] = e.TotalLiquidityUSD
	}
	return daily, nil
}

// dexVolume parses the totalDataChart pairs, dropping non-numeric entries.
func (d *DefiLlama) dexVolume(ctx context.Context, slug string) (map[time.Time]float64, error) {
	u := d.baseURL + "/summary/dexs/" + url.PathEscape(slug)

	var raw struct {
		TotalDataChart [][]json.RawMessage `json:"totalDataChart"`
	}
	if err := getJSON(ctx, d.client, d.pacer, u, d.headers(), &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch dex volume for %s: %w", slug, err)
	}

	daily := make(map[time.Time]float64)
	for _, pair := range raw.TotalDataChart {
		if len(pair) < 2 {
			continue
		}
		var ts flexUnix
		if err := json.Unmarshal(pair[0], &ts); err != nil {
			continue
		}
		var vol float64
		if err := json.Unmarshal(pair[1], &vol); err != nil {
			continue
		}
		daily[domain.DayFromUnix(int64(ts))] = vol
	}
	return daily, nil
}
