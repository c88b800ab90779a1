package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

const lunarcrushBaseURL = "https://lunarcrush.com/api4/public"

// LunarCrush is the social-metrics adapter. Coverage is keyed by display
// ticker; assets without one yield no social data.
type LunarCrush struct {
	client  *http.Client
	baseURL string
	apiKey  string
	pacer   *Pacer
}

// LunarCrushOption configures the adapter.
type LunarCrushOption func(*LunarCrush)

// WithLunarCrushBaseURL overrides the API endpoint (used by tests).
func WithLunarCrushBaseURL(base string) LunarCrushOption {
	return func(l *LunarCrush) { l.baseURL = base }
}

// WithLunarCrushHTTPClient overrides the HTTP client.
func WithLunarCrushHTTPClient(client *http.Client) LunarCrushOption {
	return func(l *LunarCrush) { l.client = client }
}

// WithLunarCrushPacer overrides the politeness pacer.
func WithLunarCrushPacer(p *Pacer) LunarCrushOption {
	return func(l *LunarCrush) { l.pacer = p }
}

// NewLunarCrush creates the adapter with a one-second politeness delay.
func NewLunarCrush(apiKey string, opts ...LunarCrushOption) *LunarCrush {
	l := &LunarCrush{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: lunarcrushBaseURL,
		apiKey:  apiKey,
		pacer:   NewPacer(time.Second),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Compile-time interface check.
var _ SocialSource = (*LunarCrush)(nil)

// SocialSeries returns ten years of daily social metrics for a ticker.
// Missing metrics within a day stay nil; an uncovered ticker yields an
// empty result.
func (l *LunarCrush) SocialSeries(ctx context.Context, ticker string) ([]SocialPoint, error) {
	if ticker == "" {
		return nil, nil
	}

	u := fmt.Sprintf("%s/coins/%s/time-series/v2?bucket=day&interval=3650d",
		l.baseURL, url.PathEscape(ticker))
	headers := map[string]string{"Authorization": "Bearer " + l.apiKey}

	var raw struct {
		Data []struct {
			Time            int64    `json:"time"`
			GalaxyScore     *float64 `json:"galaxy_score"`
			AltRank         *float64 `json:"alt_rank"`
			SocialDominance *float64 `json:"social_dominance"`
			Sentiment       *float64 `json:"sentiment"`
		} `json:"data"`
	}
	if err := getJSON(ctx, l.client, l.pacer, u, headers, &raw); err != nil {
		if errors.Is(err, errNotCovered) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch social series for %s: %w", ticker, err)
	}

	out := make([]SocialPoint, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, SocialPoint{
			Date:            domain.DayFromUnix(d.Time),
			GalaxyScore:     d.GalaxyScore,
			AltRank:         d.AltRank,
			SocialDominance: d.SocialDominance,
			Sentiment:       d.Sentiment,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
