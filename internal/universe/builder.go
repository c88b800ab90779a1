// Package universe builds the point-in-time investable universe: for every
// month, the top assets ranked by that month's average market capitalization.
// Ranking an asset for month M uses only data from M itself, so a backtest
// reading the snapshot never sees information that postdates its period.
package universe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/John-Swindell/data-engineering/internal/cache"
	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/observability"
	"github.com/John-Swindell/data-engineering/internal/sources"
)

// SnapshotKey is the cache key the finished universe snapshot is stored under.
const SnapshotKey = "universe/universe"

// candidatesPerPage is the provider's page size for the candidate pool.
const candidatesPerPage = 250

// AssetHistory is one candidate's market history, in candidate-pool order.
// The pool order (descending market cap at discovery) is the ranking
// tie-break, so it must be preserved from discovery through ranking.
type AssetHistory struct {
	ID     string
	Points []sources.MarketPoint
}

// Builder assembles the universe snapshot from the primary market source.
type Builder struct {
	market  sources.MarketSource
	cache   *cache.Cache
	retry   sources.RetryPolicy
	logger  *log.Logger
	metrics *observability.Metrics

	candidateSize int
	universeSize  int
	startDate     time.Time
	pageDelay     time.Duration
	assetDelay    time.Duration
}

// Options configures a Builder. Market, CandidateSize, UniverseSize, and
// StartDate are required. A nil Cache skips snapshot persistence.
type Options struct {
	Market sources.MarketSource
	Cache  *cache.Cache
	Retry  sources.RetryPolicy

	CandidateSize int
	UniverseSize  int
	StartDate     time.Time

	// PageDelay and AssetDelay are politeness pauses between candidate
	// pages and per-asset history fetches. Zero disables them.
	PageDelay  time.Duration
	AssetDelay time.Duration

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Market == nil {
		return nil, errors.New("universe: market source is required")
	}
	if opts.CandidateSize <= 0 {
		return nil, errors.New("universe: candidate size must be positive")
	}
	if opts.UniverseSize <= 0 {
		return nil, errors.New("universe: universe size must be positive")
	}
	if opts.StartDate.IsZero() {
		return nil, errors.New("universe: start date is required")
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

	return &Builder{
		market:        opts.Market,
		cache:         opts.Cache,
		retry:         retry,
		logger:        logger,
		metrics:       opts.Metrics,
		candidateSize: opts.CandidateSize,
		universeSize:  opts.UniverseSize,
		startDate:     opts.StartDate,
		pageDelay:     opts.PageDelay,
		assetDelay:    opts.AssetDelay,
	}, nil
}

// Build discovers the candidate pool, fetches each candidate's market
// history, ranks the pool per month, and persists the snapshot. Failing
// candidates are skipped and logged; an empty pool or a pool where every
// fetch failed is an error because an empty universe aborts everything
// downstream.
func (b *Builder) Build(ctx context.Context) (domain.UniverseSnapshot, error) {
	candidates, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("universe: candidate pool is empty")
	}
	b.logger.Printf("discovered %d candidates", len(candidates))

	histories := make([]AssetHistory, 0, len(candidates))
	for i, c := range candidates {
		if i > 0 {
			if err := sleep(ctx, b.assetDelay); err != nil {
				return nil, err
			}
		}

		var points []sources.MarketPoint
		err := b.retry.Do(ctx, func() error {
			var ferr error
			points, ferr = b.market.MarketChart(ctx, c.ID)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.metrics.RecordSourceFetch("market", "error")
			b.logger.Printf("WARNING: skipping candidate %s: %v", c.ID, err)
			continue
		}
		b.metrics.RecordSourceFetch("market", "ok")
		histories = append(histories, AssetHistory{ID: c.ID, Points: points})
	}
	if len(histories) == 0 {
		return nil, errors.New("universe: no candidate histories could be fetched")
	}

	snapshot := Rank(histories, b.startDate, b.universeSize)
	if len(snapshot) == 0 {
		return nil, errors.New("universe: no candidate has market cap data in range")
	}

	if b.cache != nil {
		if err := b.cache.SetJSON(ctx, SnapshotKey, snapshot); err != nil {
			return nil, fmt.Errorf("persist universe snapshot: %w", err)
		}
	}
	return snapshot, nil
}

// discover pages through the candidate pool in descending market cap order.
func (b *Builder) discover(ctx context.Context) ([]sources.Candidate, error) {
	pages := (b.candidateSize + candidatesPerPage - 1) / candidatesPerPage

	var pool []sources.Candidate
	for page := 1; page <= pages; page++ {
		if page > 1 {
			if err := sleep(ctx, b.pageDelay); err != nil {
				return nil, err
			}
		}

		var batch []sources.Candidate
		err := b.retry.Do(ctx, func() error {
			var ferr error
			batch, ferr = b.market.Candidates(ctx, page, candidatesPerPage)
			return ferr
		})
		if err != nil {
			return nil, fmt.Errorf("fetch candidate page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		pool = append(pool, batch...)
	}

	if len(pool) > b.candidateSize {
		pool = pool[:b.candidateSize]
	}
	return pool, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Rank computes the monthly top-N universe from candidate histories. For
// each month on or after start, every asset with at least one market cap
// reading in that month is ranked by the month's mean market cap. Ties and
// equal means resolve to candidate-pool order, which keeps output stable
// across runs given the same pool.
func Rank(histories []AssetHistory, start time.Time, topN int) domain.UniverseSnapshot {
	type monthKey struct {
		period string
		id     string
	}

	sums := make(map[monthKey]float64)
	counts := make(map[monthKey]int)
	periods := make(map[string]bool)

	start = domain.Day(start)
	for _, h := range histories {
		for _, p := range h.Points {
			if p.MarketCap == nil {
				continue
			}
			d := domain.Day(p.Date)
			if d.Before(start) {
				continue
			}
			period := domain.PeriodKey(d)
			k := monthKey{period: period, id: h.ID}
			sums[k] += *p.MarketCap
			counts[k]++
			periods[period] = true
		}
	}

	snapshot := make(domain.UniverseSnapshot, len(periods))
	for period := range periods {
		type ranked struct {
			id   string
			mean float64
		}
		var members []ranked
		// Iterating histories in pool order makes the sort's stability
		// the tie-break.
		for _, h := range histories {
			k := monthKey{period: period, id: h.ID}
			n := counts[k]
			if n == 0 {
				continue
			}
			members = append(members, ranked{id: h.ID, mean: sums[k] / float64(n)})
		}

		sort.SliceStable(members, func(i, j int) bool {
			return members[i].mean > members[j].mean
		})

		if len(members) > topN {
			members = members[:topN]
		}
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.id
		}
		snapshot[period] = ids
	}
	return snapshot
}
