// Package dataset assembles the final point-in-time panel from the universe
// snapshot and per-asset histories. For every month, a member asset
// contributes only the rows it had accumulated by that month's snapshot
// date, so the finished panel never encodes information an observer at the
// time could not have had.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/history"
	"github.com/John-Swindell/data-engineering/internal/observability"
	"github.com/John-Swindell/data-engineering/internal/storage"
)

// ErrEmptyDataset is returned when assembly produces zero rows. An empty
// panel means the run is broken, not that there was nothing to do.
var ErrEmptyDataset = errors.New("dataset: assembly produced no rows")

// HistoryProvider supplies complete per-asset histories.
type HistoryProvider interface {
	CoinHistory(ctx context.Context, coinID string) ([]domain.DailyObservation, history.FetchStatus, error)
}

// RunResult summarizes one assembly run.
type RunResult struct {
	Periods   int
	Assets    int
	Fetched   int
	CacheHits int
	Skipped   int
	Rows      int
}

// Assembler builds the final panel.
type Assembler struct {
	histories  HistoryProvider
	startDate  time.Time
	canonical  domain.CanonicalMap
	assetDelay time.Duration

	progress storage.ProgressStore
	panel    storage.PanelStore

	logger  *log.Logger
	metrics *observability.Metrics
}

// Options configures an Assembler. History and StartDate are required;
// Progress and Panel are optional stores that receive per-asset statuses
// and finished rows when set.
type Options struct {
	History   HistoryProvider
	StartDate time.Time

	// Canonical maps duplicate listings onto one asset identity.
	// Nil means no canonicalization beyond identity.
	Canonical domain.CanonicalMap

	// AssetDelay is the politeness pause between per-asset fetches.
	AssetDelay time.Duration

	Progress storage.ProgressStore
	Panel    storage.PanelStore

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// New creates an Assembler.
func New(opts Options) (*Assembler, error) {
	if opts.History == nil {
		return nil, errors.New("dataset: history provider is required")
	}
	if opts.StartDate.IsZero() {
		return nil, errors.New("dataset: start date is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Assembler{
		histories:  opts.History,
		startDate:  domain.Day(opts.StartDate),
		canonical:  opts.Canonical,
		assetDelay: opts.AssetDelay,
		progress:   opts.Progress,
		panel:      opts.Panel,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Assemble builds the panel for a universe snapshot. Each member asset's
// history is fetched once; each period then takes the point-in-time slice of
// rows dated on or before the period's snapshot date. The concatenated
// slices are deduplicated, canonicalized, deduplicated again on the
// canonical identity, and sorted.
func (a *Assembler) Assemble(ctx context.Context, snapshot domain.UniverseSnapshot) ([]domain.DailyObservation, *RunResult, error) {
	if len(snapshot) == 0 {
		return nil, nil, errors.New("dataset: universe snapshot is empty")
	}

	periods := snapshot.Periods()
	assetIDs := snapshot.AssetIDs()
	result := &RunResult{Periods: len(periods), Assets: len(assetIDs)}

	histories := make(map[string][]domain.DailyObservation, len(assetIDs))
	for i, id := range assetIDs {
		if i > 0 {
			if err := sleep(ctx, a.assetDelay); err != nil {
				return nil, nil, err
			}
		}

		rows, status, err := a.histories.CoinHistory(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("history for %s: %w", id, err)
		}

		switch status {
		case history.StatusFetched:
			result.Fetched++
		case history.StatusCacheHit:
			result.CacheHits++
		case history.StatusSkipped:
			result.Skipped++
		}
		a.metrics.RecordAssetProcessed(string(status))
		a.recordProgress(ctx, id, status, len(rows))

		if len(rows) > 0 {
			histories[id] = rows
		}
	}

	var concat []domain.DailyObservation
	for _, period := range periods {
		cutoff, err := domain.ParsePeriodKey(period)
		if err != nil {
			return nil, nil, fmt.Errorf("bad period key %q: %w", period, err)
		}
		for _, id := range snapshot[period] {
			concat = append(concat, sliceThrough(histories[id], cutoff)...)
		}
	}

	final := a.finalize(concat)
	if len(final) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	result.Rows = len(final)
	a.metrics.RecordRowsAssembled(len(final))

	if a.panel != nil {
		if err := a.panel.InsertBulk(ctx, final); err != nil {
			a.metrics.RecordDBError("clickhouse", "insert_panel")
			return nil, nil, fmt.Errorf("store panel rows: %w", err)
		}
		a.metrics.RecordPanelRowsInserted(len(final))
	}

	return final, result, nil
}

// sliceThrough returns the rows dated on or before cutoff. Histories are
// date-sorted, so this is a prefix.
func sliceThrough(rows []domain.DailyObservation, cutoff time.Time) []domain.DailyObservation {
	n := 0
	for _, r := range rows {
		if r.Date.After(cutoff) {
			break
		}
		n++
	}
	return rows[:n]
}

// finalize filters to the start date, collapses duplicate (coin, date) rows
// keeping the latest period's version, canonicalizes, collapses duplicate
// (canonical, date) rows the same way, and sorts.
func (a *Assembler) finalize(rows []domain.DailyObservation) []domain.DailyObservation {
	type key struct {
		id   string
		date time.Time
	}

	// Later periods re-contribute the same (coin, date) rows; iteration
	// order makes the last write win.
	byCoin := make(map[key]domain.DailyObservation)
	var order []key
	for _, r := range rows {
		if r.Date.Before(a.startDate) {
			continue
		}
		k := key{id: r.CoinID, date: r.Date}
		if _, seen := byCoin[k]; !seen {
			order = append(order, k)
		}
		byCoin[k] = r
	}

	byCanonical := make(map[key]domain.DailyObservation, len(byCoin))
	var canonicalOrder []key
	for _, k := range order {
		r := byCoin[k]
		r.CanonicalID = a.canonical.Resolve(r.CoinID)
		ck := key{id: r.CanonicalID, date: r.Date}
		if _, seen := byCanonical[ck]; !seen {
			canonicalOrder = append(canonicalOrder, ck)
		}
		byCanonical[ck] = r
	}

	out := make([]domain.DailyObservation, 0, len(byCanonical))
	for _, ck := range canonicalOrder {
		out = append(out, byCanonical[ck])
	}
	domain.SortObservations(out)
	return out
}

func (a *Assembler) recordProgress(ctx context.Context, id string, status history.FetchStatus, rowCount int) {
	if a.progress == nil {
		return
	}

	s := &storage.AssetStatus{
		AssetID:    id,
		Status:     string(status),
		Rows:       rowCount,
		RecordedAt: time.Now().UTC(),
	}
	if status == history.StatusSkipped {
		s.Reason = "primary source failed or returned no data"
	}
	if err := a.progress.Upsert(ctx, s); err != nil {
		a.metrics.RecordDBError("postgres", "upsert_progress")
		a.logger.Printf("WARNING: record progress for %s failed: %v", id, err)
	}
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
