package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/storage"
)

// PanelStore implements storage.PanelStore using ClickHouse. Re-inserted
// rows for the same (canonical_id, coin_id, date) are collapsed at merge
// time by the table's ReplacingMergeTree engine, so re-running a backfill
// over the same range is safe.
type PanelStore struct {
	conn *Conn
}

// Compile-time interface check.
var _ storage.PanelStore = (*PanelStore)(nil)

// NewPanelStore creates a new PanelStore.
func NewPanelStore(conn *Conn) *PanelStore {
	return &PanelStore{conn: conn}
}

const panelColumns = `
	date, coin_id, ticker, canonical_id,
	open, high, low, close, volume, market_cap,
	chain_tvl, protocol_tvl, dex_volume,
	lc_galaxy_score, lc_alt_rank, lc_social_dominance, lc_sentiment
`

// InsertBulk adds a batch of panel rows.
func (s *PanelStore) InsertBulk(ctx context.Context, rows []domain.DailyObservation) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO daily_panel (`+panelColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.Date, r.CoinID, r.Ticker, r.CanonicalID,
			r.Open, r.High, r.Low, r.Close, r.Volume, r.MarketCap,
			r.ChainTVL, r.ProtocolTVL, r.DEXVolume,
			r.GalaxyScore, r.AltRank, r.SocialDominance, r.Sentiment,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByCanonicalID retrieves all rows for a canonical asset, ordered by date ASC.
func (s *PanelStore) GetByCanonicalID(ctx context.Context, canonicalID string) ([]domain.DailyObservation, error) {
	if canonicalID == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + panelColumns + `
		FROM daily_panel FINAL
		WHERE canonical_id = ? OR (canonical_id = '' AND coin_id = ?)
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, canonicalID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("query by canonical id: %w", err)
	}
	defer rows.Close()

	return scanPanelRows(rows)
}

// GetByDateRange retrieves rows within [start, end] (inclusive), ordered by
// canonical id then date.
func (s *PanelStore) GetByDateRange(ctx context.Context, start, end time.Time) ([]domain.DailyObservation, error) {
	query := `
		SELECT ` + panelColumns + `
		FROM daily_panel FINAL
		WHERE date >= ? AND date <= ?
		ORDER BY canonical_id ASC, coin_id ASC, date ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by date range: %w", err)
	}
	defer rows.Close()

	return scanPanelRows(rows)
}

// chRows is the subset of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanPanelRows scans multiple rows.
func scanPanelRows(rows chRows) ([]domain.DailyObservation, error) {
	var out []domain.DailyObservation

	for rows.Next() {
		var r domain.DailyObservation
		err := rows.Scan(
			&r.Date, &r.CoinID, &r.Ticker, &r.CanonicalID,
			&r.Open, &r.High, &r.Low, &r.Close, &r.Volume, &r.MarketCap,
			&r.ChainTVL, &r.ProtocolTVL, &r.DEXVolume,
			&r.GalaxyScore, &r.AltRank, &r.SocialDominance, &r.Sentiment,
		)
		if err != nil {
			return nil, fmt.Errorf("scan panel row: %w", err)
		}
		r.Date = r.Date.UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panel rows: %w", err)
	}

	return out, nil
}
