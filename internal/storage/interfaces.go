// Package storage defines the persistence interfaces behind the pipeline.
// The panel store holds the assembled dataset for querying; the progress
// store records each asset's terminal status per run so long backfills can
// be audited and resumed.
package storage

import (
	"context"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

// AssetStatus is the recorded outcome of processing one asset in a run.
type AssetStatus struct {
	AssetID    string
	Status     string // fetched, cache_hit, or skipped
	Reason     string // empty unless skipped
	Rows       int
	RecordedAt time.Time // zero means "stamp at upsert time"
}

// ProgressStore persists per-asset run outcomes. Upsert semantics: an asset
// reprocessed in a later run overwrites its previous status.
type ProgressStore interface {
	// Upsert records the asset's latest status, replacing any prior one.
	// The caller's RecordedAt is persisted as-is; a zero RecordedAt is
	// stamped with the current time.
	Upsert(ctx context.Context, s *AssetStatus) error

	// GetByAssetID retrieves an asset's status. Returns ErrNotFound if the
	// asset has never been recorded.
	GetByAssetID(ctx context.Context, assetID string) (*AssetStatus, error)

	// List retrieves all recorded statuses ordered by asset id.
	List(ctx context.Context) ([]*AssetStatus, error)
}

// PanelStore provides access to the assembled daily panel.
type PanelStore interface {
	// InsertBulk adds a batch of panel rows.
	InsertBulk(ctx context.Context, rows []domain.DailyObservation) error

	// GetByCanonicalID retrieves all rows for a canonical asset,
	// ordered by date ASC.
	GetByCanonicalID(ctx context.Context, canonicalID string) ([]domain.DailyObservation, error)

	// GetByDateRange retrieves rows with date within [start, end]
	// (inclusive), ordered by canonical id then date.
	GetByDateRange(ctx context.Context, start, end time.Time) ([]domain.DailyObservation, error)
}
