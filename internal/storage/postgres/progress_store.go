package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/John-Swindell/data-engineering/internal/storage"
)

// ProgressStore is a PostgreSQL implementation of storage.ProgressStore,
// backed by the asset_progress table with one row per asset.
type ProgressStore struct {
	pool *Pool
}

// Compile-time interface check.
var _ storage.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore creates a new PostgreSQL progress store.
func NewProgressStore(pool *Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// Upsert records the asset's latest status, replacing any prior one. A zero
// RecordedAt is stamped with the current time.
func (s *ProgressStore) Upsert(ctx context.Context, status *storage.AssetStatus) error {
	if status == nil || status.AssetID == "" {
		return storage.ErrInvalidInput
	}

	recordedAt := status.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO asset_progress (asset_id, status, reason, row_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id) DO UPDATE
		SET status = EXCLUDED.status,
		    reason = EXCLUDED.reason,
		    row_count = EXCLUDED.row_count,
		    recorded_at = EXCLUDED.recorded_at
	`, status.AssetID, status.Status, status.Reason, status.Rows, recordedAt)
	if err != nil {
		return fmt.Errorf("upsert asset progress: %w", err)
	}

	return nil
}

// GetByAssetID retrieves an asset's status. Returns ErrNotFound if the asset
// has never been recorded.
func (s *ProgressStore) GetByAssetID(ctx context.Context, assetID string) (*storage.AssetStatus, error) {
	if assetID == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT asset_id, status, reason, row_count, recorded_at
		FROM asset_progress
		WHERE asset_id = $1
	`, assetID)

	var status storage.AssetStatus
	err := row.Scan(&status.AssetID, &status.Status, &status.Reason, &status.Rows, &status.RecordedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset progress: %w", err)
	}

	return &status, nil
}

// List retrieves all recorded statuses ordered by asset id.
func (s *ProgressStore) List(ctx context.Context) ([]*storage.AssetStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, status, reason, row_count, recorded_at
		FROM asset_progress
		ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list asset progress: %w", err)
	}
	defer rows.Close()

	var statuses []*storage.AssetStatus
	for rows.Next() {
		var status storage.AssetStatus
		if err := rows.Scan(&status.AssetID, &status.Status, &status.Reason, &status.Rows, &status.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan asset progress row: %w", err)
		}
		statuses = append(statuses, &status)
	}

	return statuses, rows.Err()
}
