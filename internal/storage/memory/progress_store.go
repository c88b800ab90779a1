// Package memory provides in-memory store implementations for tests and
// runs without external databases.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/John-Swindell/data-engineering/internal/storage"
)

// ProgressStore is an in-memory implementation of storage.ProgressStore.
type ProgressStore struct {
	mu       sync.RWMutex
	statuses map[string]*storage.AssetStatus
}

var _ storage.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore creates a new in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		statuses: make(map[string]*storage.AssetStatus),
	}
}

// Upsert records the asset's latest status, replacing any prior one. A zero
// RecordedAt is stamped with the current time.
func (s *ProgressStore) Upsert(_ context.Context, status *storage.AssetStatus) error {
	if status == nil || status.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *status
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = time.Now().UTC()
	}
	s.statuses[status.AssetID] = &cp
	return nil
}

// GetByAssetID retrieves an asset's status.
func (s *ProgressStore) GetByAssetID(_ context.Context, assetID string) (*storage.AssetStatus, error) {
	if assetID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *status
	return &cp, nil
}

// List retrieves all recorded statuses ordered by asset id.
func (s *ProgressStore) List(_ context.Context) ([]*storage.AssetStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.AssetStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		cp := *status
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}
