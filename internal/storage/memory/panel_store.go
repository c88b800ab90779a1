package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/storage"
)

// PanelStore is an in-memory implementation of storage.PanelStore.
type PanelStore struct {
	mu   sync.RWMutex
	rows []domain.DailyObservation
}

var _ storage.PanelStore = (*PanelStore)(nil)

// NewPanelStore creates a new in-memory panel store.
func NewPanelStore() *PanelStore {
	return &PanelStore{}
}

// InsertBulk adds a batch of panel rows.
func (s *PanelStore) InsertBulk(_ context.Context, rows []domain.DailyObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, rows...)
	return nil
}

// GetByCanonicalID retrieves all rows for a canonical asset, ordered by date ASC.
func (s *PanelStore) GetByCanonicalID(_ context.Context, canonicalID string) ([]domain.DailyObservation, error) {
	if canonicalID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DailyObservation
	for _, r := range s.rows {
		if r.Key() == canonicalID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// GetByDateRange retrieves rows within [start, end], ordered by canonical id
// then date.
func (s *PanelStore) GetByDateRange(_ context.Context, start, end time.Time) ([]domain.DailyObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DailyObservation
	for _, r := range s.rows {
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, r)
	}
	domain.SortObservations(out)
	return out, nil
}
