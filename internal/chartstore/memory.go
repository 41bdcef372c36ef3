package chartstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default store when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	charts map[string]Chart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{charts: map[string]Chart{}}
}

func (s *MemoryStore) Create(ctx context.Context, data json.RawMessage) (Chart, error) {
	now := time.Now().UTC()
	chart := Chart{
		ID:        uuid.NewString(),
		Data:      append(json.RawMessage(nil), data...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.charts[chart.ID] = chart
	s.mu.Unlock()
	return chart, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chart, ok := s.charts[id]
	if !ok {
		return Chart{}, ErrNotFound
	}
	return chart, nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	charts := make([]Chart, 0, len(s.charts))
	for _, chart := range s.charts {
		charts = append(charts, chart)
	}
	sort.Slice(charts, func(i, j int) bool { return charts[i].CreatedAt.Before(charts[j].CreatedAt) })
	return charts, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, data json.RawMessage) (Chart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chart, ok := s.charts[id]
	if !ok {
		return Chart{}, ErrNotFound
	}
	chart.Data = append(json.RawMessage(nil), data...)
	chart.UpdatedAt = time.Now().UTC()
	s.charts[id] = chart
	return chart, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.charts[id]; !ok {
		return ErrNotFound
	}
	delete(s.charts, id)
	return nil
}
