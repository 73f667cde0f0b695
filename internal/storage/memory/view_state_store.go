package memory

import (
	"context"
	"sync"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/storage"
)

// ViewStateStore is an in-memory implementation of storage.ViewStateStore.
type ViewStateStore struct {
	mu   sync.RWMutex
	data map[domain.Module]domain.ViewState
}

// NewViewStateStore creates a new in-memory view-state store.
func NewViewStateStore() *ViewStateStore {
	return &ViewStateStore{
		data: make(map[domain.Module]domain.ViewState),
	}
}

// Save upserts the view-state of a module.
func (s *ViewStateStore) Save(_ context.Context, module domain.Module, vs domain.ViewState) error {
	if module == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[module] = vs
	return nil
}

// Get retrieves the view-state of a module.
func (s *ViewStateStore) Get(_ context.Context, module domain.Module) (domain.ViewState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs, ok := s.data[module]
	if !ok {
		return domain.ViewState{}, storage.ErrNotFound
	}
	return vs, nil
}

// GetAll retrieves every saved view-state.
func (s *ViewStateStore) GetAll(_ context.Context) (map[domain.Module]domain.ViewState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Module]domain.ViewState, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

var _ storage.ViewStateStore = (*ViewStateStore)(nil)
