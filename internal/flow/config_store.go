package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/flowbot/internal/domain"
)

// ConfigStore persists the single active flow. Saving replaces it; the most
// recently saved flow is the active one.
type ConfigStore interface {
	// SaveFlow stores f as the active flow and returns the stored record.
	SaveFlow(ctx context.Context, f *domain.Flow) (*domain.Flow, error)

	// ActiveFlow returns the active flow, or domain.ErrNoFlow.
	ActiveFlow(ctx context.Context) (*domain.Flow, error)
}

// MemoryConfigStore is an in-memory ConfigStore implementation.
type MemoryConfigStore struct {
	mu     sync.RWMutex
	active *domain.Flow
	now    func() time.Time
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{now: time.Now}
}

func (s *MemoryConfigStore) SaveFlow(_ context.Context, f *domain.Flow) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = domain.MergeRecord(s.active, f, uuid.NewString(), s.now().UTC())
	return s.active, nil
}

func (s *MemoryConfigStore) ActiveFlow(_ context.Context) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, domain.ErrNoFlow
	}
	return s.active, nil
}
