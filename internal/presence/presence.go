package presence

import (
	"context"
	"sync"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// Store keeps the last known presence status of each user. Unknown users are offline.
type Store interface {
	Status(ctx context.Context, userID string) (models.Status, error)
	SetStatus(ctx context.Context, userID string, status models.Status) error
}

// MemoryStore is used when no Redis is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]models.Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: map[string]models.Status{}}
}

func (m *MemoryStore) Status(_ context.Context, userID string) (models.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.statuses[userID]; ok {
		return s, nil
	}
	return models.StatusOffline, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, userID string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == models.StatusOffline {
		delete(m.statuses, userID)
		return nil
	}
	m.statuses[userID] = status
	return nil
}
