package store

import (
	"context"
	"sync"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
)

// CacheKeyPrefix versions the persisted history format. Bump it to
// invalidate every identity's cache at once.
const CacheKeyPrefix = "solana_forge_history_v2_"

// CacheKey returns the storage key for an identity's history.
func CacheKey(identity string) string {
	return CacheKeyPrefix + identity
}

// HistoryStore persists the reconstructed activity history per identity.
// Load returns (nil, nil) when no history has been saved yet.
type HistoryStore interface {
	Load(ctx context.Context, identity string) ([]model.ActivityRecord, error)
	Save(ctx context.Context, identity string, records []model.ActivityRecord) error
	Clear(ctx context.Context, identity string) error
	Close() error
}

// MemoryStore is the in-process HistoryStore used for tests and for
// deployments that can afford to refetch on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]model.ActivityRecord
}

var _ HistoryStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]model.ActivityRecord)}
}

func (s *MemoryStore) Load(_ context.Context, identity string) ([]model.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.records[CacheKey(identity)]
	if !ok {
		return nil, nil
	}
	out := make([]model.ActivityRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, identity string, records []model.ActivityRecord) error {
	stored := make([]model.ActivityRecord, len(records))
	copy(stored, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[CacheKey(identity)] = stored
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, CacheKey(identity))
	return nil
}

func (s *MemoryStore) Close() error { return nil }
