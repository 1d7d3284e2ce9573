package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/store"
)

// HistoryStore keeps per-identity history as a JSON blob in Redis so that
// multiple indexer replicas share one cache.
type HistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ store.HistoryStore = (*HistoryStore)(nil)

func NewHistoryStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*HistoryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &HistoryStore{client: client, ttl: ttl}, nil
}

func (s *HistoryStore) Load(ctx context.Context, identity string) ([]model.ActivityRecord, error) {
	raw, err := s.client.Get(ctx, store.CacheKey(identity)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var records []model.ActivityRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", identity, err)
	}
	return records, nil
}

func (s *HistoryStore) Save(ctx context.Context, identity string, records []model.ActivityRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode history for %s: %w", identity, err)
	}
	if err := s.client.Set(ctx, store.CacheKey(identity), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *HistoryStore) Clear(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, store.CacheKey(identity)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *HistoryStore) Close() error {
	return s.client.Close()
}
