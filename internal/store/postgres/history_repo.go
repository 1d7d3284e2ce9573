package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/store"
)

// HistoryStore persists per-identity history as a JSONB row keyed by the
// versioned cache key.
type HistoryStore struct {
	db *sql.DB
}

var _ store.HistoryStore = (*HistoryStore)(nil)

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Load(ctx context.Context, identity string) ([]model.ActivityRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT records FROM history_cache WHERE cache_key = $1`,
		store.CacheKey(identity),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_cache (cache_key, records, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (cache_key)
		 DO UPDATE SET records = EXCLUDED.records, updated_at = now()`,
		store.CacheKey(identity), raw,
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

func (s *HistoryStore) Clear(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM history_cache WHERE cache_key = $1`,
		store.CacheKey(identity),
	); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
