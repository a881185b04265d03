package levels

import (
	"context"
	"time"

	"smc-trading-bot/internal/cache"
)

// JSONStore is the subset of cache.CacheService the mirror needs
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisMirror stores level sets under levels:<asset>:<date>
type RedisMirror struct {
	store JSONStore
	ttl   time.Duration
}

// NewRedisMirror wraps a JSON cache
func NewRedisMirror(store JSONStore) *RedisMirror {
	return &RedisMirror{store: store, ttl: cache.DefaultLevelsTTL}
}

func (m *RedisMirror) Load(ctx context.Context, asset, date string) (*LevelSet, error) {
	var set LevelSet
	if err := m.store.GetJSON(ctx, cache.LevelsKey(asset, date), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (m *RedisMirror) Store(ctx context.Context, set LevelSet) error {
	return m.store.SetJSON(ctx, cache.LevelsKey(set.Asset, set.AsOf), set, m.ttl)
}

var _ Mirror = (*RedisMirror)(nil)
