package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
)

type fakeCacheStore struct {
	entries map[string][]byte
	setTTL  time.Duration
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string][]byte)}
}

func (f *fakeCacheStore) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeCacheStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = data
	f.setTTL = ttl
	return nil
}

func (f *fakeCacheStore) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range f.entries {
		delete(f.entries, key)
	}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	store := newFakeCacheStore()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	var out map[string]int
	hit, err := cache.Get(ctx, "courses:all", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "courses:all", map[string]int{"total": 3}, 0))
	assert.Equal(t, time.Minute, store.setTTL)

	hit, err = cache.Get(ctx, "courses:all", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, out["total"])

	require.NoError(t, cache.Invalidate(ctx, "courses:*"))
	hit, err = cache.Get(ctx, "courses:all", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServiceDisabled(t *testing.T) {
	store := newFakeCacheStore()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), false)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "courses:all", "value", 0))
	assert.Empty(t, store.entries)

	hit, err := cache.Get(ctx, "courses:all", new(string))
	require.NoError(t, err)
	assert.False(t, hit)

	// nil service is safe to call
	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
}
