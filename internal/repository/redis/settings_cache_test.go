package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

var errStoreDown = errors.New("connection refused")

// fakeSettingsStore is an in-memory settingsStore. Misses surface as the
// client sentinel, exactly as RedisClient.Get reports them.
type fakeSettingsStore struct {
	values map[string]string
	down   bool
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{values: make(map[string]string)}
}

func (s *fakeSettingsStore) Get(ctx context.Context, key string) (string, error) {
	if s.down {
		return "", errStoreDown
	}
	val, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	return val, nil
}

func (s *fakeSettingsStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.down {
		return errStoreDown
	}
	s.values[key] = value.(string)
	return nil
}

func (s *fakeSettingsStore) Del(ctx context.Context, keys ...string) error {
	if s.down {
		return errStoreDown
	}
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestSettingsCacheRoundTrip(t *testing.T) {
	store := newFakeSettingsStore()
	cache := &SettingsCache{client: store}

	settings := models.DefaultSettings(models.CategoryWiFi)
	settings.Version = 3
	settings.MinAwayDistanceM = 2000
	require.NoError(t, cache.SetSettings(&settings))

	cached, err := cache.GetSettings(models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryWiFi, cached.Category)
	assert.Equal(t, 3, cached.Version)
	assert.Equal(t, 2000.0, cached.MinAwayDistanceM)
}

func TestSettingsCacheMissIsDistinctFromFailure(t *testing.T) {
	store := newFakeSettingsStore()
	cache := &SettingsCache{client: store}

	_, err := cache.GetSettings(models.CategoryWiFi)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not cached")

	store.down = true
	_, err = cache.GetSettings(models.CategoryWiFi)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get cached settings")
	assert.ErrorIs(t, err, errStoreDown)
}

func TestSettingsCacheInvalidate(t *testing.T) {
	store := newFakeSettingsStore()
	cache := &SettingsCache{client: store}

	settings := models.DefaultSettings(models.CategoryBluetooth)
	require.NoError(t, cache.SetSettings(&settings))
	require.NoError(t, cache.InvalidateSettings(models.CategoryBluetooth))

	_, err := cache.GetSettings(models.CategoryBluetooth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not cached")
}
