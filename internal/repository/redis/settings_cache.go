package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

const (
	settingsPrefix = "detection_settings:"
	settingsTTL    = 10 * time.Minute
)

// settingsStore is the key/value surface the cache needs from Redis.
type settingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SettingsCache fronts the versioned detection settings store. A stale read
// costs at most one detection run on the previous version; writers invalidate
// on every version bump.
type SettingsCache struct {
	client settingsStore
}

func NewSettingsCache(client *client.RedisClient) *SettingsCache {
	return &SettingsCache{client: client}
}

func (c *SettingsCache) GetSettings(category models.RadioCategory) (*models.DetectionSettings, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := settingsPrefix + string(category)
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, fmt.Errorf("settings not cached for category: %s", category)
		}
		util.Error("Failed to get cached settings",
			zap.String("category", string(category)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get cached settings: %w", err)
	}

	var settings models.DetectionSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		util.Error("Failed to unmarshal cached settings",
			zap.String("category", string(category)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal cached settings: %w", err)
	}
	return &settings, nil
}

func (c *SettingsCache) SetSettings(settings *models.DetectionSettings) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	key := settingsPrefix + string(settings.Category)
	if err := c.client.Set(ctx, key, string(raw), settingsTTL); err != nil {
		util.Error("Failed to cache settings",
			zap.String("category", string(settings.Category)),
			zap.Int("version", settings.Version),
			zap.Error(err))
		return fmt.Errorf("failed to cache settings: %w", err)
	}

	util.Debug("Settings cached",
		zap.String("category", string(settings.Category)),
		zap.Int("version", settings.Version))
	return nil
}

func (c *SettingsCache) InvalidateSettings(category models.RadioCategory) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := settingsPrefix + string(category)
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to invalidate cached settings",
			zap.String("category", string(category)),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate cached settings: %w", err)
	}

	util.Debug("Settings cache invalidated", zap.String("category", string(category)))
	return nil
}
