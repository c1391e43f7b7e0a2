package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

const (
	exclusionPrefix = "exclusion_set:"
	exclusionTTL    = 30 * time.Minute
)

// ExclusionCache mirrors the whitelist and owned-device lists as Redis sets
// so the detector can check membership without a store round trip per
// identity. Warmed from the store at scan start, invalidated on writes.
type ExclusionCache struct {
	client *client.RedisClient
}

func NewExclusionCache(client *client.RedisClient) *ExclusionCache {
	return &ExclusionCache{client: client}
}

// WarmList replaces the cached set with the authoritative membership.
func (c *ExclusionCache) WarmList(list string, bssids []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := exclusionPrefix + list

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(bssids) > 0 {
		members := make([]interface{}, 0, len(bssids))
		for _, b := range bssids {
			members = append(members, b)
		}
		pipe.SAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, exclusionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to warm exclusion list",
			zap.String("list", list),
			zap.Int("size", len(bssids)),
			zap.Error(err))
		return fmt.Errorf("failed to warm exclusion list: %w", err)
	}

	util.Debug("Exclusion list warmed",
		zap.String("list", list),
		zap.Int("size", len(bssids)))
	return nil
}

func (c *ExclusionCache) AddMember(list, bssid string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := exclusionPrefix + list
	if err := c.client.SAdd(ctx, key, bssid); err != nil {
		util.Error("Failed to add exclusion member",
			zap.String("list", list),
			zap.String("bssid", bssid),
			zap.Error(err))
		return fmt.Errorf("failed to add exclusion member: %w", err)
	}
	return nil
}

func (c *ExclusionCache) RemoveMember(list, bssid string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := exclusionPrefix + list
	if err := c.client.SRem(ctx, key, bssid); err != nil {
		util.Error("Failed to remove exclusion member",
			zap.String("list", list),
			zap.String("bssid", bssid),
			zap.Error(err))
		return fmt.Errorf("failed to remove exclusion member: %w", err)
	}
	return nil
}
