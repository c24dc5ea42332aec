package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntitlementCache 权益状态缓存
// 状态接口的读多写少，短 TTL 缓存降低 Firestore 读取量。
// 提交或动态变更后必须失效，保证网关判定不落后于权威状态
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEntitlementCache 创建缓存实例
func NewEntitlementCache(client *redis.Client, ttl time.Duration) *EntitlementCache {
	return &EntitlementCache{client: client, ttl: ttl}
}

// CachedStatus 缓存的状态响应
type CachedStatus struct {
	IsActive  bool   `json:"is_active"`
	Tier      string `json:"tier"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func statusKey(userID string) string {
	return fmt.Sprintf("entitlement_status:%s", userID)
}

// GetStatus 读取缓存，未命中返回 (nil, nil)
func (c *EntitlementCache) GetStatus(ctx context.Context, userID string) (*CachedStatus, error) {
	data, err := c.client.Get(ctx, statusKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var status CachedStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetStatus 写入缓存
func (c *EntitlementCache) SetStatus(ctx context.Context, userID string, status *CachedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(userID), data, c.ttl).Err()
}

// Invalidate 使缓存失效
func (c *EntitlementCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, statusKey(userID)).Err()
}
