package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"unibox/backend/internal/timeline"
)

// ErrKeyNotFound 键不存在
var ErrKeyNotFound = errors.New("key not found in cache")

// Cache Redis 缓存实现。
//
// 时间线快照写穿缓存：内存时间线是权威副本，Redis 只为
// 进程重启与多副本预热服务，读不到时上层从数据库归档回填。
// 同时承载 JWT 黑名单与限流计数。
type Cache struct {
	client      *goredis.Client
	ctx         context.Context
	snapshotTTL time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *Client, snapshotTTL time.Duration) *Cache {
	if snapshotTTL <= 0 {
		snapshotTTL = 24 * time.Hour
	}
	return &Cache{
		client:      client.Client(),
		ctx:         context.Background(),
		snapshotTTL: snapshotTTL,
	}
}

// ========== 时间线快照 ==========

func snapshotKey(userID string) string {
	return fmt.Sprintf("timeline:%s:snapshot", userID)
}

// SaveSnapshot 写入时间线快照
func (c *Cache) SaveSnapshot(snapshot *timeline.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, snapshotKey(snapshot.UserID), data, c.snapshotTTL).Err()
}

// LoadSnapshot 读取时间线快照，不存在时返回 (nil, nil)
func (c *Cache) LoadSnapshot(userID string) (*timeline.Snapshot, error) {
	data, err := c.client.Get(c.ctx, snapshotKey(userID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var snapshot timeline.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		// 旧版本序列化格式当缓存未命中处理
		return nil, nil
	}
	return &snapshot, nil
}

// DeleteSnapshot 删除时间线快照
func (c *Cache) DeleteSnapshot(userID string) error {
	return c.client.Del(c.ctx, snapshotKey(userID)).Err()
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 加入 JWT 黑名单
func (c *Cache) AddToBlacklist(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // 已过期的令牌无需拉黑
	}
	key := fmt.Sprintf("jwt:blacklist:%s", jti)
	return c.client.Set(c.ctx, key, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (c *Cache) IsBlacklisted(jti string) (bool, error) {
	key := fmt.Sprintf("jwt:blacklist:%s", jti)
	n, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ========== 限流计数 ==========

// IncrementRateLimit 自增限流计数器，首次自增时设置窗口过期
func (c *Cache) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	count, err := c.client.Incr(c.ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.client.Expire(c.ctx, redisKey, window)
	}
	return count, nil
}

// GetRateLimit 获取限流计数
func (c *Cache) GetRateLimit(key string) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	count, err := c.client.Get(c.ctx, redisKey).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return count, err
}

// ========== 通用键值 ==========

// SetValue 写入通用键值（调试与前端轻量状态用）
func (c *Cache) SetValue(key, value string, ttl time.Duration) error {
	return c.client.Set(c.ctx, fmt.Sprintf("kv:%s", key), value, ttl).Err()
}

// GetValue 读取通用键值
func (c *Cache) GetValue(key string) (string, error) {
	value, err := c.client.Get(c.ctx, fmt.Sprintf("kv:%s", key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

// DeleteValue 删除通用键值
func (c *Cache) DeleteValue(key string) error {
	return c.client.Del(c.ctx, fmt.Sprintf("kv:%s", key)).Err()
}
