package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// onlineKeyPrefix 在线标记前缀: chat:presence:{user_id}
	onlineKeyPrefix = "chat:presence:"

	// DefaultTTL 在线标记默认过期时间
	// 取心跳间隔的三倍：漏掉连续心跳的客户端会被判定为离线
	DefaultTTL = 90 * time.Second
)

// BuildOnlineKey 构建在线标记 Key
func BuildOnlineKey(userID string) string {
	return onlineKeyPrefix + userID
}

// Cache 在线状态缓存（Redis TTL Key）
// 资料表里的 online 字段是展示层事实，这里的 TTL Key 用于判定失联：
// 客户端崩溃后不再续期，Key 过期即视为离线
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache 创建在线状态缓存
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Refresh 续期在线标记（每次心跳调用）
func (c *Cache) Refresh(ctx context.Context, userID string) error {
	return c.rdb.Set(ctx, BuildOnlineKey(userID), "1", c.ttl).Err()
}

// Clear 清除在线标记（主动下线）
func (c *Cache) Clear(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, BuildOnlineKey(userID)).Err()
}

// IsOnline 检查用户是否在线
func (c *Cache) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := c.rdb.Exists(ctx, BuildOnlineKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
