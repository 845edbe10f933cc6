package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// sessionInfoPrefix 会话信息前缀: chat:session:{token} -> Principal JSON
	sessionInfoPrefix = "chat:session:"
	// userSessionPrefix 用户会话前缀: chat:user:session:{user_id} -> token
	userSessionPrefix = "chat:user:session:"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionCache 会话缓存（Redis）
type SessionCache struct {
	rdb *redis.Client
}

// NewSessionCache 创建会话缓存
func NewSessionCache(rdb *redis.Client) *SessionCache {
	return &SessionCache{rdb: rdb}
}

func buildSessionInfoKey(token string) string {
	return sessionInfoPrefix + token
}

func buildUserSessionKey(userID string) string {
	return fmt.Sprintf("%s%s", userSessionPrefix, userID)
}

// Save 保存会话
// 1. chat:session:{token} -> Principal JSON
// 2. chat:user:session:{user_id} -> token
func (c *SessionCache) Save(ctx context.Context, p *Principal, token string, expiration time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal principal: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, buildSessionInfoKey(token), data, expiration)
	pipe.Set(ctx, buildUserSessionKey(p.ID), token, expiration)
	_, err = pipe.Exec(ctx)
	return err
}

// Get 按令牌取回认证主体
func (c *SessionCache) Get(ctx context.Context, token string) (*Principal, error) {
	data, err := c.rdb.Get(ctx, buildSessionInfoKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var p Principal
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principal: %w", err)
	}
	return &p, nil
}

// Delete 删除会话（登出）
func (c *SessionCache) Delete(ctx context.Context, userID, token string) error {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, buildSessionInfoKey(token))
	pipe.Del(ctx, buildUserSessionKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}
