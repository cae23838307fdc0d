package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guptaai/internal/model"

	"github.com/go-redis/redis/v8"
)

// globEscaper 转义 SCAN MATCH 中有特殊含义的字符。
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// redisTabCache 把每个标签页的工作副本以 JSON 存在 Redis 中，并带有 TTL，
// 这样被遗弃的标签页会自动过期。
type redisTabCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	limit       int
}

// NewRedisTabCache 创建基于 Redis 的标签页缓存。
func NewRedisTabCache(redisClient *redis.Client, ttl time.Duration, limit int) ConversationStore {
	return &redisTabCache{redisClient: redisClient, ttl: ttl, limit: limit}
}

func (r *redisTabCache) Get(ctx context.Context, key string) (model.Conversation, error) {
	data, err := r.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tab cache: %w", err)
	}
	return model.DecodeConversation(data)
}

func (r *redisTabCache) Set(ctx context.Context, key string, conv model.Conversation) error {
	data, err := encodeConversation(conv, r.limit)
	if err != nil {
		return err
	}
	if err := r.redisClient.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set tab cache: %w", err)
	}
	return nil
}

func (r *redisTabCache) Remove(ctx context.Context, key string) error {
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete tab cache: %w", err)
	}
	return nil
}

// RemovePrefix 用 SCAN 找出匹配前缀的 key 再批量删除，避免 KEYS 阻塞 Redis。
// 前缀按字面匹配，其中的通配符会先被转义。
func (r *redisTabCache) RemovePrefix(ctx context.Context, prefix string) error {
	var keys []string
	iter := r.redisClient.Scan(ctx, 0, globEscaper.Replace(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan tab cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete tab cache: %w", err)
	}
	return nil
}
