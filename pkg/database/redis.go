package database

import (
	"context"
	"time"

	"guptaai/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 承载标签页缓存、token 黑名单、人设覆盖和 Kafka 重试计数。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，连接失败时退出。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infow("Redis client connected", "addr", addr, "db", db)
}
