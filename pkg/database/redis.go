package database

import (
	"context"
	"fmt"
	"time"

	"ephemeral_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// NewRedisClient init redis connection, 失敗時依 RetryCount 重試
func NewRedisClient(c RedisConnection) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	attempts := c.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		// 测试连接
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return rdb, nil
		}
		logger.Log.Warn(
			"Failed to connect to redis, retrying...",
			zap.Int("attempt", i+1),
			zap.String("address", c.Addr),
			zap.Error(err),
		)
		if i < attempts-1 {
			time.Sleep(c.RetryInterval)
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis %s: %w", c.Addr, err)
}

// RedisStorage 實作 fiber.Storage, 給 limiter 等 middleware 共用計數
type RedisStorage struct {
	client *redis.Client
	prefix string
}

var _ fiber.Storage = (*RedisStorage)(nil)

// NewRedisStorage create RedisStorage, key 會加上 prefix
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// Get 找不到 key 時回傳 nil, nil
func (s *RedisStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set exp 為 0 表示不過期
func (s *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, val, exp).Err()
}

// Delete delete key
func (s *RedisStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Reset 刪除所有 prefix 底下的 key
func (s *RedisStorage) Reset() error {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis reset: %w", err)
		}
	}
	return iter.Err()
}

// Close close redis connection
func (s *RedisStorage) Close() error {
	if err := s.client.Close(); err != nil {
		logger.Log.Error("close redis storage", zap.Error(err))
		return err
	}
	return nil
}
