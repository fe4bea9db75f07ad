package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisReceiptCache struct {
	client *redis.Client
}

func NewRedisReceiptCache(addr string, password string, db int) *RedisReceiptCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, saleID int64) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(saleID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, saleID int64, ticket []byte, ttl time.Duration) error {
	if len(ticket) == 0 {
		return nil
	}
	return c.client.Set(ctx, receiptKey(saleID), ticket, ttl).Err()
}

func receiptKey(saleID int64) string {
	return fmt.Sprintf("receipt:%d", saleID)
}
