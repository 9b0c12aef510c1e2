package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"optikpos/backend/internal/domain"
)

type RedisInvoiceCache struct {
	client *redis.Client
}

func NewRedisInvoiceCache(addr string, password string, db int) *RedisInvoiceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInvoiceCache{client: client}
}

func (c *RedisInvoiceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInvoiceCache) Close() error {
	return c.client.Close()
}

func (c *RedisInvoiceCache) Get(ctx context.Context, key string) (*domain.InvoiceResponse, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.InvoiceResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisInvoiceCache) Set(ctx context.Context, key string, value *domain.InvoiceResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisInvoiceCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
