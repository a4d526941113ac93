package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldown реализует domain.Cooldown через Redis SETNX.
type RedisCooldown struct {
	client *redis.Client
}

// NewRedisCooldown создаёт ограничитель частоты.
func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{client: client}
}

// Allow возвращает true, если ключ свободен, и занимает его на ttl.
func (c *RedisCooldown) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}

// Once выполняет функцию, если ключ ещё не задан.
func (c *RedisCooldown) Once(key string, ttl time.Duration, fn func() error) error {
	ctx := context.Background()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}
