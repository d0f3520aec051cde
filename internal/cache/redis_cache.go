package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisPriceCache struct {
	client *redis.Client
}

func NewRedisPriceCache(addr string, password string, db int) *RedisPriceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPriceCache{client: client}
}

func (c *RedisPriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPriceCache) Close() error {
	return c.client.Close()
}

func (c *RedisPriceCache) Get(ctx context.Context, productID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, priceKey(productID)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	amount, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount, true, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, productID string, amount decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, priceKey(productID), amount.String(), ttl).Err()
}

func (c *RedisPriceCache) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, priceKey(productID)).Err()
}

func priceKey(productID string) string {
	return "price:" + productID
}
