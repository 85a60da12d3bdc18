// Package redis holds buyer carts, idempotency keys and rate limit counters in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient parses url (redis://...) and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return c, nil
}

// CartStore clears carts stored under cart:<userID>.
type CartStore struct {
	client redis.Cmdable
}

// NewCartStore returns a CartStore using client.
func NewCartStore(client redis.Cmdable) *CartStore {
	return &CartStore{client: client}
}

// Clear deletes the buyer's cart. Deleting a missing cart succeeds.
func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// IdempotencyStore claims keys with SET NX.
type IdempotencyStore struct {
	client redis.Cmdable
	prefix string
}

// NewIdempotencyStore returns an IdempotencyStore namespacing keys with prefix.
func NewIdempotencyStore(client redis.Cmdable, prefix string) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: prefix}
}

// Claim returns true the first time key is claimed within ttl.
func (s *IdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %q: %w", key, err)
	}
	return ok, nil
}

// Release forgets key so that the next delivery is processed again.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}
