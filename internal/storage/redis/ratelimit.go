package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

// RateLimiter is a fixed window request counter shared by every API replica.
type RateLimiter struct {
	client redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// NewRateLimiter allows limit requests per key in each period.
func NewRateLimiter(client redis.Cmdable, prefix string, limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, max: limit, window: period}
}

// Allow increments the counter of key's current window.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	}); err != nil {
		return httpmiddleware.Decision{}, fmt.Errorf("redis rate limit %q: %w", key, err)
	}

	n := int(incr.Val())
	return httpmiddleware.Decision{
		Allowed:   n <= l.max,
		Remaining: max(0, l.max-n),
		ResetAt:   start.Add(l.window),
	}, nil
}
