package guardx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisGuard counts attempts in fixed windows with INCR + EXPIRE. Counters
// live in Redis so every instance of the service shares one budget per
// (action, key).
type RedisGuard struct {
	rdb     *redis.Client
	def     Window
	actions map[string]Window
	prefix  string
}

// NewRedisGuard builds a Redis-backed guard. The prefix namespaces keys so
// several services can share one Redis.
func NewRedisGuard(rdb *redis.Client, prefix string, def Window, actions map[string]Window) *RedisGuard {
	if prefix == "" {
		prefix = "guard"
	}
	return &RedisGuard{
		rdb:     rdb,
		def:     def,
		actions: actions,
		prefix:  prefix,
	}
}

// CheckAndRecord increments the window counter and compares it to the
// budget. Redis being unreachable is an error, not a silent allow.
func (g *RedisGuard) CheckAndRecord(ctx context.Context, action, key string) (Decision, error) {
	w := g.window(action)
	counterKey := fmt.Sprintf("%s:%s:%s", g.prefix, action, key)

	count, err := g.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("guardx: redis incr failed: %w", err)
	}

	// First attempt in a window starts its expiry clock.
	if count == 1 {
		if err := g.rdb.Expire(ctx, counterKey, w.Span).Err(); err != nil {
			return Decision{}, fmt.Errorf("guardx: redis expire failed: %w", err)
		}
	}

	if count <= int64(w.Requests) {
		return Decision{Allowed: true}, nil
	}

	retryAfter := w.Span
	if ttl, err := g.rdb.TTL(ctx, counterKey).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}

	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func (g *RedisGuard) window(action string) Window {
	if w, ok := g.actions[action]; ok {
		return w
	}
	return g.def
}
