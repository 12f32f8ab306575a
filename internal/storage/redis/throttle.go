package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/cookie_auth/internal/util"
)

// Throttle is a fixed-window rate limiter keyed by scope and client identity.
// Scopes with a BlockTime stay closed for that long once their limit is exceeded.
type Throttle struct {
	client redis.Cmdable
	cfg    *util.ThrottleConfig
}

func NewThrottle(client redis.Cmdable, cfg *util.ThrottleConfig) *Throttle {
	return &Throttle{client: client, cfg: cfg}
}

// Allow counts one hit for ident in scope. When it returns false the caller should retry after the returned duration.
func (t *Throttle) Allow(ctx context.Context, scope, ident string) (bool, time.Duration, error) {
	rule, ok := t.cfg.Scopes[scope]
	if !ok || rule.Limit <= 0 {
		return true, 0, nil
	}

	blockKey := t.cfg.KeyPrefix + "throttle:block:" + scope + ":" + ident
	if rule.BlockTime > 0 {
		ttl, err := t.client.TTL(ctx, blockKey).Result()
		if err != nil {
			return false, 0, fmt.Errorf("throttle block ttl: %w", err)
		}
		if ttl > 0 {
			return false, ttl, nil
		}
	}

	key := t.cfg.KeyPrefix + "throttle:" + scope + ":" + ident
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, rule.Interval).Err(); err != nil {
			return false, 0, fmt.Errorf("throttle expire: %w", err)
		}
	}

	if count <= int64(rule.Limit) {
		return true, 0, nil
	}

	if rule.BlockTime > 0 {
		if err := t.client.Set(ctx, blockKey, 1, rule.BlockTime).Err(); err != nil {
			return false, 0, fmt.Errorf("throttle block: %w", err)
		}
		return false, rule.BlockTime, nil
	}

	ttl, err := t.client.TTL(ctx, key).Result()
	if err != nil {
		return false, rule.Interval, nil
	}
	if ttl < 0 {
		// A counter without expiry would keep the window closed forever.
		if err := t.client.Expire(ctx, key, rule.Interval).Err(); err != nil {
			return false, 0, fmt.Errorf("throttle expire: %w", err)
		}
		return false, rule.Interval, nil
	}
	return false, ttl, nil
}
