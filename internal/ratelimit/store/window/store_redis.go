package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"govid/internal/ratelimit/models"
	"govid/pkg/requestcontext"
)

// incrementScript counts a request and starts the window on the first one.
// A key left without a TTL (crash between INCR and PEXPIRE on an older
// script) is repaired on the next call. Returns {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares counters across instances. Expiry is delegated to Redis
// key TTLs, so it needs no sweeper.
type RedisStore struct {
	client redis.Scripter
}

func NewRedis(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Increment counts one request atomically. Denied requests still increment
// the key, which only affects the reported count, never the window length.
func (s *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	vals, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("increment rate limit counter: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("increment rate limit counter: unexpected reply length %d", len(vals))
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond

	resetAt := requestcontext.Now(ctx).Add(ttl)
	if count > limit {
		return &models.Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	return &models.Result{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: resetAt}, nil
}
